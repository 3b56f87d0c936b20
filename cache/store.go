package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	iofs "io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/workflow"
)

// Store is one cache tier. Keys are write-once: Put under an existing key
// returns the stored entry untouched.
type Store interface {
	// Get looks up a key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) (*Entry, bool, error)
	// Put captures the task's outputs from the workspace under key.
	Put(ctx context.Context, key string, task *workflow.Task) (*Entry, error)
	// Restore writes an entry's outputs back into the workspace.
	Restore(entry *Entry) error
}

// Entry records one cached task result.
type Entry struct {
	Key     string      `json:"key"`
	Task    string      `json:"task"`
	Created time.Time   `json:"created"`
	Outputs []string    `json:"outputs"`
	Files   []EntryFile `json:"files"`
}

// EntryFile is one captured file: workspace path, permission bits and the
// blob holding its content.
type EntryFile struct {
	Path string `json:"path"`
	Mode uint32 `json:"mode"`
	Size int64  `json:"size"`
	Sum  string `json:"sum"`
}

// DirStore is the local tier: a content-addressed directory with entry
// records under entries/ and file contents under blobs/, both sharded by the
// first two hex digits.
type DirStore struct {
	fsys fs.FileSystem
	root string
}

// NewDirStore opens the store rooted at root. The directory is created lazily
// on first Put.
func NewDirStore(fsys fs.FileSystem, root string) *DirStore {
	return &DirStore{fsys: fsys, root: root}
}

// Root returns the store directory.
func (s *DirStore) Root() string { return s.root }

func (s *DirStore) entryPath(key string) string {
	return filepath.Join(s.root, "entries", shard(key), key+".json")
}

func (s *DirStore) blobPath(sum string) string {
	return filepath.Join(s.root, "blobs", shard(sum), sum)
}

func shard(sum string) string {
	if len(sum) < 2 {
		return "xx"
	}
	return sum[:2]
}

// Get returns the entry for key. A damaged entry, unreadable or with missing
// blobs, is dropped and reported as a miss so the task reruns and
// repopulates it.
func (s *DirStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := s.fsys.ReadFile(s.entryPath(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &workflow.CacheError{Op: "get", Key: key, Err: err}
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.fsys.Remove(s.entryPath(key))
		return nil, false, nil
	}
	for _, f := range entry.Files {
		if _, err := s.fsys.Stat(s.blobPath(f.Sum)); err != nil {
			s.fsys.Remove(s.entryPath(key))
			return nil, false, nil
		}
	}
	return &entry, true, nil
}

// Put captures the task's outputs. Blobs land before the entry record, so an
// interrupted Put leaves at worst orphan blobs for GC to sweep, never a
// dangling entry.
func (s *DirStore) Put(ctx context.Context, key string, task *workflow.Task) (*Entry, error) {
	if entry, ok, err := s.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return entry, nil
	}

	entry := &Entry{
		Key:     key,
		Task:    task.Name,
		Created: time.Now().UTC(),
	}
	for _, out := range workflow.SortedArtifacts(task.Outputs) {
		entry.Outputs = append(entry.Outputs, out.String())
		if !out.Dir {
			f, err := s.captureFile(out.Path)
			if err != nil {
				return nil, &workflow.CacheError{Op: "put", Key: key, Err: err}
			}
			entry.Files = append(entry.Files, f)
			continue
		}
		err := s.fsys.WalkDir(out.Path, func(path string, d iofs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			f, err := s.captureFile(path)
			if err != nil {
				return err
			}
			entry.Files = append(entry.Files, f)
			return nil
		})
		if err != nil {
			return nil, &workflow.CacheError{Op: "put", Key: key, Err: err}
		}
	}

	if err := s.writeEntry(entry); err != nil {
		return nil, &workflow.CacheError{Op: "put", Key: key, Err: err}
	}
	return entry, nil
}

// captureFile copies one output file into the blob store.
func (s *DirStore) captureFile(path string) (EntryFile, error) {
	content, err := s.fsys.ReadFile(path)
	if err != nil {
		return EntryFile{}, errors.Wrapf(err, "failed to read output %s", path)
	}
	info, err := s.fsys.Stat(path)
	if err != nil {
		return EntryFile{}, err
	}
	sumBytes := blake3.Sum256(content)
	sum := hex.EncodeToString(sumBytes[:])
	if err := s.writeBlob(sum, content); err != nil {
		return EntryFile{}, err
	}
	return EntryFile{
		Path: filepath.ToSlash(path),
		Mode: uint32(info.Mode().Perm()),
		Size: int64(len(content)),
		Sum:  sum,
	}, nil
}

// writeBlob lands content at its addressed path, temp file then rename. A
// lost rename race against a worker writing the same blob is a success, the
// bytes are identical.
func (s *DirStore) writeBlob(sum string, content []byte) error {
	path := s.blobPath(sum)
	if _, err := s.fsys.Stat(path); err == nil {
		return nil
	}
	if err := s.fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := s.fsys.WriteFile(tmp, content, 0644); err != nil {
		return err
	}
	if err := s.fsys.Rename(tmp, path); err != nil {
		if _, statErr := s.fsys.Stat(path); statErr == nil {
			return nil
		}
		return err
	}
	return nil
}

func (s *DirStore) writeEntry(entry *Entry) error {
	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	path := s.entryPath(entry.Key)
	if err := s.fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := s.fsys.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return s.fsys.Rename(tmp, path)
}

// Restore rewrites the entry's outputs into the workspace. Directory outputs
// are cleared first so the result is byte-identical to the recorded run.
func (s *DirStore) Restore(entry *Entry) error {
	for _, raw := range entry.Outputs {
		art, err := workflow.ParseArtifact(raw)
		if err != nil {
			return &workflow.CacheError{Op: "restore", Key: entry.Key, Err: err}
		}
		if !art.Dir {
			continue
		}
		if err := s.fsys.RemoveAll(art.Path); err != nil {
			return &workflow.CacheError{Op: "restore", Key: entry.Key, Err: err}
		}
		if err := s.fsys.MkdirAll(art.Path, 0755); err != nil {
			return &workflow.CacheError{Op: "restore", Key: entry.Key, Err: err}
		}
	}
	for _, f := range entry.Files {
		if err := s.restoreFile(f); err != nil {
			return &workflow.CacheError{Op: "restore", Key: entry.Key, Err: err}
		}
	}
	return nil
}

// restoreFile writes one cached file back with its recorded mode.
func (s *DirStore) restoreFile(f EntryFile) error {
	content, err := s.fsys.ReadFile(s.blobPath(f.Sum))
	if err != nil {
		return errors.Wrapf(err, "failed to read blob %s", f.Sum)
	}
	path := filepath.FromSlash(f.Path)
	if err := s.fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	mode := os.FileMode(f.Mode)
	if mode == 0 {
		mode = 0644
	}
	tmp := path + ".tmp"
	if err := s.fsys.WriteFile(tmp, content, mode); err != nil {
		return err
	}
	return s.fsys.Rename(tmp, path)
}
