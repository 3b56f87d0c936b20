package cache

import (
	"encoding/json"
	iofs "io/fs"
	"os"
	"path/filepath"
	"time"
)

// Stats summarizes the local store.
type Stats struct {
	Entries   int
	Blobs     int
	BlobBytes int64
}

// Stats counts entries and blob bytes in the local store.
func (s *DirStore) Stats() (Stats, error) {
	var st Stats
	err := s.walkIfPresent(filepath.Join(s.root, "entries"), func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".json" {
			st.Entries++
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	err = s.walkIfPresent(filepath.Join(s.root, "blobs"), func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := s.fsys.Stat(path)
		if err != nil {
			return err
		}
		st.Blobs++
		st.BlobBytes += info.Size()
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// GC removes entries created before cutoff, then sweeps blobs no surviving
// entry references. Unreadable entries and leftover temp files are swept too.
// It returns the number of entries and blobs removed.
func (s *DirStore) GC(cutoff time.Time) (entries, blobs int, err error) {
	var staleEntries []string
	referenced := make(map[string]bool)

	err = s.walkIfPresent(filepath.Join(s.root, "entries"), func(path string, d iofs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		raw, err := s.fsys.ReadFile(path)
		if err != nil {
			return err
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil || entry.Created.Before(cutoff) {
			staleEntries = append(staleEntries, path)
			return nil
		}
		for _, f := range entry.Files {
			referenced[f.Sum] = true
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	for _, path := range staleEntries {
		if err := s.fsys.Remove(path); err != nil {
			return entries, 0, err
		}
		entries++
	}

	var staleBlobs []string
	err = s.walkIfPresent(filepath.Join(s.root, "blobs"), func(path string, d iofs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && !referenced[d.Name()] {
			staleBlobs = append(staleBlobs, path)
		}
		return nil
	})
	if err != nil {
		return entries, 0, err
	}
	for _, path := range staleBlobs {
		if err := s.fsys.Remove(path); err != nil {
			return entries, blobs, err
		}
		blobs++
	}
	return entries, blobs, nil
}

func (s *DirStore) walkIfPresent(root string, fn iofs.WalkDirFunc) error {
	if _, err := s.fsys.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return s.fsys.WalkDir(root, fn)
}
