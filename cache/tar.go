package cache

import (
	"archive/tar"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// exportTar serializes an entry and its blobs for the remote tier. The entry
// record goes first so imports can stop early on a bad archive.
func (s *DirStore) exportTar(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	if err := writeTarFile(tw, "entry.json", raw); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, f := range entry.Files {
		if seen[f.Sum] {
			continue
		}
		seen[f.Sum] = true
		content, err := s.fsys.ReadFile(s.blobPath(f.Sum))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read blob %s", f.Sum)
		}
		if err := writeTarFile(tw, "blobs/"+f.Sum, content); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTarFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}

// importTar lands a remote archive in the local store and returns its entry.
// Blob digests are verified before anything is written under their name.
func (s *DirStore) importTar(raw []byte) (*Entry, error) {
	tr := tar.NewReader(bytes.NewReader(raw))

	var entry *Entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		switch {
		case hdr.Name == "entry.json":
			entry = &Entry{}
			if err := json.Unmarshal(content, entry); err != nil {
				return nil, errors.Wrap(err, "bad entry record in archive")
			}
		case strings.HasPrefix(hdr.Name, "blobs/"):
			sum := path.Base(hdr.Name)
			digest := blake3.Sum256(content)
			if hex.EncodeToString(digest[:]) != sum {
				return nil, errors.Errorf("archive blob %s does not match its digest", sum)
			}
			if err := s.writeBlob(sum, content); err != nil {
				return nil, err
			}
		}
	}

	if entry == nil {
		return nil, errors.New("archive has no entry record")
	}
	for _, f := range entry.Files {
		if _, err := s.fsys.Stat(s.blobPath(f.Sum)); err != nil {
			return nil, errors.Errorf("archive omits blob %s", f.Sum)
		}
	}
	if err := s.writeEntry(entry); err != nil {
		return nil, err
	}
	return entry, nil
}
