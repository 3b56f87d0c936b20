// Package cache stores and restores task outputs keyed by a content
// fingerprint of the task's action and inputs. A local directory store is the
// primary tier; a remote HTTP tier can sit behind it.
package cache

import (
	"encoding/binary"
	"encoding/hex"
	iofs "io/fs"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/workflow"
)

// Key computes the cache key of a task: a digest over the action fingerprint,
// the declared output paths and the current content of every input. Inputs
// must exist when Key is called, so the executor keys a task only after its
// dependencies have settled.
func Key(fsys fs.FileSystem, task *workflow.Task) (string, error) {
	h := blake3.New()

	if task.Action != nil {
		writeField(h, []byte(task.Action.Fingerprint()))
	} else {
		writeField(h, []byte("fetch-only"))
	}

	for _, out := range workflow.SortedArtifacts(task.Outputs) {
		writeField(h, []byte(out.String()))
	}

	for _, in := range workflow.SortedArtifacts(task.Inputs) {
		writeField(h, []byte(in.String()))
		sum, err := hashArtifact(fsys, in)
		if err != nil {
			return "", errors.Wrapf(err, "failed to hash input %s", in)
		}
		writeField(h, sum)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeField frames each field with its length so adjacent fields cannot be
// confused under concatenation.
func writeField(h *blake3.Hasher, field []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(field)))
	h.Write(n[:])
	h.Write(field)
}

func hashArtifact(fsys fs.FileSystem, a workflow.Artifact) ([]byte, error) {
	if a.Dir {
		return hashTree(fsys, a.Path)
	}
	return hashFile(fsys, a.Path)
}

func hashFile(fsys fs.FileSystem, path string) ([]byte, error) {
	content, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(content)
	return sum[:], nil
}

// hashTree digests a directory as the framed sequence of relative path and
// content for every file under it, in lexical walk order.
func hashTree(fsys fs.FileSystem, root string) ([]byte, error) {
	h := blake3.New()
	err := fsys.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		writeField(h, []byte(filepath.ToSlash(rel)))
		sum, err := hashFile(fsys, path)
		if err != nil {
			return err
		}
		writeField(h, sum)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
