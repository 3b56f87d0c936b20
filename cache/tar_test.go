package cache

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stagecoach-run/stagecoach/fs/mock"
)

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()

	src := mock.NewMockFileSystem()
	srcStore := NewDirStore(src, "cachedir")
	src.WriteFile("cal.dat", []byte("calibrated"), 0644)
	task := mkTask(t, "calib", "python calib.py", nil, []string{"cal.dat"})
	entry, err := srcStore.Put(ctx, "k1", task)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	archive, err := srcStore.exportTar(entry)
	if err != nil {
		t.Fatalf("exportTar: %v", err)
	}

	dst := mock.NewMockFileSystem()
	dstStore := NewDirStore(dst, "cachedir")
	imported, err := dstStore.importTar(archive)
	if err != nil {
		t.Fatalf("importTar: %v", err)
	}
	if imported.Key != "k1" || imported.Task != "calib" {
		t.Errorf("imported entry = %+v", imported)
	}

	got, ok, err := dstStore.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Get after import = %v, %v", ok, err)
	}
	if err := dstStore.Restore(got); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if content, err := dst.ReadFile("cal.dat"); err != nil || string(content) != "calibrated" {
		t.Errorf("restored content = %q, %v", content, err)
	}
}

func TestImportRejectsCorruptBlobs(t *testing.T) {
	fakeSum := strings.Repeat("0", 64)
	entry := &Entry{
		Key:     "k1",
		Task:    "x",
		Created: time.Now().UTC(),
		Outputs: []string{"out.dat"},
		Files:   []EntryFile{{Path: "out.dat", Mode: 0644, Size: 7, Sum: fakeSum}},
	}
	raw, _ := json.Marshal(entry)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := writeTarFile(tw, "entry.json", raw); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := writeTarFile(tw, "blobs/"+fakeSum, []byte("payload")); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	tw.Close()

	store := NewDirStore(mock.NewMockFileSystem(), "cachedir")
	if _, err := store.importTar(buf.Bytes()); err == nil {
		t.Fatal("importTar accepted a blob that fails digest verification")
	} else if !strings.Contains(err.Error(), "does not match") {
		t.Errorf("error = %v, want digest mismatch", err)
	}
}

func TestImportRejectsIncompleteArchives(t *testing.T) {
	store := NewDirStore(mock.NewMockFileSystem(), "cachedir")

	// no entry record at all
	var empty bytes.Buffer
	tar.NewWriter(&empty).Close()
	if _, err := store.importTar(empty.Bytes()); err == nil {
		t.Error("importTar accepted an archive without an entry record")
	}

	// entry referencing a blob the archive does not carry
	entry := &Entry{
		Key:     "k1",
		Task:    "x",
		Created: time.Now().UTC(),
		Outputs: []string{"out.dat"},
		Files:   []EntryFile{{Path: "out.dat", Sum: strings.Repeat("1", 64)}},
	}
	raw, _ := json.Marshal(entry)
	var partial bytes.Buffer
	tw := tar.NewWriter(&partial)
	if err := writeTarFile(tw, "entry.json", raw); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	tw.Close()
	if _, err := store.importTar(partial.Bytes()); err == nil {
		t.Error("importTar accepted an archive missing a referenced blob")
	}
}
