package watch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stagecoach-run/stagecoach/graph"
	"github.com/stagecoach-run/stagecoach/workflow"
)

func mkTask(t *testing.T, name string, pos int, inputs, outputs []string) *workflow.Task {
	t.Helper()
	task := &workflow.Task{Name: name, Pos: pos, Action: workflow.ShellAction{Script: "true"}}
	for _, raw := range inputs {
		a, err := workflow.ParseArtifact(raw)
		if err != nil {
			t.Fatalf("parse input %q: %v", raw, err)
		}
		task.Inputs = append(task.Inputs, a)
	}
	for _, raw := range outputs {
		a, err := workflow.ParseArtifact(raw)
		if err != nil {
			t.Fatalf("parse output %q: %v", raw, err)
		}
		task.Outputs = append(task.Outputs, a)
	}
	return task
}

func buildGraph(t *testing.T, tasks ...*workflow.Task) *graph.Graph {
	t.Helper()
	g, err := graph.Build(tasks)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustWrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func awaitBatch(t *testing.T, w *Watcher) []string {
	t.Helper()
	select {
	case batch := <-w.Changes():
		return batch
	case <-time.After(5 * time.Second):
		t.Fatalf("no change batch within 5s")
		return nil
	}
}

func TestSourceInputsSkipsProducedArtifacts(t *testing.T) {
	g := buildGraph(t,
		mkTask(t, "fetch", 0, nil, []string{"data/raw.fits"}),
		mkTask(t, "calibrate", 1, []string{"data/raw.fits", "config/flats/"}, []string{"data/cal.fits"}),
		mkTask(t, "plot", 2, []string{"data/cal.fits", "config/flats/"}, []string{"plots/cal.png"}),
	)

	sources, err := SourceInputs(g, "plot")
	if err != nil {
		t.Fatalf("SourceInputs: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("sources: got %d, want 1", len(sources))
	}
	if sources[0].Path != "config/flats" || !sources[0].Dir {
		t.Errorf("source: got %+v, want dir config/flats", sources[0])
	}
}

func TestSourceInputsHonorsGoalClosure(t *testing.T) {
	g := buildGraph(t,
		mkTask(t, "calibrate", 0, []string{"data/raw.fits"}, []string{"data/cal.fits"}),
		mkTask(t, "unrelated", 1, []string{"notes.txt"}, []string{"notes.html"}),
	)

	sources, err := SourceInputs(g, "calibrate")
	if err != nil {
		t.Fatalf("SourceInputs: %v", err)
	}
	if len(sources) != 1 || sources[0].Path != "data/raw.fits" {
		t.Fatalf("sources: got %+v, want only data/raw.fits", sources)
	}

	if _, err := SourceInputs(g, "missing"); err == nil {
		t.Fatalf("SourceInputs with unknown goal: expected error")
	}
}

func TestWatcherDeliversChangedFile(t *testing.T) {
	chdir(t, t.TempDir())
	mustWrite(t, "src/a.txt", "v1")

	g := buildGraph(t,
		mkTask(t, "stack", 0, []string{"src/a.txt"}, []string{"out.fits"}))

	w, err := New(g, "", Config{Debounce: 50 * time.Millisecond, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	mustWrite(t, "src/a.txt", "v2")

	batch := awaitBatch(t, w)
	if !reflect.DeepEqual(batch, []string{"src/a.txt"}) {
		t.Errorf("batch: got %v, want [src/a.txt]", batch)
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	chdir(t, t.TempDir())
	mustWrite(t, "src/a.txt", "v1")

	g := buildGraph(t,
		mkTask(t, "stack", 0, []string{"src/a.txt"}, []string{"out.fits"}))

	w, err := New(g, "", Config{Debounce: 50 * time.Millisecond, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	mustWrite(t, "src/other.txt", "noise")

	select {
	case batch := <-w.Changes():
		t.Fatalf("unexpected batch %v", batch)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherSeesNewFilesInTree(t *testing.T) {
	chdir(t, t.TempDir())
	if err := os.MkdirAll("frames", 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	g := buildGraph(t,
		mkTask(t, "stack", 0, []string{"frames/"}, []string{"stacked.fits"}))

	w, err := New(g, "", Config{Debounce: 50 * time.Millisecond, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	mustWrite(t, "frames/n0001.fits", "frame")

	batch := awaitBatch(t, w)
	if len(batch) == 0 || batch[0] != "frames/n0001.fits" {
		t.Errorf("batch: got %v, want frames/n0001.fits first", batch)
	}
}

func TestWatcherBatchesBursts(t *testing.T) {
	chdir(t, t.TempDir())
	mustWrite(t, "src/a.txt", "v1")
	mustWrite(t, "src/b.txt", "v1")

	g := buildGraph(t,
		mkTask(t, "stack", 0, []string{"src/a.txt", "src/b.txt"}, []string{"out.fits"}))

	w, err := New(g, "", Config{Debounce: 200 * time.Millisecond, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	mustWrite(t, "src/b.txt", "v2")
	mustWrite(t, "src/a.txt", "v2")

	batch := awaitBatch(t, w)
	if !reflect.DeepEqual(batch, []string{"src/a.txt", "src/b.txt"}) {
		t.Errorf("batch: got %v, want both files sorted", batch)
	}
}

func TestWatcherFailsOnMissingDirectory(t *testing.T) {
	chdir(t, t.TempDir())

	g := buildGraph(t,
		mkTask(t, "stack", 0, []string{"absent/a.txt"}, []string{"out.fits"}))

	if _, err := New(g, "", Config{Debounce: 50 * time.Millisecond, Logger: quietLogger()}); err == nil {
		t.Fatalf("New: expected error for missing watch directory")
	}
}
