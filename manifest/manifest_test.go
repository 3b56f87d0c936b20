package manifest

import (
	"errors"
	"testing"

	"github.com/stagecoach-run/stagecoach/fs/mock"
	"github.com/stagecoach-run/stagecoach/workflow"
)

func TestLoadDispatchesOnExtension(t *testing.T) {
	m := mock.NewMockFileSystem()
	writeManifest(t, m, "a.star", `task(name = "s", action = "true", outputs = ["s.out"])`)
	writeManifest(t, m, "b.yml", "tasks:\n  - name: y\n    action: \"true\"\n    outputs: [y.out]\n")

	tasks, err := Load(m, "a.star")
	if err != nil || len(tasks) != 1 || tasks[0].Name != "s" {
		t.Errorf("Load(a.star) = %v, %v", tasks, err)
	}
	tasks, err = Load(m, "b.yml")
	if err != nil || len(tasks) != 1 || tasks[0].Name != "y" {
		t.Errorf("Load(b.yml) = %v, %v", tasks, err)
	}
	if _, err := Load(m, "c.txt"); !errors.Is(err, workflow.ErrConfig) {
		t.Errorf("Load(c.txt) error = %v, want configuration error", err)
	}
}

func TestDiscoverPrefersStarlark(t *testing.T) {
	m := mock.NewMockFileSystem()
	writeManifest(t, m, "work/stagecoach.star", `task(name = "s", action = "true", outputs = ["s.out"])`)
	writeManifest(t, m, "work/stagecoach.yaml", "tasks: []\n")

	path, err := Discover(m, "work")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if path != "work/stagecoach.star" {
		t.Errorf("Discover = %q, want the Starlark manifest", path)
	}
}

func TestDiscoverFallsBackToYAML(t *testing.T) {
	m := mock.NewMockFileSystem()
	writeManifest(t, m, "work/stagecoach.yaml", "tasks: []\n")

	path, err := Discover(m, "work")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if path != "work/stagecoach.yaml" {
		t.Errorf("Discover = %q, want the YAML manifest", path)
	}
}

func TestDiscoverReportsMissingManifest(t *testing.T) {
	m := mock.NewMockFileSystem()
	if _, err := Discover(m, "empty"); !errors.Is(err, workflow.ErrConfig) {
		t.Errorf("Discover error = %v, want configuration error", err)
	}
}
