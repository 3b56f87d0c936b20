package tui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/stagecoach-run/stagecoach/executor"
	"github.com/stagecoach-run/stagecoach/fs/mock"
	"github.com/stagecoach-run/stagecoach/graph"
	"github.com/stagecoach-run/stagecoach/workflow"
)

func testState(t *testing.T) *State {
	t.Helper()
	tasks := []*workflow.Task{
		{Name: "fetch", Pos: 0, Action: workflow.ShellAction{Script: "true"},
			Outputs: []workflow.Artifact{{Path: "raw.fits"}}},
		{Name: "calibrate", Pos: 1, Action: workflow.ShellAction{Script: "true"},
			Inputs:  []workflow.Artifact{{Path: "raw.fits"}},
			Outputs: []workflow.Artifact{{Path: "cal.fits"}}},
	}
	g, err := graph.Build(tasks)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	plan, err := executor.BuildPlan(mock.NewMockFileSystem(), g, "")
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	return NewState(plan)
}

func TestStateTracksLifecycle(t *testing.T) {
	state := testState(t)

	state.TaskStarted("fetch", "output raw.fits is missing")
	rows := state.snapshot()
	if rows[0].status != executor.Running {
		t.Errorf("after start: got %s", rows[0].status)
	}

	state.TaskSettled("fetch", executor.Ran, "output raw.fits is missing", 2*time.Second)
	rows = state.snapshot()
	if rows[0].status != executor.Ran || rows[0].took != 2*time.Second {
		t.Errorf("after settle: %+v", rows[0])
	}
	if state.Done() {
		t.Error("run should not be done before RunFinished")
	}

	state.RunFinished(&executor.RunResult{ID: "abc"})
	if !state.Done() {
		t.Error("run should be done after RunFinished")
	}
	if got := state.Result(); got == nil || got.ID != "abc" {
		t.Errorf("result: %+v", got)
	}
}

func TestStateCapsCapturedOutput(t *testing.T) {
	state := testState(t)

	for i := 0; i < 150; i++ {
		state.TaskOutput("fetch", fmt.Sprintf("line %d", i))
	}

	rows := state.snapshot()
	lines := rows[0].lines
	if len(lines) != logLineCap {
		t.Fatalf("kept %d lines, want %d", len(lines), logLineCap)
	}
	if lines[0] != "line 50" || lines[len(lines)-1] != "line 149" {
		t.Errorf("window: first %q last %q", lines[0], lines[len(lines)-1])
	}
}

func TestStatusViewShowsTasks(t *testing.T) {
	state := testState(t)
	state.TaskSettled("fetch", executor.Ran, "output raw.fits is missing", time.Second)
	m := newModel(state, func() {})

	view := m.statusView()
	if !strings.Contains(view, "fetch") || !strings.Contains(view, "calibrate") {
		t.Errorf("view should list every task:\n%s", view)
	}
	if !strings.Contains(view, "> fetch") {
		t.Errorf("first row should carry the selection marker:\n%s", view)
	}
	if !strings.Contains(view, "output raw.fits is missing") {
		t.Errorf("view should carry the decision reason:\n%s", view)
	}
}

func TestQuitKeyCancels(t *testing.T) {
	state := testState(t)
	canceled := false
	m := newModel(state, func() { canceled = true })

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !canceled {
		t.Error("q should cancel the run context")
	}
	if cmd == nil {
		t.Error("q should quit the program")
	}
	if !next.(*model).done {
		t.Error("model should be done after q")
	}
}

func TestNavigationWrapsAround(t *testing.T) {
	state := testState(t)
	m := newModel(state, func() {})

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	m = next.(*model)
	if m.selectedIdx != 1 {
		t.Errorf("after j: selected %d, want 1", m.selectedIdx)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	m = next.(*model)
	if m.selectedIdx != 0 {
		t.Errorf("after wrapping: selected %d, want 0", m.selectedIdx)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	m = next.(*model)
	if m.selectedIdx != 1 {
		t.Errorf("after k from the top: selected %d, want 1", m.selectedIdx)
	}
}

func TestDisplayStatusLabels(t *testing.T) {
	want := map[executor.Status]string{
		executor.Pending:  "queued",
		executor.Running:  "running",
		executor.Fresh:    "fresh",
		executor.CacheHit: "cached",
		executor.Ran:      "done",
		executor.Failed:   "failed",
		executor.Blocked:  "blocked",
	}
	for status, label := range want {
		if got := displayStatus(status); got != label {
			t.Errorf("displayStatus(%s): got %q, want %q", status, got, label)
		}
	}
}
