package executor

import (
	"fmt"
	iofs "io/fs"
	"time"

	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/graph"
	"github.com/stagecoach-run/stagecoach/workflow"
)

// Decision is the planner's verdict for one task.
type Decision struct {
	Task *workflow.Task
	// Stale means the task must run, or be served from the cache.
	Stale bool
	// Reason is the sentence behind the verdict, for logs and dry runs.
	Reason string
	// Doomed is set when the task cannot run at all: an input that does not
	// exist and that no task produces. The task fails without being
	// attempted and its dependents are blocked; independent branches are
	// unaffected.
	Doomed error
}

// Plan is the schedule for one run: the goal's dependency closure in
// execution order, with a staleness decision per task.
type Plan struct {
	Goal      string
	Graph     *graph.Graph
	Order     []*workflow.Task
	Decisions map[string]*Decision
}

// Decision returns the verdict for a task in the plan.
func (p *Plan) Decision(name string) *Decision { return p.Decisions[name] }

// StaleCount reports how many tasks will be attempted.
func (p *Plan) StaleCount() int {
	n := 0
	for _, d := range p.Decisions {
		if d.Stale {
			n++
		}
	}
	return n
}

// artifactState is one artifact's disk state, captured once per plan. A
// directory reads as the newest write under it; a path of the wrong kind
// reads as absent.
type artifactState struct {
	exists bool
	empty  bool
	mtime  time.Time
}

// BuildPlan resolves the goal, orders its closure and decides staleness for
// every task. Each artifact is stat'ed once, so one pass sees one consistent
// snapshot of the workspace.
func BuildPlan(fsys fs.FileSystem, g *graph.Graph, goal string) (*Plan, error) {
	closure, err := g.Closure(goal)
	if err != nil {
		return nil, err
	}
	order, err := g.Order(closure)
	if err != nil {
		return nil, err
	}

	inClosure := make(map[string]bool, len(order))
	for _, t := range order {
		inClosure[t.Name] = true
	}

	states := make(map[string]artifactState)
	statOnce := func(a workflow.Artifact) artifactState {
		if st, ok := states[a.String()]; ok {
			return st
		}
		st := statArtifact(fsys, a)
		states[a.String()] = st
		return st
	}

	p := &Plan{
		Goal:      goal,
		Graph:     g,
		Order:     order,
		Decisions: make(map[string]*Decision, len(order)),
	}
	for _, task := range order {
		p.Decisions[task.Name] = decide(g, inClosure, statOnce, p.Decisions, task)
	}
	return p, nil
}

// decide applies the staleness rules in order: missing unproduced inputs doom
// the task; no declared outputs always runs; a missing or empty output runs;
// a dependency about to run propagates; finally the newest input mtime is
// compared against the oldest output, strictly, so equal stamps stay fresh.
func decide(g *graph.Graph, inClosure map[string]bool, statOnce func(workflow.Artifact) artifactState, decided map[string]*Decision, task *workflow.Task) *Decision {
	d := &Decision{Task: task}

	for _, in := range task.Inputs {
		if _, produced := g.Producer(in.Path); produced {
			continue
		}
		if st := statOnce(in); !st.exists {
			d.Stale = true
			d.Doomed = &workflow.MissingInputError{Task: task.Name, Path: in.String()}
			d.Reason = fmt.Sprintf("input %s does not exist and no task produces it", in)
			return d
		}
	}

	if len(task.Outputs) == 0 {
		d.Stale = true
		d.Reason = "declares no outputs, always runs"
		return d
	}

	for _, out := range task.Outputs {
		st := statOnce(out)
		if !st.exists {
			d.Stale = true
			d.Reason = fmt.Sprintf("output %s is missing", out)
			return d
		}
		if out.Dir && st.empty {
			d.Stale = true
			d.Reason = fmt.Sprintf("output %s is empty", out)
			return d
		}
	}

	for _, dep := range g.Dependencies(task.Name) {
		if !inClosure[dep] {
			continue
		}
		if dd := decided[dep]; dd != nil && dd.Stale {
			d.Stale = true
			d.Reason = fmt.Sprintf("dependency %s will run", dep)
			return d
		}
	}

	var newestIn workflow.Artifact
	var newestInTime time.Time
	haveInput := false
	for _, in := range task.Inputs {
		st := statOnce(in)
		if !haveInput || st.mtime.After(newestInTime) {
			haveInput = true
			newestIn = in
			newestInTime = st.mtime
		}
	}

	var oldestOut workflow.Artifact
	var oldestOutTime time.Time
	first := true
	for _, out := range task.Outputs {
		st := statOnce(out)
		if first || st.mtime.Before(oldestOutTime) {
			first = false
			oldestOut = out
			oldestOutTime = st.mtime
		}
	}

	if haveInput && newestInTime.After(oldestOutTime) {
		d.Stale = true
		d.Reason = fmt.Sprintf("input %s is newer than output %s", newestIn, oldestOut)
		return d
	}

	d.Reason = "outputs are up to date"
	return d
}

// statArtifact captures one artifact's state. Directories take the newest
// stamp of the directory itself or any file under it, so deletions inside a
// tree count as changes.
func statArtifact(fsys fs.FileSystem, a workflow.Artifact) artifactState {
	info, err := fsys.Stat(a.Path)
	if err != nil || info.IsDir() != a.Dir {
		return artifactState{}
	}
	if !a.Dir {
		return artifactState{exists: true, mtime: info.ModTime()}
	}

	st := artifactState{exists: true, empty: true, mtime: info.ModTime()}
	walkErr := fsys.WalkDir(a.Path, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		st.empty = false
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.ModTime().After(st.mtime) {
			st.mtime = fi.ModTime()
		}
		return nil
	})
	if walkErr != nil {
		return artifactState{}
	}
	return st
}
