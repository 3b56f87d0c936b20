// Package executor plans and runs pipelines: staleness decisions, worker
// scheduling, cache lookups and failure propagation.
package executor

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/stagecoach-run/stagecoach/cache"
	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/workflow"
)

// Options configures a run.
type Options struct {
	// Jobs is the worker count; anything below 1 reads as 1.
	Jobs int
	// Dir is the directory actions run in; empty means the current one.
	Dir string
	// Store serves tasks that declare cache=true; nil disables caching.
	Store cache.Store
	// Events receives progress; nil drops it.
	Events EventSink
	// ReportDir stores a JSON report per run; empty skips the report.
	ReportDir string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// RunContext executes one plan. It is single-use: build, optionally swap the
// event sink, Execute once.
type RunContext struct {
	fsys   fs.FileSystem
	plan   *Plan
	opts   Options
	board  *statusBoard
	events EventSink
	log    *slog.Logger

	cacheBroken atomic.Bool
}

func NewRunContext(fsys fs.FileSystem, plan *Plan, opts Options) *RunContext {
	if opts.Events == nil {
		opts.Events = NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	names := make([]string, len(plan.Order))
	for i, t := range plan.Order {
		names[i] = t.Name
	}
	return &RunContext{
		fsys:   fsys,
		plan:   plan,
		opts:   opts,
		board:  newStatusBoard(names),
		events: opts.Events,
		log:    opts.Logger,
	}
}

// SetEvents replaces the sink, for wiring an interactive view after the
// context is built.
func (rc *RunContext) SetEvents(sink EventSink) { rc.events = sink }

// outcome is one task's terminal result on its way back to the coordinator.
type outcome struct {
	d        *Decision
	status   Status
	reason   string
	err      error
	cacheKey string
	started  time.Time
	finished time.Time
}

// readyQueue orders runnable tasks by declaration index, so ties between
// simultaneously ready tasks resolve the same way on every run.
type readyQueue []*Decision

func (q readyQueue) Len() int            { return len(q) }
func (q readyQueue) Less(i, j int) bool  { return q[i].Task.Pos < q[j].Task.Pos }
func (q readyQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x interface{}) { *q = append(*q, x.(*Decision)) }
func (q *readyQueue) Pop() interface{} {
	old := *q
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return d
}

// Execute runs the plan to completion. Fresh and doomed tasks settle without
// workers; the rest go through a fixed worker pool, dependents dispatching as
// their dependencies succeed. A failure blocks its dependents and nothing
// else. The error return is reserved for cancellation; task failures live in
// the result.
func (rc *RunContext) Execute(ctx context.Context) (*RunResult, error) {
	result := newRunResult(rc.plan)

	var todo []*Decision
	for _, task := range rc.plan.Order {
		d := rc.plan.Decisions[task.Name]
		now := time.Now()
		switch {
		case d.Doomed != nil:
			rc.settle(result, outcome{d: d, status: Failed, reason: d.Reason, err: d.Doomed, started: now, finished: now})
			rc.block(result, task.Name)
		case !d.Stale:
			rc.settle(result, outcome{d: d, status: Fresh, reason: d.Reason, started: now, finished: now})
		default:
			if rc.board.get(task.Name) == Pending {
				todo = append(todo, d)
			}
		}
	}

	if len(todo) > 0 {
		rc.dispatch(ctx, result, todo)
	}

	result.finish()
	rc.events.RunFinished(result)
	if rc.opts.ReportDir != "" {
		if _, err := result.WriteReport(rc.fsys, rc.opts.ReportDir); err != nil {
			rc.log.Warn("failed to write run report", "error", err)
		}
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// dispatch feeds todo through the worker pool. The coordinator owns all
// scheduling state; workers only run tasks and report outcomes.
func (rc *RunContext) dispatch(ctx context.Context, result *RunResult, todo []*Decision) {
	inTodo := make(map[string]*Decision, len(todo))
	for _, d := range todo {
		inTodo[d.Task.Name] = d
	}
	pendingDeps := make(map[string]int, len(todo))
	for _, d := range todo {
		n := 0
		for _, dep := range rc.plan.Graph.Dependencies(d.Task.Name) {
			if _, ok := inTodo[dep]; ok {
				n++
			}
		}
		pendingDeps[d.Task.Name] = n
	}

	ready := &readyQueue{}
	for _, d := range todo {
		if pendingDeps[d.Task.Name] == 0 {
			heap.Push(ready, d)
		}
	}

	jobs := rc.opts.Jobs
	if jobs < 1 {
		jobs = 1
	}
	if jobs > len(todo) {
		jobs = len(todo)
	}

	workCh := make(chan *Decision)
	outCh := make(chan outcome)

	var eg errgroup.Group
	for i := 0; i < jobs; i++ {
		eg.Go(func() error {
			for d := range workCh {
				outCh <- rc.runTask(ctx, d)
			}
			return nil
		})
	}

	waiting := len(todo)
	inflight := 0
	canceled := false

	for waiting > 0 {
		var sendCh chan *Decision
		var next *Decision
		if !canceled && ready.Len() > 0 {
			next = (*ready)[0]
			sendCh = workCh
		}

		select {
		case sendCh <- next:
			heap.Pop(ready)
			inflight++

		case out := <-outCh:
			inflight--
			waiting--
			rc.settle(result, out)
			if out.status == Failed {
				waiting -= rc.block(result, out.d.Task.Name)
				continue
			}
			for _, depName := range rc.plan.Graph.Dependents(out.d.Task.Name) {
				d, ok := inTodo[depName]
				if !ok {
					continue
				}
				pendingDeps[depName]--
				if pendingDeps[depName] == 0 && rc.board.get(depName) == Pending {
					heap.Push(ready, d)
				}
			}

		case <-ctx.Done():
			canceled = true
			for inflight > 0 {
				out := <-outCh
				inflight--
				waiting--
				rc.settle(result, out)
			}
			for _, d := range todo {
				if !rc.board.set(d.Task.Name, Blocked) {
					continue
				}
				waiting--
				now := time.Now()
				result.settle(d.Task.Name, Blocked, "run canceled", nil, "", now, now)
				rc.events.TaskSettled(d.Task.Name, Blocked, "run canceled", 0)
			}
		}
	}

	close(workCh)
	if err := eg.Wait(); err != nil {
		rc.log.Warn("worker pool reported an error", "error", err)
	}
}

// runTask carries one stale task to a terminal status: cache restore when
// possible, otherwise the action, then output validation and cache capture.
func (rc *RunContext) runTask(ctx context.Context, d *Decision) outcome {
	task := d.Task
	out := outcome{d: d, started: time.Now()}

	rc.board.set(task.Name, Running)
	rc.events.TaskStarted(task.Name, d.Reason)

	var key string
	if rc.cacheUsable() && task.Cache {
		k, err := cache.Key(rc.fsys, task)
		if err != nil {
			rc.cacheFail(errors.Wrapf(err, "failed to fingerprint task %s", task.Name))
		} else {
			key = k
		}
	}
	out.cacheKey = key

	if key != "" {
		if entry, ok, err := rc.opts.Store.Get(ctx, key); err != nil {
			rc.cacheFail(err)
		} else if ok {
			if err := rc.opts.Store.Restore(entry); err != nil {
				rc.cacheFail(err)
			} else {
				out.status = CacheHit
				out.reason = "restored from cache"
				out.finished = time.Now()
				return out
			}
		}
	}

	if task.FetchOnly() {
		out.status = Failed
		out.reason = "no action and outputs not available from cache"
		out.err = &workflow.ActionFailure{Task: task.Name, ExitCode: -1, Err: errors.New(out.reason)}
		out.finished = time.Now()
		return out
	}

	stdout := newLineWriter(task.Name, rc.events)
	stderr := newLineWriter(task.Name, rc.events)
	runErr := task.Action.Run(ctx, rc.opts.Dir, stdout, stderr)
	stdout.Flush()
	stderr.Flush()

	if runErr != nil {
		code := workflow.CommandExitCode(runErr)
		out.status = Failed
		if code >= 0 {
			out.reason = fmt.Sprintf("action exited with code %d", code)
		} else {
			out.reason = runErr.Error()
		}
		out.err = &workflow.ActionFailure{Task: task.Name, ExitCode: code, Err: runErr}
		out.finished = time.Now()
		return out
	}

	if missing := rc.missingOutput(task); missing != "" {
		out.status = Failed
		out.reason = fmt.Sprintf("action completed without producing output %s", missing)
		out.err = &workflow.ActionFailure{Task: task.Name, ExitCode: -1, Err: errors.New(out.reason)}
		out.finished = time.Now()
		return out
	}

	if key != "" && rc.cacheUsable() {
		if _, err := rc.opts.Store.Put(ctx, key, task); err != nil {
			rc.cacheFail(err)
		}
	}

	out.status = Ran
	out.reason = d.Reason
	out.finished = time.Now()
	return out
}

// settle records a terminal outcome once; the status board rejects repeats.
func (rc *RunContext) settle(result *RunResult, out outcome) {
	name := out.d.Task.Name
	if !rc.board.set(name, out.status) {
		return
	}
	result.settle(name, out.status, out.reason, out.err, out.cacheKey, out.started, out.finished)
	rc.events.TaskSettled(name, out.status, out.reason, out.finished.Sub(out.started))
}

// block marks every pending dependent of name as not attempted, transitively,
// and reports how many tasks it settled.
func (rc *RunContext) block(result *RunResult, name string) int {
	blocked := 0
	queue := []string{name}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, depName := range rc.plan.Graph.Dependents(parent) {
			if _, inPlan := rc.plan.Decisions[depName]; !inPlan {
				continue
			}
			if !rc.board.set(depName, Blocked) {
				continue
			}
			blocked++
			now := time.Now()
			reason := fmt.Sprintf("dependency %s failed", parent)
			result.settle(depName, Blocked, reason, nil, "", now, now)
			rc.events.TaskSettled(depName, Blocked, reason, 0)
			queue = append(queue, depName)
		}
	}
	return blocked
}

// missingOutput re-checks the declared outputs after a run; a missing file or
// an empty directory fails the task.
func (rc *RunContext) missingOutput(task *workflow.Task) string {
	for _, art := range task.Outputs {
		st := statArtifact(rc.fsys, art)
		if !st.exists || (art.Dir && st.empty) {
			return art.String()
		}
	}
	return ""
}

func (rc *RunContext) cacheUsable() bool {
	return rc.opts.Store != nil && !rc.cacheBroken.Load()
}

// cacheFail turns the cache off for the rest of the run. Cache trouble never
// fails a run; the first incident logs a warning, later ones stay quiet.
func (rc *RunContext) cacheFail(err error) {
	if rc.cacheBroken.Swap(true) {
		return
	}
	rc.log.Warn("cache disabled for this run", "error", err)
}
