package executor

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/stagecoach-run/stagecoach/fs"
)

// TaskResult is the outcome of one task in a run.
type TaskResult struct {
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Reason   string    `json:"reason"`
	Error    string    `json:"error,omitempty"`
	CacheKey string    `json:"cache_key,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	status Status
	err    error
}

// Took reports how long the task was in flight.
func (r *TaskResult) Took() time.Duration { return r.Finished.Sub(r.Started) }

// RunResult aggregates one run, task rows in execution order.
type RunResult struct {
	ID       string        `json:"id"`
	Goal     string        `json:"goal,omitempty"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Tasks    []*TaskResult `json:"tasks"`

	mu     sync.Mutex
	byName map[string]*TaskResult
}

func newRunResult(plan *Plan) *RunResult {
	r := &RunResult{
		ID:      uuid.NewString(),
		Goal:    plan.Goal,
		Started: time.Now(),
		byName:  make(map[string]*TaskResult, len(plan.Order)),
	}
	for _, task := range plan.Order {
		row := &TaskResult{Name: task.Name, Status: Pending.String(), status: Pending}
		r.Tasks = append(r.Tasks, row)
		r.byName[task.Name] = row
	}
	return r
}

func (r *RunResult) settle(name string, status Status, reason string, err error, cacheKey string, started, finished time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.byName[name]
	if !ok {
		return
	}
	row.status = status
	row.Status = status.String()
	row.Reason = reason
	row.err = err
	if err != nil {
		row.Error = err.Error()
	}
	row.CacheKey = cacheKey
	row.Started = started
	row.Finished = finished
}

func (r *RunResult) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Finished = time.Now()
}

// Task returns the row for one task.
func (r *RunResult) Task(name string) *TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[name]
}

// Failed reports whether any task failed or was blocked.
func (r *RunResult) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.Tasks {
		if row.status == Failed || row.status == Blocked {
			return true
		}
	}
	return false
}

// Cause returns the error of the first failed task in execution order.
func (r *RunResult) Cause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.Tasks {
		if row.status == Failed && row.err != nil {
			return row.err
		}
	}
	return nil
}

// Counts tallies rows per status name.
func (r *RunResult) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, row := range r.Tasks {
		counts[row.Status]++
	}
	return counts
}

// Took reports the wall time of the run.
func (r *RunResult) Took() time.Duration { return r.Finished.Sub(r.Started) }

// WriteReport stores the run as JSON under dir and returns the file path.
func (r *RunResult) WriteReport(fsys fs.FileSystem, dir string) (string, error) {
	r.mu.Lock()
	raw, err := json.MarshalIndent(r, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return "", errors.Wrap(err, "failed to encode run report")
	}

	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create report directory %s", dir)
	}
	name := fmt.Sprintf("run-%s-%s.json", r.Started.UTC().Format("20060102T150405Z"), shortID(r.ID))
	path := filepath.Join(dir, name)
	if err := fsys.WriteFile(path, raw, 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write run report %s", path)
	}
	return path, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
