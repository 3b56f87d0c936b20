// Package tui renders a run live: a task table driven by the executor's
// events, with per-task output capture behind a toggled viewport.
package tui

import (
	"sync"
	"time"

	"github.com/stagecoach-run/stagecoach/executor"
)

// logLineCap bounds the output kept per task.
const logLineCap = 100

type taskRow struct {
	name    string
	status  executor.Status
	reason  string
	started time.Time
	took    time.Duration
	lines   []string
}

// State is the store shared between the executor's event sink and the view.
// The executor writes through the EventSink methods; the model reads a
// snapshot on every tick.
type State struct {
	mu     sync.Mutex
	order  []string
	rows   map[string]*taskRow
	goal   string
	done   bool
	result *executor.RunResult
}

var _ executor.EventSink = (*State)(nil)

func NewState(plan *executor.Plan) *State {
	s := &State{
		rows: make(map[string]*taskRow, len(plan.Order)),
		goal: plan.Goal,
	}
	for _, task := range plan.Order {
		s.order = append(s.order, task.Name)
		s.rows[task.Name] = &taskRow{name: task.Name, status: executor.Pending}
	}
	return s
}

func (s *State) TaskStarted(name, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[name]; ok {
		row.status = executor.Running
		row.reason = reason
		row.started = time.Now()
	}
}

func (s *State) TaskOutput(name, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[name]
	if !ok {
		return
	}
	row.lines = append(row.lines, line)
	if len(row.lines) > logLineCap {
		row.lines = row.lines[len(row.lines)-logLineCap:]
	}
}

func (s *State) TaskSettled(name string, status executor.Status, reason string, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[name]; ok {
		row.status = status
		row.reason = reason
		row.took = took
	}
}

func (s *State) RunFinished(result *executor.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.result = result
}

// Done reports whether the run has finished.
func (s *State) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Result returns the finished run, nil while it is still in flight.
func (s *State) Result() *executor.RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *State) snapshot() []taskRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]taskRow, 0, len(s.order))
	for _, name := range s.order {
		row := s.rows[name]
		copied := *row
		copied.lines = append([]string(nil), row.lines...)
		rows = append(rows, copied)
	}
	return rows
}
