package executor

import "sync"

// Status is the lifecycle state of a task within one run.
type Status int

const (
	// Pending tasks have not been looked at by a worker yet.
	Pending Status = iota
	// Running tasks have an action or a cache restore in flight.
	Running
	// Fresh tasks were skipped because their outputs are up to date.
	Fresh
	// CacheHit tasks had their outputs restored from the cache.
	CacheHit
	// Ran tasks executed their action and produced their outputs.
	Ran
	// Failed tasks ran and did not succeed, or could not be attempted.
	Failed
	// Blocked tasks were not attempted because something upstream failed.
	Blocked
)

var statusNames = map[Status]string{
	Pending:  "pending",
	Running:  "running",
	Fresh:    "skipped-fresh",
	CacheHit: "cache-hit",
	Ran:      "ran-ok",
	Failed:   "failed",
	Blocked:  "not-attempted-due-to-upstream-failure",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the status is final for the run.
func (s Status) Terminal() bool { return s != Pending && s != Running }

// Successful reports whether the task's outputs are valid after the run.
func (s Status) Successful() bool { return s == Fresh || s == CacheHit || s == Ran }

var allowedTransitions = map[Status][]Status{
	Pending: {Running, Fresh, Failed, Blocked},
	Running: {Ran, CacheHit, Failed},
}

// CanTransition reports whether a task may move from one status to the next.
// Cache hits pass through Running because the restore itself takes time.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// statusBoard tracks the status of every task in the run under one lock.
type statusBoard struct {
	mu       sync.Mutex
	statuses map[string]Status
}

func newStatusBoard(names []string) *statusBoard {
	b := &statusBoard{statuses: make(map[string]Status, len(names))}
	for _, name := range names {
		b.statuses[name] = Pending
	}
	return b
}

// set advances a task and reports whether the transition took effect. Illegal
// moves are refused, so a second upstream failure cannot re-block an already
// settled task.
func (b *statusBoard) set(name string, next Status) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !CanTransition(b.statuses[name], next) {
		return false
	}
	b.statuses[name] = next
	return true
}

func (b *statusBoard) get(name string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statuses[name]
}
