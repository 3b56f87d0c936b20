package executor

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// EventSink receives progress as the run unfolds. Actions stream their output
// through it line by line. Implementations must be safe for concurrent use;
// stdout and stderr of one action arrive from separate goroutines.
type EventSink interface {
	TaskStarted(name, reason string)
	TaskOutput(name, line string)
	TaskSettled(name string, status Status, reason string, took time.Duration)
	RunFinished(result *RunResult)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) TaskStarted(string, string)                       {}
func (NopSink) TaskOutput(string, string)                        {}
func (NopSink) TaskSettled(string, Status, string, time.Duration) {}
func (NopSink) RunFinished(*RunResult)                           {}

// TextSink prints one line per event, every line prefixed with the task name
// so interleaved parallel output stays attributable.
type TextSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

func (s *TextSink) TaskStarted(name, reason string) {
	s.printf("[%s] running (%s)\n", name, reason)
}

func (s *TextSink) TaskOutput(name, line string) {
	s.printf("[%s] %s\n", name, line)
}

func (s *TextSink) TaskSettled(name string, status Status, reason string, took time.Duration) {
	switch status {
	case Fresh:
		s.printf("[%s] skipped (%s)\n", name, reason)
	case CacheHit:
		s.printf("[%s] completed [cached]\n", name)
	case Ran:
		s.printf("[%s] completed in %s\n", name, took.Round(time.Millisecond))
	case Failed:
		s.printf("[%s] failed: %s\n", name, reason)
	case Blocked:
		s.printf("[%s] skipped due to dependency failure\n", name)
	}
}

func (s *TextSink) RunFinished(*RunResult) {}

func (s *TextSink) printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

// lineWriter splits an action's raw stream into lines for the sink. The
// trailing unterminated line, if any, is delivered by Flush.
type lineWriter struct {
	name string
	sink EventSink
	buf  []byte
}

func newLineWriter(name string, sink EventSink) *lineWriter {
	return &lineWriter{name: name, sink: sink}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			return len(p), nil
		}
		w.sink.TaskOutput(w.name, string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
}

func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.sink.TaskOutput(w.name, string(w.buf))
		w.buf = nil
	}
}
