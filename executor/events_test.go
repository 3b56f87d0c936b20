package executor

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestTextSinkFormats(t *testing.T) {
	var buf bytes.Buffer
	s := NewTextSink(&buf)

	s.TaskStarted("fetch", "output raw.fits is missing")
	s.TaskOutput("fetch", "downloading frames")
	s.TaskSettled("fetch", Ran, "output raw.fits is missing", 1500*time.Millisecond)
	s.TaskSettled("calibrate", Fresh, "outputs are up to date", 0)
	s.TaskSettled("plot", CacheHit, "restored from cache", 0)
	s.TaskSettled("stack", Failed, "action exited with code 2", 0)
	s.TaskSettled("publish", Blocked, "dependency stack failed", 0)

	want := strings.Join([]string{
		"[fetch] running (output raw.fits is missing)",
		"[fetch] downloading frames",
		"[fetch] completed in 1.5s",
		"[calibrate] skipped (outputs are up to date)",
		"[plot] completed [cached]",
		"[stack] failed: action exited with code 2",
		"[publish] skipped due to dependency failure",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("sink output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestLineWriterSplitsAndFlushes(t *testing.T) {
	sink := &recordingSink{}
	w := newLineWriter("plot", sink)

	w.Write([]byte("par"))
	w.Write([]byte("tial\nnext\ntail"))
	w.Flush()
	w.Flush() // a drained writer has nothing left

	want := []string{"out plot partial", "out plot next", "out plot tail"}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if strings.Join(sink.lines, "|") != strings.Join(want, "|") {
		t.Errorf("lines: got %v, want %v", sink.lines, want)
	}
}
