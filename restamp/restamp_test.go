package restamp

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/fs/mock"
	"github.com/stagecoach-run/stagecoach/workflow"
)

func TestParseLogFirstAppearanceWins(t *testing.T) {
	stream := "\x001724500000\n\n" +
		"data/raw.fits\nstagecoach.star\n" +
		"\x001724400000\n\n" +
		"data/raw.fits\nREADME.md\n"

	times, err := parseLog(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("parseLog: %v", err)
	}
	want := map[string]int64{
		"data/raw.fits": 1724500000,
		"stagecoach.star": 1724500000,
		"README.md":     1724400000,
	}
	if len(times) != len(want) {
		t.Fatalf("paths: got %d, want %d", len(times), len(want))
	}
	for path, secs := range want {
		if got := times[path]; !got.Equal(time.Unix(secs, 0)) {
			t.Errorf("%s: got %v, want %v", path, got.Unix(), secs)
		}
	}
}

func TestParseLogSkipsEmptyCommits(t *testing.T) {
	stream := "\x001724500000\n" +
		"\x001724400000\n\n" +
		"README.md\n"

	times, err := parseLog(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("parseLog: %v", err)
	}
	if len(times) != 1 || !times["README.md"].Equal(time.Unix(1724400000, 0)) {
		t.Fatalf("times: got %v", times)
	}
}

func TestParseLogRejectsBadTimestamp(t *testing.T) {
	if _, err := parseLog(strings.NewReader("\x00yesterday\n\nREADME.md\n")); err == nil {
		t.Fatalf("parseLog: expected error for bad timestamp")
	}
}

func TestParseLogRejectsPathBeforeCommit(t *testing.T) {
	if _, err := parseLog(strings.NewReader("README.md\n")); err == nil {
		t.Fatalf("parseLog: expected error for path before commit header")
	}
}

func TestApplyStampsSelectedFiles(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	fsys.WriteFile("data/raw.fits", []byte("raw"), 0644)
	fsys.WriteFile("README.md", []byte("docs"), 0644)

	commit := time.Unix(1724500000, 0)
	times := map[string]time.Time{
		"data/raw.fits": commit,
		"README.md":     commit,
	}

	var out bytes.Buffer
	res, err := apply(fsys, Options{Patterns: []string{"**/*.fits"}, Out: &out},
		[]string{"data/raw.fits", "README.md"}, times)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Stamped != 1 {
		t.Errorf("stamped: got %d, want 1", res.Stamped)
	}

	st, err := fsys.Stat("data/raw.fits")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !st.ModTime().Equal(commit) {
		t.Errorf("mtime: got %v, want %v", st.ModTime(), commit)
	}
	if !strings.Contains(out.String(), "restamped data/raw.fits") {
		t.Errorf("output: got %q", out.String())
	}
	if strings.Contains(out.String(), "README.md") {
		t.Errorf("output mentions filtered file: %q", out.String())
	}
}

func TestApplyDryRunLeavesFilesAlone(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	fsys.WriteFile("README.md", []byte("docs"), 0644)
	before, _ := fsys.Stat("README.md")

	commit := time.Unix(1724500000, 0)
	var out bytes.Buffer
	res, err := apply(fsys, Options{DryRun: true, Out: &out},
		[]string{"README.md"}, map[string]time.Time{"README.md": commit})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Stamped != 1 {
		t.Errorf("stamped: got %d, want 1", res.Stamped)
	}

	after, _ := fsys.Stat("README.md")
	if !after.ModTime().Equal(before.ModTime()) {
		t.Errorf("mtime changed during dry run: %v -> %v", before.ModTime(), after.ModTime())
	}
	if !strings.Contains(out.String(), "would restamp README.md") {
		t.Errorf("output: got %q", out.String())
	}
}

func TestApplyCountsCurrentAndSkipped(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	fsys.WriteFile("current.txt", []byte("a"), 0644)
	fsys.WriteFile("staged.txt", []byte("b"), 0644)

	commit := time.Unix(1724500000, 0)
	fsys.SetModTime("current.txt", commit)

	times := map[string]time.Time{
		"current.txt": commit,
		"gone.txt":    commit,
	}

	res, err := apply(fsys, Options{Quiet: true},
		[]string{"current.txt", "staged.txt", "gone.txt"}, times)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Current != 1 {
		t.Errorf("current: got %d, want 1", res.Current)
	}
	// staged.txt has no commit, gone.txt is not on disk
	if res.Skipped != 2 {
		t.Errorf("skipped: got %d, want 2", res.Skipped)
	}
	if res.Stamped != 0 {
		t.Errorf("stamped: got %d, want 0", res.Stamped)
	}
}

func TestRunRejectsInvalidPattern(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	_, err := Run(fsys, Options{Patterns: []string{"[oops"}, Quiet: true})
	if !errors.Is(err, workflow.ErrConfig) {
		t.Fatalf("error: got %v, want ErrConfig", err)
	}
}

func TestRunAgainstRealRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_DATE=2024-08-24T12:00:00+00:00",
			"GIT_COMMITTER_DATE=2024-08-24T12:00:00+00:00",
			"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@example.com",
			"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	git("init", "-q")
	if err := os.WriteFile(filepath.Join(dir, "raw.fits"), []byte("frame"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	git("add", "raw.fits")
	git("commit", "-q", "-m", "add frame")

	res, err := Run(fs.RealFileSystem{}, Options{Dir: dir, Quiet: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stamped != 1 {
		t.Fatalf("stamped: got %d, want 1", res.Stamped)
	}

	st, err := os.Stat(filepath.Join(dir, "raw.fits"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	want := time.Date(2024, 8, 24, 12, 0, 0, 0, time.UTC)
	if !st.ModTime().Equal(want) {
		t.Errorf("mtime: got %v, want %v", st.ModTime().UTC(), want)
	}
}
