// Package restamp rewrites tracked files' modification times to the time of
// the commit that last changed them. Fresh checkouts stamp every file with
// the clone time, which makes every pipeline input look newly modified;
// restamping restores timestamps that staleness checks can trust.
package restamp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/workflow"
)

// Options controls one restamp pass.
type Options struct {
	// Dir is the repository to restamp. Empty means the current directory.
	Dir string
	// Patterns restricts the pass to tracked files matching at least one
	// doublestar pattern. Empty means every tracked file.
	Patterns []string
	// DryRun reports what would change without touching any file.
	DryRun bool
	// Quiet suppresses per-file and summary output.
	Quiet bool
	// Out receives progress output. Defaults to os.Stdout.
	Out io.Writer
}

// Result summarizes a restamp pass.
type Result struct {
	// Stamped counts files whose mtime was (or would be) rewritten.
	Stamped int
	// Current counts files already carrying their commit time.
	Current int
	// Skipped counts tracked files with no commit yet or missing on disk.
	Skipped int
}

// Run restamps every tracked file selected by opts.
func Run(fsys fs.FileSystem, opts Options) (*Result, error) {
	for _, pat := range opts.Patterns {
		if !doublestar.ValidatePattern(pat) {
			return nil, workflow.Configf("invalid pattern %q", pat)
		}
	}

	tracked, err := trackedFiles(opts.Dir)
	if err != nil {
		return nil, err
	}
	times, err := commitTimes(opts.Dir)
	if err != nil {
		return nil, err
	}
	return apply(fsys, opts, tracked, times)
}

// apply stamps the tracked files using a path -> last-change time map.
func apply(fsys fs.FileSystem, opts Options, tracked []string, times map[string]time.Time) (*Result, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	res := &Result{}
	for _, path := range tracked {
		if !matches(opts.Patterns, path) {
			continue
		}
		when, ok := times[path]
		if !ok {
			// staged but never committed
			res.Skipped++
			continue
		}
		target := path
		if opts.Dir != "" {
			target = filepath.Join(opts.Dir, path)
		}
		st, err := fsys.Stat(target)
		if err != nil {
			res.Skipped++
			continue
		}
		if st.ModTime().Equal(when) {
			res.Current++
			continue
		}
		if opts.DryRun {
			if !opts.Quiet {
				fmt.Fprintf(out, "would restamp %s -> %s\n", path, when.Format(time.RFC3339))
			}
			res.Stamped++
			continue
		}
		if err := fsys.Chtimes(target, when, when); err != nil {
			return res, errors.Wrapf(err, "failed to restamp %s", path)
		}
		if !opts.Quiet {
			fmt.Fprintf(out, "restamped %s -> %s\n", path, when.Format(time.RFC3339))
		}
		res.Stamped++
	}
	if !opts.Quiet {
		verb := "restamped"
		if opts.DryRun {
			verb = "would restamp"
		}
		fmt.Fprintf(out, "%s %d files, %d already current, %d skipped\n",
			verb, res.Stamped, res.Current, res.Skipped)
	}
	return res, nil
}

func matches(patterns []string, path string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, path); err == nil && ok {
			return true
		}
	}
	return false
}

// trackedFiles lists the files git tracks, relative to the repository root.
func trackedFiles(dir string) ([]string, error) {
	out, err := gitOutput(dir, "ls-files", "-z")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, raw := range bytes.Split(out, []byte{0}) {
		if len(raw) > 0 {
			files = append(files, string(raw))
		}
	}
	return files, nil
}

// commitTimes streams one `git log` pass and returns each tracked path's
// most recent change time.
func commitTimes(dir string) (map[string]time.Time, error) {
	cmd := exec.Command("git", "-c", "core.quotepath=off",
		"log", "--pretty=format:%x00%ct", "--name-only")
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open git log stream")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to run git log")
	}

	times, perr := parseLog(stdout)
	if perr != nil {
		io.Copy(io.Discard, stdout)
	}
	if err := cmd.Wait(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, errors.Errorf("git log: %s", msg)
	}
	if perr != nil {
		return nil, perr
	}
	return times, nil
}

// parseLog reads a `git log --pretty=format:%x00%ct --name-only` stream.
// Commit headers are NUL-prefixed unix timestamps followed by the paths the
// commit touched. The log is newest-first, so a path's first appearance is
// its last change.
func parseLog(r io.Reader) (map[string]time.Time, error) {
	times := make(map[string]time.Time)
	var current time.Time
	haveCommit := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "\x00") {
			secs, err := strconv.ParseInt(line[1:], 10, 64)
			if err != nil {
				return nil, errors.Errorf("malformed git log stream: bad timestamp %q", line[1:])
			}
			current = time.Unix(secs, 0)
			haveCommit = true
			continue
		}
		if !haveCommit {
			return nil, errors.Errorf("malformed git log stream: path %q before any commit", line)
		}
		if _, seen := times[line]; !seen {
			times[line] = current
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read git log stream")
	}
	return times, nil
}

func gitOutput(dir string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, errors.Errorf("git %s: %s", args[0], msg)
	}
	return out, nil
}
