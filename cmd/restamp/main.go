// Command restamp rewrites tracked files' modification times to the time of
// the commit that last changed them. Run it after cloning so mtime-based
// staleness checks see history, not checkout time.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/restamp"
)

type patternList []string

func (p *patternList) String() string { return strings.Join(*p, ",") }

func (p *patternList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func main() {
	var (
		dir      string
		dryRun   bool
		quiet    bool
		patterns patternList
	)
	flag.StringVar(&dir, "C", "", "repository to restamp (default: current directory)")
	flag.BoolVar(&dryRun, "n", false, "report what would change without touching files")
	flag.BoolVar(&quiet, "q", false, "print errors only")
	flag.Var(&patterns, "p", "restamp only tracked files matching this pattern (repeatable)")
	flag.Parse()

	_, err := restamp.Run(fs.RealFileSystem{}, restamp.Options{
		Dir:      dir,
		Patterns: patterns,
		DryRun:   dryRun,
		Quiet:    quiet,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "restamp:", err)
		os.Exit(1)
	}
}
