package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/stagecoach-run/stagecoach/cache"
	"github.com/stagecoach-run/stagecoach/config"
	"github.com/stagecoach-run/stagecoach/executor"
	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/graph"
	"github.com/stagecoach-run/stagecoach/manifest"
)

var (
	runStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	skipStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true)
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

// loadGraph reads the manifest named by the configuration, or discovers one
// in the working directory, and builds the task graph.
func loadGraph(fsys fs.FileSystem, cfg *config.Config) (*graph.Graph, error) {
	path := cfg.Manifest
	if path == "" {
		var err error
		path, err = manifest.Discover(fsys, ".")
		if err != nil {
			return nil, err
		}
	}
	tasks, err := manifest.Load(fsys, path)
	if err != nil {
		return nil, err
	}
	return graph.Build(tasks)
}

// loadPipeline builds the graph and plans the goal's closure.
func loadPipeline(fsys fs.FileSystem, cfg *config.Config, goal string) (*executor.Plan, error) {
	g, err := loadGraph(fsys, cfg)
	if err != nil {
		return nil, err
	}
	return executor.BuildPlan(fsys, g, goal)
}

// openStore builds the cache tier for a run; nil means caching is off.
func openStore(fsys fs.FileSystem, cfg *config.Config) cache.Store {
	if !cfg.Cache.Enabled {
		return nil
	}
	local := cache.NewDirStore(fsys, cfg.Cache.Dir)
	if cfg.Cache.Remote == "" {
		return local
	}
	return cache.NewRemoteStore(local, cache.RemoteOptions{
		BaseURL: cfg.Cache.Remote,
		Push:    cfg.Cache.Push,
	})
}

// printPlan renders one line per task in execution order with the planner's
// verdict and reason.
func printPlan(w io.Writer, plan *executor.Plan) {
	fmt.Fprintf(w, "%d tasks in closure, %d to run\n", len(plan.Order), plan.StaleCount())
	for _, task := range plan.Order {
		d := plan.Decision(task.Name)
		verdict := skipStyle.Render("skip")
		switch {
		case d.Doomed != nil:
			verdict = failStyle.Render("fail")
		case d.Stale:
			verdict = runStyle.Render("run ")
		}
		fmt.Fprintf(w, "  %s  %-20s %s\n", verdict, task.Name, d.Reason)
	}
}

// printSummary renders the closing line of a run and, on failure, the first
// root cause.
func printSummary(w io.Writer, result *executor.RunResult) {
	counts := result.Counts()
	var parts []string
	for _, status := range []executor.Status{
		executor.Ran, executor.CacheHit, executor.Fresh, executor.Failed, executor.Blocked,
	} {
		if n := counts[status.String()]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, status.String()))
		}
	}
	line := fmt.Sprintf("finished in %s: %s",
		result.Took().Round(time.Millisecond), strings.Join(parts, ", "))
	if result.Failed() {
		fmt.Fprintln(w, failStyle.Render(line))
		if cause := result.Cause(); cause != nil {
			fmt.Fprintln(w, failStyle.Render("root cause:"), cause)
		}
		return
	}
	fmt.Fprintln(w, okStyle.Render(line))
}
