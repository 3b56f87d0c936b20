package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stagecoach-run/stagecoach/config"
	"github.com/stagecoach-run/stagecoach/executor"
	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/tui"
)

var runCmd = &cobra.Command{
	Use:   "run [target]",
	Short: "Run the pipeline, or the closure of one target",
	Long: `Run plans the target's dependency closure and executes every stale task in
dependency order. Without a target the whole pipeline runs. The target is a
task name, or the path of an artifact some task produces.

A task is stale when an output is missing, an input is newer than an output,
a dependency runs, or it declares no outputs at all. Everything else is
skipped. The exit code is 0 only if no task failed or was blocked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runJobs    int
	runDryRun  bool
	runUI      bool
	runNoCache bool
	runPush    bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVarP(&runJobs, "jobs", "j", config.Default().Jobs, "parallel workers")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the plan and run nothing")
	runCmd.Flags().BoolVar(&runUI, "ui", false, "interactive progress view")
	runCmd.Flags().BoolVar(&runNoCache, "no-cache", false, "run without the artifact cache")
	runCmd.Flags().BoolVar(&runPush, "cache-push", false, "upload cache entries to the remote")

	viper.BindPFlag("jobs", runCmd.Flags().Lookup("jobs"))
	viper.BindPFlag("cache.push", runCmd.Flags().Lookup("cache-push"))
}

func runRun(cmd *cobra.Command, args []string) error {
	goal := ""
	if len(args) == 1 {
		goal = args[0]
	}

	fsys := fs.RealFileSystem{}
	plan, err := loadPipeline(fsys, cfg, goal)
	if err != nil {
		return err
	}

	if runDryRun {
		printPlan(cmd.OutOrStdout(), plan)
		return nil
	}

	if runNoCache {
		cfg.Cache.Enabled = false
	}
	rc := executor.NewRunContext(fsys, plan, executor.Options{
		Jobs:      cfg.Jobs,
		Store:     openStore(fsys, cfg),
		ReportDir: cfg.ReportDir,
	})

	var result *executor.RunResult
	if runUI {
		result, err = runWithUI(cmd.Context(), rc, plan)
	} else {
		rc.SetEvents(executor.NewTextSink(cmd.OutOrStdout()))
		result, err = rc.Execute(cmd.Context())
	}
	if result == nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), result)
	if result.Failed() {
		return &runFailedError{cause: result.Cause()}
	}
	return err
}

// runWithUI executes the plan behind the interactive view. Quitting the view
// cancels the run.
func runWithUI(ctx context.Context, rc *executor.RunContext, plan *executor.Plan) (*executor.RunResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := tui.NewState(plan)
	rc.SetEvents(state)

	type outcome struct {
		result *executor.RunResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := rc.Execute(ctx)
		done <- outcome{result, err}
	}()

	uiErr := tui.Run(state, cancel)
	out := <-done
	if out.err == nil && uiErr != nil {
		out.err = uiErr
	}
	return out.result, out.err
}
