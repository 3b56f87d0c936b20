package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagecoach-run/stagecoach/executor"
	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [target]",
	Short: "Run the pipeline, then re-run it whenever a source file changes",
	Long: `Watch runs the target's closure, then watches every input that no task
produces. When one changes the pipeline is re-planned and re-run, so only the
tasks downstream of the change execute. Ctrl-C stops watching.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var watchDebounce time.Duration

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "quiet period before a re-run (default from configuration)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	goal := ""
	if len(args) == 1 {
		goal = args[0]
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	fsys := fs.RealFileSystem{}

	debounce := watchDebounce
	if debounce <= 0 {
		debounce = cfg.Watch.Debounce
	}

	for {
		plan, err := loadPipeline(fsys, cfg, goal)
		if err != nil {
			return err
		}

		rc := executor.NewRunContext(fsys, plan, executor.Options{
			Jobs:      cfg.Jobs,
			Store:     openStore(fsys, cfg),
			ReportDir: cfg.ReportDir,
		})
		rc.SetEvents(executor.NewTextSink(out))

		result, err := rc.Execute(ctx)
		if result == nil {
			return err
		}
		printSummary(out, result)
		if ctx.Err() != nil {
			return nil
		}

		w, err := watch.New(plan.Graph, goal, watch.Config{Debounce: debounce})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "watching for changes (Ctrl-C to stop)")

		select {
		case <-ctx.Done():
			w.Close()
			return nil
		case batch := <-w.Changes():
			w.Close()
			fmt.Fprintf(out, "changed: %s\n", strings.Join(batch, ", "))
		}
	}
}
