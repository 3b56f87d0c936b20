package cli

import (
	"github.com/spf13/cobra"

	"github.com/stagecoach-run/stagecoach/fs"
)

var planCmd = &cobra.Command{
	Use:   "plan [target]",
	Short: "Show what a run would do, without running anything",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := ""
		if len(args) == 1 {
			goal = args[0]
		}
		plan, err := loadPipeline(fs.RealFileSystem{}, cfg, goal)
		if err != nil {
			return err
		}
		printPlan(cmd.OutOrStdout(), plan)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
