package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagecoach-run/stagecoach/cache"
	"github.com/stagecoach-run/stagecoach/fs"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the artifact cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the local cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := cache.NewDirStore(fs.RealFileSystem{}, cfg.Cache.Dir)
		stats, err := store.Stats()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cache %s\n", cfg.Cache.Dir)
		fmt.Fprintf(out, "  entries: %d\n", stats.Entries)
		fmt.Fprintf(out, "  blobs:   %d (%s)\n", stats.Blobs, formatBytes(stats.BlobBytes))
		return nil
	},
}

var cacheMaxAge time.Duration

var cacheGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Drop old cache entries and sweep unreferenced blobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := cache.NewDirStore(fs.RealFileSystem{}, cfg.Cache.Dir)
		entries, blobs, err := store.GC(time.Now().Add(-cacheMaxAge))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries and %d blobs\n", entries, blobs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheGCCmd)

	cacheGCCmd.Flags().DurationVar(&cacheMaxAge, "max-age", 30*24*time.Hour, "drop entries older than this")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
