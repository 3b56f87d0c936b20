// Package cli wires the stagecoach command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stagecoach-run/stagecoach/config"
	"github.com/stagecoach-run/stagecoach/logging"
	"github.com/stagecoach-run/stagecoach/workflow"
)

// Version is stamped by the release build.
var Version = "dev"

var (
	flagDir    string
	flagConfig string

	// initErr carries a failure out of initConfig, which cannot return one.
	initErr error

	// cfg is the merged configuration, loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "stagecoach",
	Short: "Task graph runner for reproducible data pipelines",
	Long: `Stagecoach runs the tasks of a data pipeline in dependency order.

Tasks declare the files they read and the files they produce; edges are
derived by matching output paths to input paths. A task only runs when its
outputs are missing or older than its inputs, so a repeated build touches
nothing and a changed input reruns exactly the tasks downstream of it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if initErr != nil {
			return initErr
		}
		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = loaded
		if flagDir == "" && cfg.RootDir != "" {
			if err := os.Chdir(cfg.RootDir); err != nil {
				return errors.Wrapf(err, "failed to enter directory %s", cfg.RootDir)
			}
		}
		_, err = logging.Setup(cfg.Log.Level, cfg.Log.Format)
		return err
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = Version
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return workflow.Configf("%v", err)
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagDir, "dir", "C", "", "run as if started in this directory")
	pf.StringVar(&flagConfig, "config", "", "config file (default "+config.FileName+".yaml in the working directory)")
	pf.String("manifest", "", "pipeline manifest (default: discover stagecoach.star or stagecoach.yaml)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (text, json)")

	viper.BindPFlag("manifest", pf.Lookup("manifest"))
	viper.BindPFlag("log.level", pf.Lookup("log-level"))
	viper.BindPFlag("log.format", pf.Lookup("log-format"))
}

func initConfig() {
	if flagDir != "" {
		if err := os.Chdir(flagDir); err != nil {
			initErr = errors.Wrapf(err, "failed to enter directory %s", flagDir)
			return
		}
	}

	v := viper.GetViper()
	config.SetDefaults(v)

	if flagConfig != "" {
		v.SetConfigFile(flagConfig)
	} else {
		v.SetConfigName(config.FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if flagConfig != "" || !errors.As(err, &notFound) {
			initErr = workflow.Configf("failed to read configuration: %v", err)
		}
	}
}

var errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true)

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	// a failed run already printed its summary
	var rf *runFailedError
	if !errors.As(err, &rf) {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
	}
	return exitCode(err)
}
