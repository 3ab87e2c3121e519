// Package cmd implements the agentcheck CLI: a single binary with
// subcommands mirroring the Service/Task Manager and
// Automation Driver operations.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/awe-dev/agentcheck/internal/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	quiet     bool

	appVersion string
)

var rootCmd = &cobra.Command{
	Use:   "agentcheck",
	Short: "Orchestrates multi-participant agent debates into verified repository changes",
	Long: `agentcheck drives a bounded sequence of discussion/review/verification
rounds between an author participant and one or more reviewer participants,
gating each round on test/lint results and reviewer verdicts, and optionally
fusing a sandbox workspace's changes back into a target tree.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records the build version shown by --version.
func SetVersion(version string) {
	appVersion = version
	rootCmd.Version = version
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .agentcheck/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "accepted but not read by any command; output is unchanged")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
