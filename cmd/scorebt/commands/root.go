package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/logger"
)

var (
	// Global flags
	configFile  string
	profileFile string
	verbose     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scorebt",
	Short: "Score-driven rebalancing backtester",
	Long: `scorebt replays dated score snapshots as a periodic rebalance:
on every snapshot with enough breadth it holds the top N scored symbols,
buys with whole shares from cash and writes a transaction ledger and a
valuation series.

Usage:
  go run ./cmd/scorebt [command]

Examples:
  go run ./cmd/scorebt backtest run --snapshots snapshots.json
  go run ./cmd/scorebt snapshots inspect --snapshots snapshots.json
  go run ./cmd/scorebt serve`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "env file (default is .env)")
	rootCmd.PersistentFlags().StringVar(&profileFile, "profile", "", "TOML strategy profile overriding backtest settings")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// setup loads config, applies the profile and builds the logger
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if profileFile != "" {
		profile, err := config.LoadProfile(profileFile)
		if err != nil {
			return nil, nil, err
		}
		if err := profile.Apply(cfg); err != nil {
			return nil, nil, err
		}
	}

	if verbose {
		cfg.LogLevel = "debug"
	}

	return cfg, logger.New(cfg), nil
}
