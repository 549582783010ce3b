package config_test

import (
	"fmt"

	"github.com/wonny/scorebt/pkg/config"
)

// Example demonstrates how to use the config package
func Example() {
	// Load configuration (.env is optional)
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	// Access configuration values
	fmt.Printf("Environment: %s\n", cfg.Env)
	fmt.Printf("Top N: %d, min breadth: %d\n", cfg.Backtest.TopN, cfg.Backtest.MinBreadth)
	fmt.Printf("Starting cash: %s\n", cfg.Backtest.StartingCash)
}
