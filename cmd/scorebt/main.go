package main

import (
	"os"

	"github.com/wonny/scorebt/cmd/scorebt/commands"
)

// main is the entry point for the scorebt CLI
// ⭐ Unified CLI entry point: go run ./cmd/scorebt [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
