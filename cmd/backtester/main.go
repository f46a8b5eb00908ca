package main

import (
	"os"

	"github.com/mpaton/backtester/cmd/backtester/commands"
)

// main is the entry point for the backtester CLI
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
