// Package main is the entry point for the agentctl CLI.
// The CLI is the developer terminal tool for interacting with the agentplane bridge API.
package main

import (
	"os"

	"agentplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
