// Package main provides the entry point for the agentmesh CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/agentmesh/cmd/agentmesh/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
