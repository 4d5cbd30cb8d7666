// Package main is the entry point for the tracesync agent.
// Its sole responsibility is executing the CLI command tree.
// No sync logic belongs here.
package main

import (
	"os"

	"github.com/pkordes/tracesync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
