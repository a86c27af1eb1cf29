// opsyncctl is a minimal command-line driver for the opsync library: it
// loads a config file, opens a storage backend, registers a demo in-memory
// remote adapter, and lets you log operations and run sync() from the shell.
//
// Usage:
//
//	opsyncctl demo [--config <path>]   # log a handful of sample operations
//	opsyncctl sync [--config <path>]   # drain pending operations once
//	opsyncctl status [--config <path>] # show engine and storage state
package main

import (
	"fmt"
	"os"

	"github.com/opsync/opsync/cmd/opsyncctl/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "opsyncctl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
