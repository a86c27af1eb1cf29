// Package cli implements the opsyncctl subcommand tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/opsync/opsync/config"
)

// RootOptions holds global flags shared by every subcommand.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the opsyncctl CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "opsyncctl",
		Short: "opsyncctl drives the opsync operation-log sync engine from the shell",
	}

	defaultCfg, _ := config.DefaultPath()
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", defaultCfg, "path to config.yaml")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}
