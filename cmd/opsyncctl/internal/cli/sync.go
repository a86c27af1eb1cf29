package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsync/opsync/syncengine"
)

// NewSyncCommand creates the sync command, which drains pending operations
// once and reports the resulting status.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sync",
		Short:         "Drain pending operations against the registered adapters",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
	return cmd
}

func runSync(rootOpts *RootOptions, cmd *cobra.Command) error {
	a, err := newApp(rootOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "starting opsyncctl", err)
	}
	defer a.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if err := a.facade.Sync(ctx); err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	status := a.facade.Status()
	fmt.Fprintf(out, "status=%s completed=%d total=%d\n", status.Status, status.Completed, status.Total)
	if status.Status == syncengine.StatusError {
		return WrapExitError(ExitFailure, "sync reported an error", fmt.Errorf("%s", status.Error))
	}
	return nil
}
