package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command, which prints the status of
// the engine it starts (no sync runs in this process, so it reports idle
// with 0/0 progress; results of earlier runs are not read back) along with
// the configured device ID and storage driver.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show engine status and configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(rootOpts *RootOptions, cmd *cobra.Command) error {
	a, err := newApp(rootOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "starting opsyncctl", err)
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	status := a.facade.Status()

	fmt.Fprintf(out, "device_id:  %s\n", a.cfg.DeviceID)
	fmt.Fprintf(out, "storage:    %s\n", a.cfg.Storage.Driver)
	fmt.Fprintf(out, "syncing:    %t\n", a.facade.IsSyncing())
	fmt.Fprintf(out, "status:     %s\n", status.Status)
	fmt.Fprintf(out, "progress:   %d/%d\n", status.Completed, status.Total)
	if status.Error != "" {
		fmt.Fprintf(out, "last error: %s\n", status.Error)
	}
	return nil
}
