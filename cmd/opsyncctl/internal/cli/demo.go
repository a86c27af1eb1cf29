package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsync/opsync/operation"
)

// NewDemoCommand creates the demo command, which logs a handful of sample
// operations against the "widget" entity type so a subsequent `sync` has
// something to drain.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "demo",
		Short:         "Log a handful of sample widget operations",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(rootOpts, cmd)
		},
	}
	return cmd
}

func runDemo(rootOpts *RootOptions, cmd *cobra.Command) error {
	a, err := newApp(rootOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "starting opsyncctl", err)
	}
	defer a.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if err := a.facade.LogCreate(ctx, "widget", "w1", operation.Payload{"name": "gizmo", "color": "red"}); err != nil {
		return WrapExitError(ExitCommandError, "logging create", err)
	}
	fmt.Fprintln(out, "logged create widget/w1")

	if err := a.facade.LogUpdate(ctx, "widget", "w1", operation.Payload{"color": "blue"}); err != nil {
		return WrapExitError(ExitCommandError, "logging update", err)
	}
	fmt.Fprintln(out, "logged update widget/w1")

	if err := a.facade.LogCreate(ctx, "widget", "w2", operation.Payload{"name": "sprocket"}); err != nil {
		return WrapExitError(ExitCommandError, "logging create", err)
	}
	fmt.Fprintln(out, "logged create widget/w2")

	fmt.Fprintln(out, "run `opsyncctl sync` to drain these operations")
	return nil
}
