package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/trainflow/internal/domain"
)

// NewQueueCommand groups the offline queue commands.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay queued offline changes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List queued changes in replay order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				actions := a.queue.Actions()
				if actions == nil {
					actions = []domain.OfflineAction{}
				}
				return out.Success(actions, func(w io.Writer) {
					if len(actions) == 0 {
						fmt.Fprintln(w, "Queue is empty.")
						return
					}
					for _, act := range actions {
						fmt.Fprintf(w, "%-38s %-20s retries=%d/%d %s\n",
							act.ID, act.Type, act.RetryCount, act.MaxRetries, act.LastError)
					}
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "drain",
		Short:         "Replay queued changes now",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				res := a.svc.Drain(ctx)
				if err := out.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "Replayed %d, dropped %d, %d still queued\n", res.Succeeded, res.Dropped, res.Retained)
				}); err != nil {
					return err
				}
				if res.Dropped > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d queued change(s) could not be delivered", res.Dropped))
				}
				return nil
			})
		},
	})
	return cmd
}
