package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/trainflow/internal/conflict"
)

// ConflictsOptions holds flags for the conflicts command.
type ConflictsOptions struct {
	*RootOptions
	Start     string
	End       string
	Location  string
	Attendees []string
}

// ConflictsResult is the conflicts command output.
type ConflictsResult struct {
	Conflicts   conflict.Report       `json:"conflicts"`
	Blocking    bool                  `json:"blocking"`
	Resolutions []conflict.Resolution `json:"resolutions"`
}

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConflictsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Check a proposed slot against the calendar",
		Long: `Check a proposed slot against existing events on the same days.

  time_overlap       high    intervals intersect (blocks scheduling)
  trainer_conflict   medium  an attendee is already booked that day
  location_conflict  low     the same location is used that day`,
		Example: `  trainflow conflicts --start 2024-01-10T09:00 --end 2024-01-10T11:00 \
    --location Room1 --attendee t1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Start, "start", "", "proposed start (required)")
	_ = cmd.MarkFlagRequired("start")
	cmd.Flags().StringVar(&opts.End, "end", "", "proposed end (required)")
	_ = cmd.MarkFlagRequired("end")
	cmd.Flags().StringVar(&opts.Location, "location", "", "proposed location")
	cmd.Flags().StringArrayVar(&opts.Attendees, "attendee", nil, "attendee user id (repeatable)")

	return cmd
}

func runConflicts(opts *ConflictsOptions, cmd *cobra.Command) error {
	start, err := parseTime("start", opts.Start)
	if err != nil {
		return err
	}
	end, err := parseTime("end", opts.End)
	if err != nil {
		return err
	}
	if !end.After(start) {
		return NewExitError(ExitCommandError, "--end must be after --start")
	}
	proposal := conflict.Proposal{Start: start, End: end, Location: opts.Location, Attendees: opts.Attendees}

	return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, out *OutputFormatter) error {
		report, err := a.svc.Conflicts(ctx, proposal)
		if err != nil {
			return out.Fail("conflict check failed", err)
		}
		if report == nil {
			report = conflict.Report{}
		}
		result := ConflictsResult{
			Conflicts:   report,
			Blocking:    report.HasBlocking(),
			Resolutions: report.Resolutions(),
		}
		return out.Success(result, func(w io.Writer) {
			if len(report) == 0 {
				fmt.Fprintln(w, "No conflicts.")
				return
			}
			for _, e := range report {
				fmt.Fprintf(w, "%-8s %-18s %s\n", e.Severity, e.Kind, e.EventID)
			}
			fmt.Fprintf(w, "Options: %v\n", result.Resolutions)
		})
	})
}
