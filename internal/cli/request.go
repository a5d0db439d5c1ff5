package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/visibility"
)

// dateLayouts are accepted by --date, --start, and --end.
var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

func parseTime(flag, v string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, NewExitError(ExitCommandError,
		fmt.Sprintf("--%s: cannot parse %q (use RFC 3339 or 2006-01-02T15:04)", flag, v))
}

// NewRequestCommand groups the training request commands.
func NewRequestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Create, edit, review, and list training requests",
	}
	cmd.AddCommand(newRequestCreateCommand(rootOpts))
	cmd.AddCommand(newRequestEditCommand(rootOpts))
	cmd.AddCommand(newRequestTransitionCommand(rootOpts))
	cmd.AddCommand(newRequestListCommand(rootOpts))
	return cmd
}

// requestFields are the content flags shared by create and edit.
type requestFields struct {
	Title           string
	Description     string
	Specialization  string
	Province        string
	Date            string
	DurationHours   int
	MaxParticipants int
}

func (f *requestFields) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Title, "title", "", "training title")
	cmd.Flags().StringVar(&f.Description, "description", "", "longer description")
	cmd.Flags().StringVar(&f.Specialization, "spec", "", "specialization id (e.g. communication)")
	cmd.Flags().StringVar(&f.Province, "province", "", "province or location")
	cmd.Flags().StringVar(&f.Date, "date", "", "requested start (RFC 3339 or 2006-01-02T15:04)")
	cmd.Flags().IntVar(&f.DurationHours, "hours", 0, "duration in hours")
	cmd.Flags().IntVar(&f.MaxParticipants, "max", 0, "maximum participants")
}

func newRequestCreateCommand(rootOpts *RootOptions) *cobra.Command {
	fields := &requestFields{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "File a new training request",
		Example: `  trainflow request create --as u1 --role requester \
    --title "Public speaking basics" --spec communication \
    --province "Jawa Barat" --date 2024-01-10T09:00 --hours 3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := rootOpts.actor()
			if err != nil {
				return err
			}
			draft := domain.TrainingRequest{
				Title:           fields.Title,
				Description:     fields.Description,
				Specialization:  fields.Specialization,
				Province:        fields.Province,
				DurationHours:   fields.DurationHours,
				MaxParticipants: fields.MaxParticipants,
			}
			if fields.Date != "" {
				if draft.RequestedDate, err = parseTime("date", fields.Date); err != nil {
					return err
				}
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				res, err := a.svc.CreateRequest(ctx, actor, draft)
				if err != nil {
					return out.Fail("request not created", err)
				}
				return out.Success(res, func(w io.Writer) {
					printMutation(w, "created", res.Queued, res.ActionID)
					printRequest(w, res.Value)
				})
			})
		},
	}
	fields.bind(cmd)
	return cmd
}

func newRequestEditCommand(rootOpts *RootOptions) *cobra.Command {
	fields := &requestFields{}
	cmd := &cobra.Command{
		Use:           "edit <request-id>",
		Short:         "Change a request that is still under review",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := rootOpts.actor()
			if err != nil {
				return err
			}
			patch, err := fields.patch(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				res, err := a.svc.EditRequest(ctx, args[0], actor, patch)
				if err != nil {
					return out.Fail("request not edited", err)
				}
				return out.Success(res, func(w io.Writer) {
					printMutation(w, "edited", res.Queued, res.ActionID)
					printRequest(w, res.Value)
				})
			})
		},
	}
	fields.bind(cmd)
	return cmd
}

// patch includes only the flags the user set.
func (f *requestFields) patch(cmd *cobra.Command) (domain.ContentPatch, error) {
	var p domain.ContentPatch
	changed := cmd.Flags().Changed
	if changed("title") {
		p.Title = &f.Title
	}
	if changed("description") {
		p.Description = &f.Description
	}
	if changed("spec") {
		p.Specialization = &f.Specialization
	}
	if changed("province") {
		p.Province = &f.Province
	}
	if changed("date") {
		t, err := parseTime("date", f.Date)
		if err != nil {
			return domain.ContentPatch{}, err
		}
		p.RequestedDate = &t
	}
	if changed("hours") {
		p.DurationHours = &f.DurationHours
	}
	if changed("max") {
		p.MaxParticipants = &f.MaxParticipants
	}
	if p.Empty() {
		return domain.ContentPatch{}, NewExitError(ExitCommandError, "nothing to change: set at least one field flag")
	}
	return p, nil
}

func newRequestTransitionCommand(rootOpts *RootOptions) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "transition <request-id> <status>",
		Short: "Move a request to the next stage",
		Long: `Move a request to the next stage. Allowed stages depend on the
acting role; see the table below.

  UNDER_REVIEW   -> CC_APPROVED | REJECTED   reviewer_cc
  CC_APPROVED    -> PM_APPROVED              reviewer_pm
  PM_APPROVED    -> TR_ASSIGNED              supervisor (use "select")
  TR_ASSIGNED    -> SV_APPROVED              supervisor
  SV_APPROVED    -> FINAL_APPROVED           reviewer_pm
  FINAL_APPROVED -> SCHEDULED                requester
  SCHEDULED      -> COMPLETED                requester | trainer
  SCHEDULED      -> CANCELLED                requester`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := rootOpts.actor()
			if err != nil {
				return err
			}
			target := domain.Status(strings.ToUpper(args[1]))
			if !target.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown status %q", args[1]))
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				res, err := a.svc.SubmitTransition(ctx, args[0], target, actor, comment)
				if err != nil {
					return out.Fail("transition refused", err)
				}
				return out.Success(res, func(w io.Writer) {
					printMutation(w, "moved to "+string(res.Value.Status), res.Queued, res.ActionID)
					printRequest(w, res.Value)
				})
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "note recorded in the approval history")
	return cmd
}

func newRequestListCommand(rootOpts *RootOptions) *cobra.Command {
	var specs []string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List the requests visible to the acting user",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := rootOpts.actor()
			if err != nil {
				return err
			}
			viewer := visibility.Viewer{
				UserID:          actor.UserID,
				Role:            actor.Role,
				Specializations: domain.NewSpecSet(specs...),
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				reqs, err := a.svc.RequestsVisibleTo(ctx, viewer)
				if err != nil {
					return out.Fail("cannot list requests", err)
				}
				if reqs == nil {
					reqs = []domain.TrainingRequest{}
				}
				return out.Success(reqs, func(w io.Writer) {
					if len(reqs) == 0 {
						fmt.Fprintln(w, "No requests.")
						return
					}
					for _, r := range reqs {
						printRequest(w, r)
					}
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&specs, "spec", nil, "profile specialization labels (default: stored profile)")
	return cmd
}

// withApp opens the stack, runs fn, and closes it.
func withApp(cmd *cobra.Command, rootOpts *RootOptions, fn func(ctx context.Context, a *app, out *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, rootOpts.formatter(cmd))
}

func printMutation(w io.Writer, what string, queued bool, actionID string) {
	if queued {
		fmt.Fprintf(w, "Queued (%s): %s once back online\n", actionID, what)
		return
	}
	fmt.Fprintf(w, "OK: %s\n", what)
}

func printRequest(w io.Writer, r domain.TrainingRequest) {
	trainer := "-"
	if r.AssignedTrainerID != "" {
		trainer = r.AssignedTrainerID
	}
	fmt.Fprintf(w, "%-12s %-15s %-20s trainer=%-6s %s\n",
		r.ID, r.Status, r.Specialization, trainer, r.Title)
}
