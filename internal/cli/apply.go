package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/trainflow/internal/domain"
)

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "apply <request-id>",
		Short: "Bid on a PM-approved request as a trainer",
		Example: `  trainflow apply r1 --as t1 --role trainer --message "Ran this twice last year"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := rootOpts.actor()
			if err != nil {
				return err
			}
			if actor.Role != domain.RoleTrainer || actor.UserID == "" {
				return NewExitError(ExitCommandError, "apply needs --as <trainer-id> --role trainer")
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				res, err := a.svc.ApplyAsTrainer(ctx, args[0], actor.UserID, message)
				if err != nil {
					return out.Fail("application not recorded", err)
				}
				return out.Success(res, func(w io.Writer) {
					printMutation(w, "applied", res.Queued, res.ActionID)
					printApplication(w, res.Value)
				})
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "note to the supervisor")
	return cmd
}

// NewSelectCommand creates the select command.
func NewSelectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select <request-id> <trainer-id>",
		Short: "Assign a trainer to a request (supervisor)",
		Long: `Assign a trainer to a PM-approved request. The trainer must hold a
pending application. Every other pending application is rejected.
Selection needs the backing store and is never queued.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := rootOpts.actor()
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				sel, err := a.svc.SelectTrainer(ctx, args[0], args[1], actor)
				if err != nil {
					return out.Fail("selection failed", err)
				}
				return out.Success(sel, func(w io.Writer) {
					fmt.Fprintf(w, "OK: %s assigned to %s\n", sel.Request.AssignedTrainerID, sel.Request.ID)
					for _, rej := range sel.Rejected {
						fmt.Fprintf(w, "  rejected %s (%s)\n", rej.ID, rej.TrainerID)
					}
				})
			})
		},
	}
	return cmd
}

// NewProfileCommand creates the profile command.
func NewProfileCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		name  string
		specs []string
	)
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Set the acting trainer's specializations",
		Example: `  trainflow profile --as t1 --role trainer --name "Tini" \
    --spec "Communication Skills" --spec "Public Speaking"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := rootOpts.actor()
			if err != nil {
				return err
			}
			profile := domain.TrainerProfile{
				ID:              actor.UserID,
				DisplayName:     name,
				Specializations: domain.NewSpecSet(specs...),
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				res, err := a.svc.UpdateProfile(ctx, actor, profile)
				if err != nil {
					return out.Fail("profile not saved", err)
				}
				return out.Success(res, func(w io.Writer) {
					printMutation(w, "profile saved", res.Queued, res.ActionID)
					fmt.Fprintf(w, "%s: %v\n", res.Value.ID, res.Value.Specializations.Names())
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringArrayVar(&specs, "spec", nil, "specialization label (repeatable)")
	return cmd
}

func printApplication(w io.Writer, ta domain.TrainerApplication) {
	fmt.Fprintf(w, "%-12s request=%-12s trainer=%-8s %s\n",
		ta.ID, ta.TrainingRequestID, ta.TrainerID, ta.Status)
}
