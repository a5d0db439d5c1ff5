package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/trainflow/internal/domain"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	Config    string
	EnvFile   string
	Database  string
	ActorID   string
	ActorRole string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the trainflow CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "trainflow",
		Short: "trainflow - training request approvals",
		Long: `Coordinate training requests through review, trainer selection,
and scheduling, with offline changes queued and replayed on reconnect.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "trainflow.yaml", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "path to .env file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.ActorID, "as", "", "acting user id")
	cmd.PersistentFlags().StringVar(&opts.ActorRole, "role", "", "acting role ("+roleList()+")")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRequestCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewSelectCommand(opts))
	cmd.AddCommand(NewProfileCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))

	return cmd
}

// actor returns the identity given by --as and --role.
func (o *RootOptions) actor() (domain.Actor, error) {
	role := domain.Role(o.ActorRole)
	if !role.Valid() {
		return domain.Actor{}, NewExitError(ExitCommandError,
			fmt.Sprintf("--role must be one of %s", roleList()))
	}
	return domain.Actor{UserID: o.ActorID, Role: role}, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func roleList() string {
	var out string
	for i, r := range domain.AllRoles {
		if i > 0 {
			out += "|"
		}
		out += string(r)
	}
	return out
}
