package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/update"
)

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	Where  []string
	Set    []string
	Policy string
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <table>",
		Short: "Update non-key attributes of exactly one row",
		Long: `Update non-key attributes of exactly one existing row. The update is
refused when downstream auto-populated tables depend on the row, unless the
policy says otherwise.

Example:
  datapipe update session --where session_id=7 --set operator=alice --policy warn`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "row selector as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "attribute to set as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Policy, "policy", string(update.PolicyRaise),
		"downstream-dependency policy (raise|warn|ignore)")
	_ = cmd.MarkFlagRequired("where")
	_ = cmd.MarkFlagRequired("set")

	return cmd
}

func runUpdate(opts *UpdateOptions, tableName string, cmd *cobra.Command) error {
	policy := update.Policy(opts.Policy)
	switch policy {
	case update.PolicyRaise, update.PolicyWarn, update.PolicyIgnore:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid policy %q", opts.Policy))
	}

	session, err := OpenSession(opts.RootOptions)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx := cmd.Context()
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	table, err := session.OpenTable(ctx, tableName)
	if err != nil {
		return err
	}
	cond, err := parseRestriction(opts.Where)
	if err != nil {
		return err
	}
	if cond == nil {
		return NewExitError(ExitCommandError, "update needs a --where selector")
	}
	table = table.Restrict(cond)

	setCond, err := parseRestriction(opts.Set)
	if err != nil {
		return err
	}
	setEq, ok := setCond.(rel.Eq)
	if !ok || len(setEq) == 0 {
		return NewExitError(ExitCommandError, "update needs at least one --set key=value")
	}
	fields := map[string]any(setEq)

	engine := update.New(session.Conn, session.Graph, update.WithLogger(slog.Default()))
	applied, err := engine.SaveUpdates(ctx, table, fields, policy)
	if err != nil {
		return err
	}

	if !applied {
		if err := formatter.Success("update skipped: downstream computed entries depend on this row",
			map[string]any{"applied": false}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "update skipped")
	}
	return formatter.Success("1 row updated", map[string]any{"applied": true})
}
