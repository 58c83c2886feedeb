package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/datapipe/internal/cascade"
)

// DropOptions holds flags for the drop command.
type DropOptions struct {
	*RootOptions
	Yes bool
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DropOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drop <table>",
		Short: "Drop a table and every table that references it",
		Long: `Drop the table and, recursively, every table that references it,
leaves first. Dropping is not transactional: a mid-sequence failure leaves
already-dropped tables dropped.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrop(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "skip the interactive confirmation")

	return cmd
}

// dropReport is the JSON shape of a completed drop.
type dropReport struct {
	Dropped  []string         `json:"dropped"`
	Counts   map[string]int64 `json:"counts,omitempty"`
	Declined bool             `json:"declined,omitempty"`
}

func runDrop(opts *DropOptions, tableName string, cmd *cobra.Command) error {
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

	dropOpts := cascade.DropOptions{}
	if !opts.Yes && session.Config.safemodeOn() {
		dropOpts.Confirm = stdinConfirm
	}
	result, err := session.Cascade.Drop(ctx, table, dropOpts)
	if err != nil {
		return err
	}

	report := dropReport{Dropped: result.Dropped, Declined: result.Declined}
	if len(result.Counts) > 0 {
		report.Counts = make(map[string]int64, len(result.Counts))
		for _, c := range result.Counts {
			report.Counts[c.Table] = c.Rows
		}
	}

	var sb strings.Builder
	if result.Declined {
		sb.WriteString("drop declined")
	} else {
		for _, name := range result.Dropped {
			fmt.Fprintf(&sb, "dropped %s\n", name)
		}
		fmt.Fprintf(&sb, "%d tables dropped", len(result.Dropped))
	}
	if err := formatter.Success(sb.String(), report); err != nil {
		return err
	}
	if result.Declined {
		return NewExitError(ExitFailure, "drop declined")
	}
	return nil
}
