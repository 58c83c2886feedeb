package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/datapipe/internal/cascade"
	"github.com/roach88/datapipe/internal/sqlgen"
)

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RootOptions
	Where  []string
	DryRun bool
	Yes    bool
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <table>",
		Short: "Cascading delete of matching rows and every dependent row",
		Long: `Delete the matching rows of a table and, transitively, every row that
depends on them, in one transaction.

Example:
  datapipe delete session --where subject_id=12 --dry-run
  datapipe delete session --where subject_id=12 --yes`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "restriction as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the cascade plan without deleting")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "skip the interactive confirmation")

	return cmd
}

// deletePlanStep is the JSON shape of one dry-run plan step.
type deletePlanStep struct {
	Table string `json:"table"`
	SQL   string `json:"sql"`
	Args  []any  `json:"args,omitempty"`
}

// deleteReport is the JSON shape of a completed delete.
type deleteReport struct {
	Status string           `json:"status"`
	Total  int64            `json:"total"`
	Counts map[string]int64 `json:"counts,omitempty"`
}

func runDelete(opts *DeleteOptions, tableName string, cmd *cobra.Command) error {
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
	if cond != nil {
		table = table.Restrict(cond)
	}

	if opts.DryRun {
		plan, err := session.Cascade.PlanDelete(ctx, table)
		if err != nil {
			return err
		}
		return printDeletePlan(formatter, plan)
	}

	deleteOpts := cascade.DeleteOptions{}
	if !opts.Yes && session.Config.safemodeOn() {
		deleteOpts.Confirm = stdinConfirm
	}
	result, err := session.Cascade.Delete(ctx, table, deleteOpts)
	if err != nil {
		return err
	}

	report := deleteReport{Status: string(result.Status), Total: result.Total}
	if len(result.Counts) > 0 {
		report.Counts = make(map[string]int64, len(result.Counts))
		for _, c := range result.Counts {
			report.Counts[c.Table] = c.Rows
		}
	}

	var sb strings.Builder
	for _, c := range result.Counts {
		fmt.Fprintf(&sb, "%s: %d rows\n", c.Table, c.Rows)
	}
	fmt.Fprintf(&sb, "%s (%d rows total)", result.Status, result.Total)
	if err := formatter.Success(sb.String(), report); err != nil {
		return err
	}
	if result.Status == cascade.StatusCancelled {
		return NewExitError(ExitFailure, "delete cancelled")
	}
	return nil
}

// printDeletePlan renders the cascade in execution order (leaves first).
func printDeletePlan(formatter *OutputFormatter, plan *cascade.DeletePlan) error {
	steps := make([]deletePlanStep, 0, len(plan.Steps))
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		query, params, err := sqlgen.DeleteSQL(plan.Steps[i].Table)
		if err != nil {
			return err
		}
		steps = append(steps, deletePlanStep{
			Table: plan.Steps[i].Table.Name,
			SQL:   query,
			Args:  params,
		})
	}
	if formatter.JSON() {
		return formatter.Success("", steps)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Cascade plan (%d tables, execution order):\n", len(steps))
	for _, step := range steps {
		fmt.Fprintf(&sb, "  %s\n    %s", step.Table, step.SQL)
		if len(step.Args) > 0 {
			fmt.Fprintf(&sb, "  args=%v", step.Args)
		}
		sb.WriteString("\n")
	}
	return formatter.Success(strings.TrimRight(sb.String(), "\n"), nil)
}
