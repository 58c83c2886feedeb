package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/datapipe/internal/insert"
)

// InsertOptions holds flags for the insert command.
type InsertOptions struct {
	*RootOptions
	File           string
	Replace        bool
	SkipDuplicates bool
	Record         bool
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InsertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "insert <table>",
		Short: "Insert rows from a YAML file",
		Long: `Insert the rows of a YAML file into a table. The file holds a list of
attribute maps. With --record, the rows form one logical record spanning the
master table and its part tables, written atomically.

Example:
  datapipe insert session --file rows.yaml
  datapipe insert recording --file record.yaml --record`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "YAML file with the rows (required)")
	cmd.Flags().BoolVar(&opts.Replace, "replace", false, "overwrite rows with the same primary key")
	cmd.Flags().BoolVar(&opts.SkipDuplicates, "skip-duplicates", false, "silently skip duplicate rows")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "treat the rows as one master/part record")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runInsert(opts *InsertOptions, tableName string, cmd *cobra.Command) error {
	data, err := os.ReadFile(opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("reading %s", opts.File), err)
	}
	var rows []map[string]any
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("parsing %s", opts.File), err)
	}
	if len(rows) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no rows in %s", opts.File))
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

	insertOpts := insert.Options{Replace: opts.Replace, SkipDuplicates: opts.SkipDuplicates}
	if opts.Record {
		err = session.Insert.Insert1P(ctx, table, rows, insertOpts)
	} else {
		anyRows := make([]any, len(rows))
		for i, row := range rows {
			anyRows[i] = row
		}
		err = session.Insert.Insert(ctx, table, anyRows, insertOpts)
	}
	if err != nil {
		return err
	}

	return formatter.Success(
		fmt.Sprintf("inserted %d row(s) into %s", len(rows), tableName),
		map[string]any{"table": tableName, "rows": len(rows)})
}
