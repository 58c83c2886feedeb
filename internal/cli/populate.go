package cli

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/datapipe/internal/automake"
)

// The CLI carries one process-wide registry. Embedding programs register
// their computation functions and display symbols at startup, before
// Execute.
var (
	registryOnce sync.Once
	registry     *automake.Registry
)

// DefaultRegistry returns the process-wide computation registry.
func DefaultRegistry() *automake.Registry {
	registryOnce.Do(func() {
		registry = automake.NewRegistry()
	})
	return registry
}

// PopulateCmdOptions holds flags for the populate command.
type PopulateCmdOptions struct {
	*RootOptions
	Settings       string
	Where          []string
	MaxCalls       int
	SuppressErrors bool
}

// NewPopulateCommand creates the populate command.
func NewPopulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PopulateCmdOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "populate <table>",
		Short: "Compute the pending rows of an auto-populated table",
		Long: `Compute every pending key of an auto-populated table under a named
settings record: fetch the upstream entry, run the registered computation,
and insert the result. Each key runs in its own transaction.

Example:
  datapipe populate __filtered_response --settings default --max-calls 100`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPopulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Settings, "settings", "s", "", "settings record name (required)")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "extra restriction as key=value (repeatable)")
	cmd.Flags().IntVar(&opts.MaxCalls, "max-calls", 0, "cap on make calls (0 = no cap)")
	cmd.Flags().BoolVar(&opts.SuppressErrors, "suppress-errors", false, "log failed keys and keep going")
	_ = cmd.MarkFlagRequired("settings")

	return cmd
}

// populateReport is the JSON shape of a populate run.
type populateReport struct {
	Pending int              `json:"pending"`
	Made    int              `json:"made"`
	Errors  []populateFailed `json:"errors,omitempty"`
}

type populateFailed struct {
	Key   map[string]any `json:"key"`
	Error string         `json:"error"`
}

func runPopulate(opts *PopulateCmdOptions, tableName string, cmd *cobra.Command) error {
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

	engine := session.AutoMake(tableName, DefaultRegistry())
	populateOpts := automake.PopulateOptions{
		Driver: automake.SequentialDriver{
			SuppressErrors: opts.SuppressErrors,
			MaxCalls:       opts.MaxCalls,
		},
	}
	if cond != nil {
		populateOpts.Restrictions = append(populateOpts.Restrictions, cond)
	}

	result, err := engine.Populate(ctx, table, opts.Settings, populateOpts)
	if err != nil {
		return err
	}

	report := populateReport{Pending: result.Pending, Made: result.Made}
	for _, ke := range result.Errors {
		report.Errors = append(report.Errors, populateFailed{Key: ke.Key, Error: ke.Err.Error()})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d pending, %d made", result.Pending, result.Made)
	if len(result.Errors) > 0 {
		fmt.Fprintf(&sb, ", %d failed", len(result.Errors))
		for _, ke := range result.Errors {
			fmt.Fprintf(&sb, "\n  %v: %v", ke.Key, ke.Err)
		}
	}
	if err := formatter.Success(sb.String(), report); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d keys failed", len(result.Errors)))
	}
	return nil
}
