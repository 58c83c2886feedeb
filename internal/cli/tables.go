package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/datapipe/internal/graph"
	"github.com/roach88/datapipe/internal/rel"
)

// TableInfo is one row of the tables listing.
type TableInfo struct {
	Name    string   `json:"name"`
	Tier    string   `json:"tier"`
	Parents []string `json:"parents,omitempty"`
}

// NewTablesCommand creates the tables command.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List tables in dependency order",
		Long: `List every table of the database in topological dependency order,
with its tier (manual, lookup, imported, computed, part, settings) and its
direct parents.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(rootOpts, cmd)
		},
	}
	return cmd
}

func runTables(opts *RootOptions, cmd *cobra.Command) error {
	session, err := OpenSession(opts)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx := cmd.Context()
	if err := session.Graph.Load(ctx); err != nil {
		return err
	}

	var infos []TableInfo
	for _, node := range session.Graph.Nodes() {
		if rel.IsAliasNode(node) {
			continue
		}
		info := TableInfo{Name: node, Tier: string(rel.TierOf(node))}
		for parent := range session.Graph.Parents(node, graph.AllEdges) {
			if rel.IsAliasNode(parent) {
				in := session.Graph.InEdges(parent)
				if len(in) == 1 {
					parent = in[0].Parent
				}
			}
			info.Parents = append(info.Parents, parent)
		}
		sort.Strings(info.Parents)
		infos = append(infos, info)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.JSON() {
		return formatter.Success("", infos)
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tTIER\tPARENTS")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, info.Tier, strings.Join(info.Parents, ", "))
	}
	w.Flush()
	return formatter.Success(strings.TrimRight(sb.String(), "\n"), nil)
}
