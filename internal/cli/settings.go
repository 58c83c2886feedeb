package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/datapipe/internal/automake"
)

// settingsSchema constrains a pushed settings document. Validation runs
// before anything touches the database.
const settingsSchema = `
#Binding: {
	column?:  string & !=""
	columns?: [...string & !=""]
	container?: "list" | "tuple" | "set"
	mapping?: {[string]: string & !=""}
}

#Settings: {
	name:         string & !=""
	description?: string
	func:         string & !=""
	fetch_method: "fetch1" | "fetch"
	global_settings?: {...}
	entry_settings?: {[string]: #Binding}
	fetch_tables?: [...{
		table: string & !=""
		attrs?: [...string & !=""]
		renames?: {[string]: string & !=""}
	}]
	restriction?: {
		eq?: {...}
		sql?: string
	}
	parse_unique?: [...string & !=""]
	splice_args?:   string
	splice_kwargs?: string
}

table:    string & !=""
settings: #Settings
`

// NewSettingsCommand creates the settings command group.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage settings records of auto-populated tables",
	}
	cmd.AddCommand(newSettingsPushCommand(rootOpts))
	cmd.AddCommand(newSettingsListCommand(rootOpts))
	return cmd
}

func newSettingsPushCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <file.yaml>",
		Short: "Validate and store settings records from a YAML file",
		Long: `Read one or more settings documents from a YAML file, validate each
against the settings schema, and insert it into the target table's settings
store. The store is created when missing.

Each document names its target table:

  table: __filtered_response
  settings:
    name: default
    func: bandpass
    fetch_method: fetch1
    entry_settings:
      trace: {column: response}`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsPush(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func newSettingsListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "list <table>",
		Short:         "List the settings records of an auto-populated table",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsList(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

// settingsDoc is the YAML shape of one pushed document.
type settingsDoc struct {
	Table    string      `yaml:"table"`
	Settings settingsDef `yaml:"settings"`
}

type settingsDef struct {
	Name           string                `yaml:"name"`
	Description    string                `yaml:"description"`
	Func           string                `yaml:"func"`
	FetchMethod    string                `yaml:"fetch_method"`
	GlobalSettings map[string]any        `yaml:"global_settings"`
	EntrySettings  map[string]bindingDef `yaml:"entry_settings"`
	FetchTables    []fetchTableDef       `yaml:"fetch_tables"`
	Restriction    *restrictionDef       `yaml:"restriction"`
	ParseUnique    []string              `yaml:"parse_unique"`
	SpliceArgs     string                `yaml:"splice_args"`
	SpliceKwargs   string                `yaml:"splice_kwargs"`
}

type bindingDef struct {
	Column    string            `yaml:"column"`
	Columns   []string          `yaml:"columns"`
	Container string            `yaml:"container"`
	Mapping   map[string]string `yaml:"mapping"`
}

type fetchTableDef struct {
	Table   string            `yaml:"table"`
	Attrs   []string          `yaml:"attrs"`
	Renames map[string]string `yaml:"renames"`
}

type restrictionDef struct {
	Eq  map[string]any `yaml:"eq"`
	SQL string         `yaml:"sql"`
}

func runSettingsPush(opts *RootOptions, path string, cmd *cobra.Command) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("reading %s", path), err)
	}

	docs, err := decodeSettingsDocs(data)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no settings documents in %s", path))
	}

	schema, err := compileSettingsSchema()
	if err != nil {
		return err
	}
	for i, doc := range docs {
		if err := validateSettingsDoc(schema, doc.raw); err != nil {
			return WrapExitError(ExitCommandError,
				fmt.Sprintf("%s: document %d failed validation", path, i+1), err)
		}
	}

	session, err := OpenSession(opts)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx := cmd.Context()
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	var pushed []string
	for _, doc := range docs {
		engine := session.AutoMake(doc.parsed.Table, DefaultRegistry())
		store := engine.Store()
		if err := store.Create(ctx, automake.SQLCompiler{Conn: session.Conn}); err != nil {
			return err
		}
		if err := store.Insert(ctx, doc.parsed.Settings.record()); err != nil {
			return err
		}
		pushed = append(pushed, fmt.Sprintf("%s/%s", doc.parsed.Table, doc.parsed.Settings.Name))
	}

	return formatter.Success(
		fmt.Sprintf("pushed %d settings record(s): %s", len(pushed), strings.Join(pushed, ", ")),
		map[string]any{"pushed": pushed})
}

func runSettingsList(opts *RootOptions, tableName string, cmd *cobra.Command) error {
	session, err := OpenSession(opts)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx := cmd.Context()
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	engine := session.AutoMake(tableName, DefaultRegistry())
	records, err := engine.Store().List(ctx)
	if err != nil {
		return err
	}

	if formatter.JSON() {
		return formatter.Success("", records)
	}
	var sb strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&sb, "%s\tfunc=%s\tfetch=%s", rec.Name, rec.Func, rec.FetchMethod)
		if rec.Description != "" {
			fmt.Fprintf(&sb, "\t%s", rec.Description)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "%d record(s)", len(records))
	return formatter.Success(sb.String(), nil)
}

// parsedDoc pairs the typed document with its raw form for validation.
type parsedDoc struct {
	parsed settingsDoc
	raw    map[string]any
}

// decodeSettingsDocs reads every YAML document in the file.
func decodeSettingsDocs(data []byte) ([]parsedDoc, error) {
	var docs []parsedDoc

	typed := yaml.NewDecoder(strings.NewReader(string(data)))
	raw := yaml.NewDecoder(strings.NewReader(string(data)))
	for {
		var doc settingsDoc
		err := typed.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "parsing settings YAML", err)
		}
		var rawDoc map[string]any
		if err := raw.Decode(&rawDoc); err != nil {
			return nil, WrapExitError(ExitCommandError, "parsing settings YAML", err)
		}
		docs = append(docs, parsedDoc{parsed: doc, raw: rawDoc})
	}
	return docs, nil
}

func compileSettingsSchema() (cue.Value, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(settingsSchema)
	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile settings schema: %w", err)
	}
	return schema, nil
}

// validateSettingsDoc unifies the document with the schema and requires a
// concrete result.
func validateSettingsDoc(schema cue.Value, doc map[string]any) error {
	value := schema.Context().Encode(doc)
	if err := value.Err(); err != nil {
		return err
	}
	unified := schema.Unify(value)
	if err := unified.Err(); err != nil {
		return err
	}
	return unified.Validate(cue.Final(), cue.Concrete(true))
}

// record converts the YAML definition to a settings record.
func (d settingsDef) record() automake.SettingsRecord {
	rec := automake.SettingsRecord{
		Name:           d.Name,
		Description:    d.Description,
		Func:           d.Func,
		FetchMethod:    d.FetchMethod,
		GlobalSettings: d.GlobalSettings,
		ParseUnique:    d.ParseUnique,
		SpliceArgs:     d.SpliceArgs,
		SpliceKwargs:   d.SpliceKwargs,
	}
	if len(d.EntrySettings) > 0 {
		rec.EntrySettings = make(map[string]automake.EntryBinding, len(d.EntrySettings))
		for name, b := range d.EntrySettings {
			rec.EntrySettings[name] = automake.EntryBinding{
				Column:    b.Column,
				Columns:   b.Columns,
				Container: automake.ContainerKind(b.Container),
				Mapping:   b.Mapping,
			}
		}
	}
	for _, ft := range d.FetchTables {
		rec.FetchTables = append(rec.FetchTables, automake.FetchTable{
			Table:   ft.Table,
			Attrs:   ft.Attrs,
			Renames: ft.Renames,
		})
	}
	if d.Restriction != nil {
		rec.Restriction = &automake.StoredRestriction{Eq: d.Restriction.Eq, SQL: d.Restriction.SQL}
	}
	return rec
}
