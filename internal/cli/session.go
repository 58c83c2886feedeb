package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/datapipe/internal/automake"
	"github.com/roach88/datapipe/internal/cascade"
	"github.com/roach88/datapipe/internal/conn"
	"github.com/roach88/datapipe/internal/graph"
	"github.com/roach88/datapipe/internal/insert"
	"github.com/roach88/datapipe/internal/rel"
)

// Session wires the engines over one open database for the duration of a
// command.
type Session struct {
	Config  *Config
	Conn    *conn.Connection
	Graph   *graph.Graph
	Insert  *insert.Engine
	Cascade *cascade.Engine
}

// OpenSession loads the config, opens the database, and builds the engines.
// The caller closes the session.
func OpenSession(opts *RootOptions) (*Session, error) {
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.resolve(opts); err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfg.DB); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("database %s", cfg.DB), err)
	}
	c, err := conn.Open(cfg.DB, conn.WithLogger(slog.Default()))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening database", err)
	}

	g := graph.New(&graph.SchemaLoader{Conn: c})
	return &Session{
		Config:  cfg,
		Conn:    c,
		Graph:   g,
		Insert:  insert.New(c, g, insert.WithLogger(slog.Default())),
		Cascade: cascade.New(c, g, cascade.WithLogger(slog.Default())),
	}, nil
}

// Close releases the session's database connection.
func (s *Session) Close() error {
	return s.Conn.Close()
}

// OpenTable resolves a table name to a handle, with a command-error exit code
// for unknown tables.
func (s *Session) OpenTable(ctx context.Context, name string) (rel.Table, error) {
	exists, err := s.Conn.TableExists(ctx, name)
	if err != nil {
		return rel.Table{}, err
	}
	if !exists {
		return rel.Table{}, NewExitError(ExitCommandError, fmt.Sprintf("table %s does not exist", name))
	}
	return s.Conn.OpenTable(ctx, name)
}

// AutoMake builds the automake engine for one target, using the configured
// settings store and a registry supplied by the embedding program.
func (s *Session) AutoMake(target string, registry *automake.Registry) *automake.Engine {
	settingsTable := s.Config.settingsTableFor(target, automake.SettingsTableName)
	store := automake.NewStore(s.Conn, s.Insert, settingsTable, registry)
	return automake.NewEngine(s.Conn, s.Graph, s.Insert, store, registry,
		automake.WithLogger(slog.Default()))
}

// parseRestriction turns repeated key=value flags into an equality condition.
func parseRestriction(pairs []string) (rel.Cond, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	eq := rel.Eq{}
	for _, pair := range pairs {
		k, v, found := strings.Cut(pair, "=")
		if !found || k == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid restriction %q: expected key=value", pair))
		}
		eq[k] = v
	}
	return eq, nil
}

// stdinConfirm prompts on stderr and reads a yes/no answer from stdin.
func stdinConfirm(summary string) bool {
	fmt.Fprintln(os.Stderr, summary)
	fmt.Fprint(os.Stderr, "Proceed? [yes, No]: ")
	var answer string
	if _, err := fmt.Fscanln(os.Stdin, &answer); err != nil {
		return false
	}
	return strings.EqualFold(answer, "yes") || strings.EqualFold(answer, "y")
}
