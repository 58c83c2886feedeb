package conn

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/datapipe/internal/rel"
)

// Heading loads the heading of the named table from the database catalog.
//
// Primary-key attributes keep their declared key order even when it differs
// from column order.
func (c *Connection) Heading(ctx context.Context, table string) (*rel.Heading, error) {
	rows, err := c.Query(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("load heading for %s: %w", table, err)
	}
	defer rows.Close()

	type column struct {
		attr  rel.Attribute
		pkPos int
	}
	var cols []column
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("load heading for %s: %w", table, err)
		}
		cols = append(cols, column{
			attr: rel.Attribute{
				Name:     name,
				Type:     strings.ToLower(typ),
				InKey:    pk > 0,
				Nullable: notNull == 0 && pk == 0,
				Default:  dflt.String,
			},
			pkPos: pk,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load heading for %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, rel.NewUsageError("table %s is not declared", table)
	}

	// key attributes first in key order, then the rest in column order
	sort.SliceStable(cols, func(i, j int) bool {
		ki, kj := cols[i].pkPos, cols[j].pkPos
		if (ki > 0) != (kj > 0) {
			return ki > 0
		}
		if ki > 0 {
			return ki < kj
		}
		return false
	})

	attrs := make([]rel.Attribute, len(cols))
	for i, col := range cols {
		attrs[i] = col.attr
	}
	return rel.NewHeading(attrs), nil
}

// TableNames lists the user tables in the database in name order.
func (c *Connection) TableNames(ctx context.Context) ([]string, error) {
	rows, err := c.Query(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableExists reports whether the named table is declared.
func (c *Connection) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := c.QueryRow(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// OpenTable returns a handle on the named table with its heading loaded.
func (c *Connection) OpenTable(ctx context.Context, table string) (rel.Table, error) {
	heading, err := c.Heading(ctx, table)
	if err != nil {
		return rel.Table{}, err
	}
	return rel.Table{Name: table, Heading: heading}, nil
}
