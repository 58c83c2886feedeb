package graph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/datapipe/internal/conn"
)

// SchemaLoader reads the dependency catalog out of a SQLite database using
// the foreign_key_list and table_info pragmas.
type SchemaLoader struct {
	Conn *conn.Connection
}

// LoadSchema implements Loader.
func (l *SchemaLoader) LoadSchema(ctx context.Context) ([]string, []Edge, error) {
	tables, err := l.Conn.TableNames(ctx)
	if err != nil {
		return nil, nil, err
	}

	var edges []Edge
	for _, table := range tables {
		keySet, err := l.primaryKeySet(ctx, table)
		if err != nil {
			return nil, nil, err
		}
		fks, err := l.foreignKeys(ctx, table)
		if err != nil {
			return nil, nil, err
		}
		for _, fk := range fks {
			primary := true
			for child := range fk.AttrMap {
				if !keySet[child] {
					primary = false
					break
				}
			}
			fk.Primary = primary
			edges = append(edges, fk)
		}
	}
	return tables, edges, nil
}

func (l *SchemaLoader) primaryKeySet(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := l.Conn.Query(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("table_info %s: %w", table, err)
		}
		if pk > 0 {
			keys[name] = true
		}
	}
	return keys, rows.Err()
}

// foreignKeys groups the pragma's per-column rows into one edge per
// constraint id.
func (l *SchemaLoader) foreignKeys(ctx context.Context, table string) ([]Edge, error) {
	rows, err := l.Conn.Query(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("foreign_key_list %s: %w", table, err)
	}
	defer rows.Close()

	byID := make(map[int]*Edge)
	var order []int
	for rows.Next() {
		var (
			id, seq                      int
			parent, from                 string
			to                           sql.NullString
			onUpdate, onDelete, matching string
		)
		if err := rows.Scan(&id, &seq, &parent, &from, &to, &onUpdate, &onDelete, &matching); err != nil {
			return nil, fmt.Errorf("foreign_key_list %s: %w", table, err)
		}
		e, ok := byID[id]
		if !ok {
			e = &Edge{Child: table, Parent: parent, AttrMap: make(map[string]string)}
			byID[id] = e
			order = append(order, id)
		}
		target := to.String
		if !to.Valid {
			// implicit reference to the parent primary key, position-matched
			pk, err := l.parentKeyOrder(ctx, parent)
			if err != nil {
				return nil, err
			}
			if seq < len(pk) {
				target = pk[seq]
			}
		}
		e.AttrMap[from] = target
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edges := make([]Edge, 0, len(order))
	for _, id := range order {
		edges = append(edges, *byID[id])
	}
	return edges, nil
}

func (l *SchemaLoader) parentKeyOrder(ctx context.Context, table string) ([]string, error) {
	heading, err := l.Conn.Heading(ctx, table)
	if err != nil {
		return nil, err
	}
	return heading.PrimaryKey(), nil
}
