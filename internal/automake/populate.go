package automake

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/sqlgen"
)

// PopulateOptions controls one populate run.
type PopulateOptions struct {
	// Restrictions narrow the pending-key computation on top of the
	// record's stored restriction.
	Restrictions []rel.Cond

	// Driver runs the make calls. Defaults to a sequential driver.
	Driver Driver
}

// KeyError pairs a failed key with its error.
type KeyError struct {
	Key map[string]any
	Err error
}

// PopulateResult summarizes one populate run.
type PopulateResult struct {
	// Pending is the number of keys that needed computation.
	Pending int

	// Made is the number of keys computed and committed.
	Made int

	// Errors lists the keys whose make call failed, when the driver
	// suppresses errors instead of stopping.
	Errors []KeyError
}

// CallFunc computes and writes the rows for one key.
type CallFunc func(ctx context.Context, key map[string]any) error

// Driver schedules make calls over the pending keys.
type Driver interface {
	Drive(ctx context.Context, keys []map[string]any, call CallFunc) (made int, errs []KeyError, err error)
}

// SequentialDriver runs make calls one by one, in key order.
type SequentialDriver struct {
	// SuppressErrors collects per-key errors and keeps going instead of
	// stopping at the first failure.
	SuppressErrors bool

	// MaxCalls caps the number of make calls; zero means no cap.
	MaxCalls int

	Logger *slog.Logger
}

// Drive implements Driver.
func (d SequentialDriver) Drive(ctx context.Context, keys []map[string]any, call CallFunc) (int, []KeyError, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	made := 0
	var errs []KeyError
	for _, key := range keys {
		if d.MaxCalls > 0 && made+len(errs) >= d.MaxCalls {
			break
		}
		if err := ctx.Err(); err != nil {
			return made, errs, err
		}
		if err := call(ctx, key); err != nil {
			if !d.SuppressErrors {
				return made, errs, err
			}
			logger.Warn("make call failed", "key", key, "error", err)
			errs = append(errs, KeyError{Key: key, Err: err})
			continue
		}
		made++
	}
	return made, errs, nil
}

// Populate computes every pending key of the target under the named settings
// record: keys present in the upstream key source but absent from the target
// for that record.
//
// Each make call runs in its own transaction; a failed key never leaves a
// partial record behind. When the caller already holds a transaction, the
// calls join it and the caller finalizes.
func (e *Engine) Populate(ctx context.Context, target rel.Table, settingsName string, opts PopulateOptions) (*PopulateResult, error) {
	target, err := e.withHeading(ctx, target)
	if err != nil {
		return nil, err
	}
	rec, err := e.store.Fetch1(ctx, settingsName)
	if err != nil {
		return nil, err
	}
	if len(rec.FetchTables) == 0 {
		tables, err := e.fetcher.DefaultFetchTables(ctx, target.Name, e.store.TableName())
		if err != nil {
			return nil, err
		}
		rec.FetchTables = tables
	}

	extra := extraCond(opts.Restrictions)
	keys, err := e.pendingKeys(ctx, target, rec, extra)
	if err != nil {
		return nil, err
	}
	result := &PopulateResult{Pending: len(keys)}
	if len(keys) == 0 {
		return result, nil
	}
	e.logger.Info("populating", "table", target.Name, "settings", settingsName, "pending", len(keys))

	driver := opts.Driver
	if driver == nil {
		driver = SequentialDriver{Logger: e.logger}
	}

	call := func(ctx context.Context, key map[string]any) error {
		if e.conn.InTransaction() {
			return e.Make(ctx, target, rec, key, extra)
		}
		if err := e.conn.StartTransaction(ctx); err != nil {
			return err
		}
		if err := e.Make(ctx, target, rec, key, extra); err != nil {
			if cancelErr := e.conn.CancelTransaction(); cancelErr != nil {
				e.logger.Warn("cancel after failed make", "table", target.Name, "error", cancelErr)
			}
			return err
		}
		return e.conn.CommitTransaction()
	}

	made, errs, err := driver.Drive(ctx, keys, call)
	result.Made = made
	result.Errors = errs
	if err != nil {
		return result, err
	}
	return result, nil
}

// pendingKeys computes the keys still to be made: the distinct key projection
// of the upstream key source, minus the target's existing keys for this
// settings record.
func (e *Engine) pendingKeys(ctx context.Context, target rel.Table, rec *SettingsRecord, extra rel.Cond) ([]map[string]any, error) {
	keyAttrs := keyAttributes(target)
	if len(keyAttrs) == 0 {
		return nil, rel.NewUsageError(
			"table %s has no upstream key attributes to populate by", target.Name)
	}

	spec, _, err := e.fetcher.joinSpec(ctx, rec.FetchTables, nil, rec, extra)
	if err != nil {
		return nil, err
	}
	spec.Fields = keyAttrs
	spec.Distinct = true
	candidates, err := e.conn.FetchJoin(ctx, spec)
	if err != nil {
		return nil, err
	}

	doneSpec := sqlgen.SelectSpec{
		Table:    target.Restrict(rel.Eq{SettingsNameAttr: rec.Name}),
		Fields:   keyAttrs,
		Distinct: true,
	}
	if !target.Heading.Has(SettingsNameAttr) {
		doneSpec.Table = target
	}
	done, err := e.conn.FetchAll(ctx, doneSpec)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(done))
	for _, row := range done {
		existing[keyFingerprint(row, keyAttrs)] = true
	}

	var pending []map[string]any
	for _, row := range candidates {
		if existing[keyFingerprint(row, keyAttrs)] {
			continue
		}
		key := make(map[string]any, len(keyAttrs))
		for _, attr := range keyAttrs {
			key[attr] = row[attr]
		}
		pending = append(pending, key)
	}
	sort.Slice(pending, func(i, j int) bool {
		return keyFingerprint(pending[i], keyAttrs) < keyFingerprint(pending[j], keyAttrs)
	})
	return pending, nil
}

// keyAttributes returns the target's primary key minus the settings-record
// link: the upstream identity of one computed record.
func keyAttributes(target rel.Table) []string {
	var out []string
	for _, attr := range target.PrimaryKey() {
		if attr == SettingsNameAttr {
			continue
		}
		out = append(out, attr)
	}
	return out
}

func keyFingerprint(row map[string]any, attrs []string) string {
	parts := make([]string, len(attrs))
	for i, attr := range attrs {
		parts[i] = fmt.Sprintf("%v", normalizeKeyValue(row[attr]))
	}
	return strings.Join(parts, "\x00")
}

// normalizeKeyValue folds driver representations of the same key value
// together, so fetched and stored keys compare equal.
func normalizeKeyValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func extraCond(conds []rel.Cond) rel.Cond {
	if len(conds) == 0 {
		return nil
	}
	return rel.And(conds)
}
