package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/sleipnir/api"
)

// DefaultDetectTimeout bounds schema introspection so process startup never
// stalls on a large or overloaded database.
const DefaultDetectTimeout = 30 * time.Second

// Detector diffs declared metadata against the live schema. Detection is a
// pure read; it never mutates state.
type Detector struct {
	meta    MetadataProvider
	intro   Introspector
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDetector creates a Detector. A non-positive timeout falls back to
// DefaultDetectTimeout.
func NewDetector(meta MetadataProvider, intro Introspector, timeout time.Duration) *Detector {
	if timeout <= 0 {
		timeout = DefaultDetectTimeout
	}
	return &Detector{
		meta:    meta,
		intro:   intro,
		timeout: timeout,
		logger:  log.With().Str("component", "detector").Logger(),
	}
}

// DetectChanges reflects the live schema and returns the ordered drift
// between it and the declared metadata: table creations first, then column
// changes in declaration order, then constraint-only changes. Tables that
// exist live but are not declared are left untouched. A deadline hit is
// reported as a timeout-flavored DetectionError.
func (d *Detector) DetectChanges(ctx context.Context) ([]api.SchemaChange, error) {
	changes, _, err := d.Detect(ctx)
	return changes, err
}

// Detect is DetectChanges plus the live snapshot the diff was computed
// against, keyed by table name. Migration generation works from the same
// snapshot so a script cannot reference columns the database does not have.
func (d *Detector) Detect(ctx context.Context) ([]api.SchemaChange, map[string]TableDef, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	declared, err := d.meta.DeclaredTables(ctx)
	if err != nil {
		return nil, nil, &api.DetectionError{Err: fmt.Errorf("loading declared metadata: %w", err)}
	}

	live, err := d.intro.LiveTables(ctx)
	if err != nil {
		return nil, nil, detectionErr(err)
	}

	var creations, columns, constraints []api.SchemaChange

	for _, want := range declared {
		have, exists := live[want.Name]
		if !exists {
			creations = append(creations, api.SchemaChange{
				Kind:        api.AddTable,
				Table:       want.Name,
				Description: fmt.Sprintf("create table %s (%d columns)", want.Name, len(want.Columns)),
			})
			continue
		}

		tableCols, tableCons := d.diffTable(ctx, want, have)
		columns = append(columns, tableCols...)
		constraints = append(constraints, tableCons...)
	}

	changes := append(creations, columns...)
	changes = append(changes, constraints...)

	d.logger.Debug().
		Int("changes", len(changes)).
		Int("declared_tables", len(declared)).
		Msg("drift detection complete")

	return changes, live, nil
}

// diffTable compares one declared table with its live counterpart. Type and
// nullability drift on the same column yields two independent changes.
func (d *Detector) diffTable(ctx context.Context, want, have TableDef) (cols, cons []api.SchemaChange) {
	for _, wc := range want.Columns {
		hc, exists := have.Column(wc.Name)
		if !exists {
			change := api.SchemaChange{
				Kind:        api.AddColumn,
				Table:       want.Name,
				Column:      wc.Name,
				NewType:     colType(wc),
				Description: fmt.Sprintf("add column %s.%s %s", want.Name, wc.Name, wc.Type),
			}
			if !wc.Nullable && wc.Default == nil {
				change.TablePopulated = d.tablePopulated(ctx, want.Name)
			}
			cols = append(cols, change)
			continue
		}

		if !typesEqual(wc.Type, hc.Type) {
			cols = append(cols, api.SchemaChange{
				Kind:        api.AlterType,
				Table:       want.Name,
				Column:      wc.Name,
				OldType:     colType(hc),
				NewType:     colType(wc),
				Description: fmt.Sprintf("alter %s.%s type %s -> %s", want.Name, wc.Name, hc.Type, wc.Type),
			})
		}

		if wc.Nullable != hc.Nullable {
			cons = append(cons, api.SchemaChange{
				Kind:           api.AlterConstraint,
				Table:          want.Name,
				Column:         wc.Name,
				OldType:        colType(hc),
				NewType:        colType(wc),
				Description:    fmt.Sprintf("alter %s.%s nullable %t -> %t", want.Name, wc.Name, hc.Nullable, wc.Nullable),
				TablePopulated: !wc.Nullable && d.tablePopulated(ctx, want.Name),
			})
		}
	}

	for _, hc := range have.Columns {
		if _, declared := want.Column(hc.Name); !declared {
			cols = append(cols, api.SchemaChange{
				Kind:        api.DropColumn,
				Table:       want.Name,
				Column:      hc.Name,
				OldType:     colType(hc),
				Description: fmt.Sprintf("drop column %s.%s", want.Name, hc.Name),
			})
		}
	}

	return cols, cons
}

// tablePopulated errs toward caution: if the row check fails, the table is
// treated as populated so risk classification cannot be understated.
func (d *Detector) tablePopulated(ctx context.Context, table string) bool {
	populated, err := d.intro.HasRows(ctx, table)
	if err != nil {
		d.logger.Warn().Err(err).Str("table", table).Msg("row check failed; assuming populated")
		return true
	}
	return populated
}

func detectionErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &api.DetectionError{Timeout: true, Err: err}
	}
	return &api.DetectionError{Err: fmt.Errorf("introspecting live schema: %w", err)}
}

func colType(c ColumnDef) *api.ColumnType {
	return &api.ColumnType{Name: c.Type, Nullable: c.Nullable, Default: c.Default}
}

// typesEqual compares type names case-insensitively, ignoring surrounding
// whitespace. "INTEGER" and "integer" are the same type.
func typesEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
