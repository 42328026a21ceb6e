// Package sqlgen synthesizes forward and rollback DDL for detected schema
// changes. Dialects with flexible ALTER get direct statements; SQLite gets
// a copy-rebuild script for column-level changes.
package sqlgen

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/sleipnir/api"
	"github.com/dfryer1193/sleipnir/internal/schema"
)

// Options tune generation behavior.
type Options struct {
	// PreserveSequences carries auto-increment state across a copy-rebuild
	// swap where the dialect allows it. Dialects that cannot guarantee
	// continuity log a warning and proceed.
	PreserveSequences bool
}

// DefaultOptions preserves sequences.
func DefaultOptions() Options {
	return Options{PreserveSequences: true}
}

// Generator emits one Migration per SchemaChange.
type Generator struct {
	dialect api.Dialect
	opts    Options
	logger  zerolog.Logger

	now   func() time.Time
	nonce func() string
}

// versionSeq breaks same-second version ties: within one process, later
// generations always sort after earlier ones.
var versionSeq atomic.Uint64

// New creates a generator for the given dialect.
func New(dialect api.Dialect, opts Options) *Generator {
	return &Generator{
		dialect: dialect,
		opts:    opts,
		logger:  log.With().Str("component", "sqlgen").Logger(),
		now:     time.Now,
		nonce: func() string {
			seq := versionSeq.Add(1) % 1000000
			return fmt.Sprintf("%06d%s", seq, strings.ReplaceAll(uuid.NewString(), "-", "")[:2])
		},
	}
}

// Generate produces the migration for one change. declared is the table
// as declared in metadata and drives CREATE TABLE synthesis; live is the
// table as currently introspected and is the base shape for copy-rebuild,
// so each rebuild carries exactly one change. Either may be nil when the
// change kind does not need it.
func (g *Generator) Generate(change api.SchemaChange, declared, live *schema.TableDef) (api.Migration, error) {
	var forward, rollback []string
	var err error

	switch change.Kind {
	case api.AddTable:
		forward, rollback, err = g.addTable(change, declared)
	case api.DropTable:
		forward = []string{fmt.Sprintf("DROP TABLE %s", quoteIdent(g.dialect, change.Table))}
		// dropped data cannot be restored
		rollback = nil
	case api.AddColumn, api.DropColumn, api.AlterType, api.AlterConstraint:
		if g.dialect.SupportsFlexibleAlter() {
			forward, rollback, err = g.directDDL(change)
		} else {
			forward, rollback, err = g.copyRebuild(change, live)
		}
	default:
		err = fmt.Errorf("unsupported change kind %q", change.Kind)
	}
	if err != nil {
		return api.Migration{}, err
	}

	return api.Migration{
		Version:     g.version(),
		Description: change.Description,
		Forward:     forward,
		Rollback:    rollback,
		Risk:        change.Risk,
		Change:      change,
	}, nil
}

// version is sortable: UTC timestamp plus a nonce to break same-second ties.
func (g *Generator) version() string {
	return g.now().UTC().Format("20060102150405") + "_" + g.nonce()
}

func (g *Generator) addTable(change api.SchemaChange, target *schema.TableDef) ([]string, []string, error) {
	if target == nil {
		return nil, nil, fmt.Errorf("add_table %s: no declared definition", change.Table)
	}
	forward := []string{g.createTableSQL(*target)}
	rollback := []string{fmt.Sprintf("DROP TABLE %s", quoteIdent(g.dialect, change.Table))}
	return forward, rollback, nil
}

func (g *Generator) createTableSQL(t schema.TableDef) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = "    " + g.columnDDL(c)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", quoteIdent(g.dialect, t.Name), strings.Join(cols, ",\n"))
}

func (g *Generator) columnDDL(c schema.ColumnDef) string {
	var b strings.Builder
	b.WriteString(quoteIdent(g.dialect, c.Name))
	b.WriteString(" ")
	b.WriteString(c.Type)
	if c.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(*c.Default)
	}
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	return b.String()
}

// directDDL emits one forward statement and its semantic inverse for
// dialects with flexible in-place ALTER.
func (g *Generator) directDDL(change api.SchemaChange) ([]string, []string, error) {
	table := quoteIdent(g.dialect, change.Table)
	column := quoteIdent(g.dialect, change.Column)

	switch change.Kind {
	case api.AddColumn:
		def := schema.ColumnDef{
			Name:     change.Column,
			Type:     change.NewType.Name,
			Nullable: change.NewType.Nullable,
			Default:  change.NewType.Default,
		}
		forward := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, g.columnDDL(def))}
		rollback := []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, column)}
		return forward, rollback, nil

	case api.DropColumn:
		forward := []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, column)}
		return forward, nil, nil

	case api.AlterType:
		forward := []string{g.alterTypeSQL(change.Table, change.Column, *change.NewType)}
		rollback := []string{g.alterTypeSQL(change.Table, change.Column, *change.OldType)}
		return forward, rollback, nil

	case api.AlterConstraint:
		forward := []string{g.alterNullSQL(change.Table, change.Column, *change.NewType)}
		rollback := []string{g.alterNullSQL(change.Table, change.Column, *change.OldType)}
		return forward, rollback, nil
	}
	return nil, nil, fmt.Errorf("directDDL: unsupported kind %q", change.Kind)
}

func (g *Generator) alterTypeSQL(table, column string, target api.ColumnType) string {
	qt := quoteIdent(g.dialect, table)
	qc := quoteIdent(g.dialect, column)
	if g.dialect == api.DialectMySQL {
		return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s%s", qt, qc, target.Name, notNullSuffix(target))
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", qt, qc, target.Name)
}

func (g *Generator) alterNullSQL(table, column string, target api.ColumnType) string {
	qt := quoteIdent(g.dialect, table)
	qc := quoteIdent(g.dialect, column)
	if g.dialect == api.DialectMySQL {
		return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s%s", qt, qc, target.Name, notNullSuffix(target))
	}
	if target.Nullable {
		return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", qt, qc)
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", qt, qc)
}

func notNullSuffix(t api.ColumnType) string {
	if t.Nullable {
		return ""
	}
	return " NOT NULL"
}
