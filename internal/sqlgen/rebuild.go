package sqlgen

import (
	"fmt"
	"strings"

	"github.com/dfryer1193/sleipnir/api"
	"github.com/dfryer1193/sleipnir/internal/schema"
)

// copyRebuild synthesizes the table-rebuild strategy for dialects without
// flexible in-place ALTER: create a uniquely-suffixed table shaped as the
// live table with this one change applied, copy the columns common to both
// shapes, then drop the old table and rename the new one into place. The
// whole script runs in a single transaction.
//
// The rebuild target is derived from the live schema, never from the full
// declared definition: other changes pending on the same table stay
// unapplied until their own migrations execute, and the copy list can only
// name columns that exist live.
func (g *Generator) copyRebuild(change api.SchemaChange, live *schema.TableDef) ([]string, []string, error) {
	if live == nil {
		return nil, nil, fmt.Errorf("copy-rebuild %s.%s: no live definition", change.Table, change.Column)
	}

	rebuilt, err := applyToLive(*live, change)
	if err != nil {
		return nil, nil, err
	}

	forward := g.rebuildScript(rebuilt, commonColumns(*live, rebuilt))

	switch change.Kind {
	case api.DropColumn:
		// dropped data cannot be restored
		return forward, nil, nil
	default:
		rollback := g.rebuildScript(*live, commonColumns(rebuilt, *live))
		return forward, rollback, nil
	}
}

// rebuildScript builds the statement list that rebuilds target.Name into
// the target schema, copying copyCols from the existing table.
func (g *Generator) rebuildScript(target schema.TableDef, copyCols []string) []string {
	tmp := fmt.Sprintf("%s__rebuild_%s", target.Name, g.nonce())
	qTmp := quoteIdent(g.dialect, tmp)
	qOld := quoteIdent(g.dialect, target.Name)

	tmpDef := target
	tmpDef.Name = tmp

	stmts := []string{g.createTableSQL(tmpDef)}

	if len(copyCols) > 0 {
		quoted := strings.Join(quoteAll(g.dialect, copyCols), ", ")
		stmts = append(stmts, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", qTmp, quoted, quoted, qOld))
	}

	if g.opts.PreserveSequences && hasAutoincrement(target) {
		if g.dialect == api.DialectSQLite {
			// carry the sequence row across the swap; the rename re-points it
			stmts = append(stmts, fmt.Sprintf(
				"UPDATE sqlite_sequence SET name = '%s' WHERE name = '%s'",
				escapeLiteral(tmp), escapeLiteral(target.Name)))
		} else {
			g.logger.Warn().Str("table", target.Name).Msg("cannot preserve sequence state across rebuild")
		}
	}

	stmts = append(stmts,
		fmt.Sprintf("DROP TABLE %s", qOld),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", qTmp, qOld),
	)
	return stmts
}

// applyToLive returns the live table shape with exactly one change
// applied. The change must be consistent with the live shape; a mismatch
// fails loudly rather than producing a script that references columns the
// database does not have.
func applyToLive(live schema.TableDef, change api.SchemaChange) (schema.TableDef, error) {
	out := schema.TableDef{Name: live.Name}

	switch change.Kind {
	case api.AddColumn:
		if change.NewType == nil {
			return schema.TableDef{}, fmt.Errorf("add_column %s.%s: missing new type", live.Name, change.Column)
		}
		if _, exists := live.Column(change.Column); exists {
			return schema.TableDef{}, fmt.Errorf("add_column %s.%s: column already exists live", live.Name, change.Column)
		}
		out.Columns = append(append([]schema.ColumnDef(nil), live.Columns...), schema.ColumnDef{
			Name:     change.Column,
			Type:     change.NewType.Name,
			Nullable: change.NewType.Nullable,
			Default:  change.NewType.Default,
		})

	case api.DropColumn:
		if _, exists := live.Column(change.Column); !exists {
			return schema.TableDef{}, fmt.Errorf("drop_column %s.%s: no such live column", live.Name, change.Column)
		}
		for _, c := range live.Columns {
			if c.Name != change.Column {
				out.Columns = append(out.Columns, c)
			}
		}

	case api.AlterType, api.AlterConstraint:
		if change.NewType == nil {
			return schema.TableDef{}, fmt.Errorf("%s %s.%s: missing new type", change.Kind, live.Name, change.Column)
		}
		if _, exists := live.Column(change.Column); !exists {
			return schema.TableDef{}, fmt.Errorf("%s %s.%s: no such live column", change.Kind, live.Name, change.Column)
		}
		for _, c := range live.Columns {
			if c.Name == change.Column {
				c.Type = change.NewType.Name
				c.Nullable = change.NewType.Nullable
				c.Default = change.NewType.Default
			}
			out.Columns = append(out.Columns, c)
		}

	default:
		return schema.TableDef{}, fmt.Errorf("copy-rebuild: unsupported kind %q", change.Kind)
	}
	return out, nil
}

// commonColumns returns the names present in both definitions, in the
// destination's column order. Added columns stay out of the SELECT list;
// dropped columns stay out of the target list.
func commonColumns(src, dst schema.TableDef) []string {
	var out []string
	for _, c := range dst.Columns {
		if _, ok := src.Column(c.Name); ok {
			out = append(out, c.Name)
		}
	}
	return out
}

func hasAutoincrement(t schema.TableDef) bool {
	for _, c := range t.Columns {
		if strings.Contains(strings.ToUpper(c.Type), "AUTOINCREMENT") {
			return true
		}
	}
	return false
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
