package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dfryer1193/sleipnir/api"
)

// NewIntrospector returns the live-schema reflector for the given dialect.
func NewIntrospector(dialect api.Dialect, db *sql.DB) (Introspector, error) {
	switch dialect {
	case api.DialectPostgres:
		return &postgresIntrospector{db: db}, nil
	case api.DialectMySQL:
		return &mysqlIntrospector{db: db}, nil
	case api.DialectSQLite:
		return &sqliteIntrospector{db: db}, nil
	default:
		return nil, fmt.Errorf("no introspector for dialect %q", dialect)
	}
}

type postgresIntrospector struct {
	db *sql.DB
}

func (p *postgresIntrospector) LiveTables(ctx context.Context) (map[string]TableDef, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT table_name, column_name, data_type, is_nullable, column_default
        FROM information_schema.columns
        WHERE table_schema = current_schema()
        ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("querying information_schema.columns: %w", err)
	}
	defer rows.Close()

	tables := make(map[string]TableDef)
	for rows.Next() {
		var table, column, dataType, nullable string
		var def sql.NullString
		if err := rows.Scan(&table, &column, &dataType, &nullable, &def); err != nil {
			return nil, fmt.Errorf("scanning column row: %w", err)
		}
		t := tables[table]
		t.Name = table
		col := ColumnDef{
			Name:     column,
			Type:     dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		}
		if def.Valid {
			v := def.String
			col.Default = &v
		}
		t.Columns = append(t.Columns, col)
		tables[table] = t
	}
	return tables, rows.Err()
}

func (p *postgresIntrospector) HasRows(ctx context.Context, table string) (bool, error) {
	return hasRows(ctx, p.db, quoteDouble(table))
}

type mysqlIntrospector struct {
	db *sql.DB
}

func (m *mysqlIntrospector) LiveTables(ctx context.Context) (map[string]TableDef, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT table_name, column_name, column_type, is_nullable, column_default
        FROM information_schema.columns
        WHERE table_schema = DATABASE()
        ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("querying information_schema.columns: %w", err)
	}
	defer rows.Close()

	tables := make(map[string]TableDef)
	for rows.Next() {
		var table, column, colType, nullable string
		var def sql.NullString
		if err := rows.Scan(&table, &column, &colType, &nullable, &def); err != nil {
			return nil, fmt.Errorf("scanning column row: %w", err)
		}
		t := tables[table]
		t.Name = table
		col := ColumnDef{
			Name:     column,
			Type:     colType,
			Nullable: strings.EqualFold(nullable, "YES"),
		}
		if def.Valid {
			v := def.String
			col.Default = &v
		}
		t.Columns = append(t.Columns, col)
		tables[table] = t
	}
	return tables, rows.Err()
}

func (m *mysqlIntrospector) HasRows(ctx context.Context, table string) (bool, error) {
	return hasRows(ctx, m.db, "`"+strings.ReplaceAll(table, "`", "``")+"`")
}

type sqliteIntrospector struct {
	db *sql.DB
}

func (s *sqliteIntrospector) LiveTables(ctx context.Context) (map[string]TableDef, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT name FROM sqlite_master
        WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
        ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying sqlite_master: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make(map[string]TableDef, len(names))
	for _, name := range names {
		t, err := s.tableInfo(ctx, name)
		if err != nil {
			return nil, err
		}
		tables[name] = t
	}
	return tables, nil
}

func (s *sqliteIntrospector) tableInfo(ctx context.Context, table string) (TableDef, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteDouble(table)))
	if err != nil {
		return TableDef{}, fmt.Errorf("PRAGMA table_info(%s): %w", table, err)
	}
	defer rows.Close()

	t := TableDef{Name: table}
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var def sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &def, &pk); err != nil {
			return TableDef{}, fmt.Errorf("scanning table_info row: %w", err)
		}
		col := ColumnDef{
			Name:     name,
			Type:     colType,
			Nullable: notNull == 0,
		}
		if def.Valid {
			v := def.String
			col.Default = &v
		}
		t.Columns = append(t.Columns, col)
	}
	return t, rows.Err()
}

func (s *sqliteIntrospector) HasRows(ctx context.Context, table string) (bool, error) {
	return hasRows(ctx, s.db, quoteDouble(table))
}

func hasRows(ctx context.Context, db *sql.DB, quotedTable string) (bool, error) {
	var populated bool
	err := db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s)", quotedTable)).Scan(&populated)
	if err != nil {
		return false, fmt.Errorf("checking rows in %s: %w", quotedTable, err)
	}
	return populated, nil
}

func quoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
