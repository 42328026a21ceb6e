// Package schema models declared table metadata and detects drift between
// it and a live database.
package schema

import "context"

// ColumnDef describes one declared or introspected column.
type ColumnDef struct {
	Name     string  `yaml:"name"`
	Type     string  `yaml:"type"`
	Nullable bool    `yaml:"nullable"`
	Default  *string `yaml:"default,omitempty"`
}

// TableDef describes one table. Column order is declaration order and is
// significant for DDL ordering.
type TableDef struct {
	Name    string      `yaml:"name"`
	Columns []ColumnDef `yaml:"columns"`
}

// Column returns the named column and whether it exists.
func (t TableDef) Column(name string) (ColumnDef, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// MetadataProvider supplies the declared data model. The snapshot is
// consumed read-only at the start of a planning pass.
type MetadataProvider interface {
	DeclaredTables(ctx context.Context) ([]TableDef, error)
}

// StaticMetadata is a MetadataProvider over a fixed table list.
type StaticMetadata []TableDef

func (s StaticMetadata) DeclaredTables(_ context.Context) ([]TableDef, error) {
	return s, nil
}

// Introspector reflects the live schema of one database.
type Introspector interface {
	// LiveTables returns every user table with its columns in storage order.
	LiveTables(ctx context.Context) (map[string]TableDef, error)
	// HasRows reports whether the table currently contains any rows.
	HasRows(ctx context.Context, table string) (bool, error)
}
