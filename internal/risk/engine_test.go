package risk

import (
	"errors"
	"testing"

	"github.com/dfryer1193/sleipnir/api"
)

func strPtr(s string) *string { return &s }

func TestAssessBaseline(t *testing.T) {
	testCases := []struct {
		name   string
		change api.SchemaChange
		want   api.RiskLevel
	}{
		{
			name:   "new table",
			change: api.SchemaChange{Kind: api.AddTable, Table: "orders"},
			want:   api.RiskSafe,
		},
		{
			name: "nullable column",
			change: api.SchemaChange{
				Kind:    api.AddColumn,
				Table:   "products",
				Column:  "stock",
				NewType: &api.ColumnType{Name: "integer", Nullable: true},
			},
			want: api.RiskSafe,
		},
		{
			name: "not null column with default",
			change: api.SchemaChange{
				Kind:    api.AddColumn,
				Table:   "products",
				Column:  "stock",
				NewType: &api.ColumnType{Name: "integer", Default: strPtr("0")},
			},
			want: api.RiskSafe,
		},
		{
			name: "not null column no default, empty table",
			change: api.SchemaChange{
				Kind:    api.AddColumn,
				Table:   "products",
				Column:  "sku",
				NewType: &api.ColumnType{Name: "text"},
			},
			want: api.RiskMedium,
		},
		{
			name: "not null column no default, populated table",
			change: api.SchemaChange{
				Kind:           api.AddColumn,
				Table:          "products",
				Column:         "sku",
				NewType:        &api.ColumnType{Name: "text"},
				TablePopulated: true,
			},
			want: api.RiskHigh,
		},
		{
			name: "widening type change",
			change: api.SchemaChange{
				Kind:    api.AlterType,
				Table:   "products",
				Column:  "qty",
				OldType: &api.ColumnType{Name: "integer"},
				NewType: &api.ColumnType{Name: "bigint"},
			},
			want: api.RiskSafe,
		},
		{
			name: "narrowing type change",
			change: api.SchemaChange{
				Kind:    api.AlterType,
				Table:   "products",
				Column:  "name",
				OldType: &api.ColumnType{Name: "varchar(255)"},
				NewType: &api.ColumnType{Name: "varchar(50)"},
			},
			want: api.RiskMedium,
		},
		{
			name: "incompatible type change",
			change: api.SchemaChange{
				Kind:    api.AlterType,
				Table:   "products",
				Column:  "created",
				OldType: &api.ColumnType{Name: "timestamp"},
				NewType: &api.ColumnType{Name: "integer"},
			},
			want: api.RiskHigh,
		},
		{
			name: "relax not null",
			change: api.SchemaChange{
				Kind:    api.AlterConstraint,
				Table:   "products",
				Column:  "notes",
				OldType: &api.ColumnType{Name: "text"},
				NewType: &api.ColumnType{Name: "text", Nullable: true},
			},
			want: api.RiskSafe,
		},
		{
			name: "tighten to not null on populated table without default",
			change: api.SchemaChange{
				Kind:           api.AlterConstraint,
				Table:          "products",
				Column:         "notes",
				OldType:        &api.ColumnType{Name: "text", Nullable: true},
				NewType:        &api.ColumnType{Name: "text"},
				TablePopulated: true,
			},
			want: api.RiskHigh,
		},
		{
			name: "tighten to not null on empty table",
			change: api.SchemaChange{
				Kind:    api.AlterConstraint,
				Table:   "products",
				Column:  "notes",
				OldType: &api.ColumnType{Name: "text", Nullable: true},
				NewType: &api.ColumnType{Name: "text"},
			},
			want: api.RiskMedium,
		},
		{
			name:   "drop column",
			change: api.SchemaChange{Kind: api.DropColumn, Table: "products", Column: "legacy"},
			want:   api.RiskHigh,
		},
		{
			name:   "drop table",
			change: api.SchemaChange{Kind: api.DropTable, Table: "legacy"},
			want:   api.RiskHigh,
		},
	}

	eng := New(api.DialectPostgres)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := eng.Assess(tc.change); got != tc.want {
				t.Errorf("Assess() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAssessCopyRebuildDialect(t *testing.T) {
	eng := New(api.DialectSQLite)

	// nullable add on an empty table stays SAFE even though sqlite rebuilds
	safe := api.SchemaChange{
		Kind:    api.AddColumn,
		Table:   "products",
		Column:  "stock",
		NewType: &api.ColumnType{Name: "integer", Nullable: true},
	}
	if got := eng.Assess(safe); got != api.RiskSafe {
		t.Errorf("Assess(nullable add, empty) = %v, want SAFE", got)
	}

	// the same change against a populated table means a full table rewrite
	populated := safe
	populated.TablePopulated = true
	if got := eng.Assess(populated); got != api.RiskMedium {
		t.Errorf("Assess(nullable add, populated) = %v, want MEDIUM", got)
	}
}

func TestAssessCustomRules(t *testing.T) {
	change := api.SchemaChange{Kind: api.AddTable, Table: "audit_log"}

	testCases := []struct {
		name string
		rule Rule
		want api.RiskLevel
	}{
		{
			name: "override applies",
			rule: func(c api.SchemaChange) (api.RiskLevel, bool, error) {
				if c.Table == "audit_log" {
					return api.RiskMedium, true, nil
				}
				return api.RiskSafe, false, nil
			},
			want: api.RiskMedium,
		},
		{
			name: "rule does not apply",
			rule: func(c api.SchemaChange) (api.RiskLevel, bool, error) {
				return api.RiskHigh, false, nil
			},
			want: api.RiskSafe,
		},
		{
			name: "erroring rule fails closed",
			rule: func(c api.SchemaChange) (api.RiskLevel, bool, error) {
				return api.RiskSafe, true, errors.New("policy service unreachable")
			},
			want: api.RiskHigh,
		},
		{
			name: "panicking rule fails closed",
			rule: func(c api.SchemaChange) (api.RiskLevel, bool, error) {
				panic("boom")
			},
			want: api.RiskHigh,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			eng := New(api.DialectPostgres, tc.rule)
			if got := eng.Assess(change); got != tc.want {
				t.Errorf("Assess() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCustomRuleRunsLast(t *testing.T) {
	downgrade := func(c api.SchemaChange) (api.RiskLevel, bool, error) {
		if c.Kind == api.DropColumn && c.Table == "scratch" {
			return api.RiskSafe, true, nil
		}
		return api.RiskSafe, false, nil
	}
	eng := New(api.DialectPostgres, downgrade)

	got := eng.Assess(api.SchemaChange{Kind: api.DropColumn, Table: "scratch", Column: "tmp"})
	if got != api.RiskSafe {
		t.Errorf("custom rule should override built-in HIGH, got %v", got)
	}
}

func TestClassifyCast(t *testing.T) {
	testCases := []struct {
		oldType string
		newType string
		want    castClass
	}{
		{"smallint", "integer", castWidening},
		{"integer", "bigint", castWidening},
		{"bigint", "integer", castNarrowing},
		{"varchar(50)", "varchar(255)", castWidening},
		{"varchar(255)", "text", castWidening},
		{"text", "varchar(100)", castNarrowing},
		{"integer", "numeric(10,2)", castWidening},
		{"bigint", "double precision", castNarrowing},
		{"integer", "text", castWidening},
		{"boolean", "integer", castWidening},
		{"date", "timestamp", castWidening},
		{"timestamp", "date", castNarrowing},
		{"uuid", "text", castWidening},
		{"jsonb", "text", castWidening},
		{"text", "jsonb", castNarrowing},
		{"timestamp", "integer", castIncompatible},
		{"bytea", "integer", castIncompatible},
		{"geometry", "text", castIncompatible}, // unknown type, worst case
	}

	for _, tc := range testCases {
		t.Run(tc.oldType+"_to_"+tc.newType, func(t *testing.T) {
			if got := classifyCast(tc.oldType, tc.newType); got != tc.want {
				t.Errorf("classifyCast(%q, %q) = %v, want %v", tc.oldType, tc.newType, got, tc.want)
			}
		})
	}
}
