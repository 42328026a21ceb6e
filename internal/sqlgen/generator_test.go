package sqlgen

import (
	"strings"
	"testing"
	"time"

	"github.com/dfryer1193/sleipnir/api"
	"github.com/dfryer1193/sleipnir/internal/schema"
)

func strPtr(s string) *string { return &s }

// fixedGenerator pins time and nonce so generated SQL is comparable.
func fixedGenerator(dialect api.Dialect, opts Options) *Generator {
	g := New(dialect, opts)
	g.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }
	g.nonce = func() string { return "deadbeef" }
	return g
}

var productsDef = schema.TableDef{
	Name: "products",
	Columns: []schema.ColumnDef{
		{Name: "id", Type: "INTEGER PRIMARY KEY AUTOINCREMENT"},
		{Name: "name", Type: "text"},
		{Name: "stock", Type: "integer", Nullable: true},
	},
}

// productsLive is the table as introspected before the stock column lands.
var productsLive = schema.TableDef{
	Name: "products",
	Columns: []schema.ColumnDef{
		{Name: "id", Type: "INTEGER PRIMARY KEY AUTOINCREMENT"},
		{Name: "name", Type: "text"},
	},
}

func TestGenerateDirectDDL(t *testing.T) {
	testCases := []struct {
		name         string
		change       api.SchemaChange
		wantForward  []string
		wantRollback []string
	}{
		{
			name: "add nullable column",
			change: api.SchemaChange{
				Kind:    api.AddColumn,
				Table:   "products",
				Column:  "stock",
				NewType: &api.ColumnType{Name: "integer", Nullable: true},
			},
			wantForward:  []string{`ALTER TABLE "products" ADD COLUMN "stock" integer`},
			wantRollback: []string{`ALTER TABLE "products" DROP COLUMN "stock"`},
		},
		{
			name: "add not null column with default",
			change: api.SchemaChange{
				Kind:    api.AddColumn,
				Table:   "products",
				Column:  "stock",
				NewType: &api.ColumnType{Name: "integer", Default: strPtr("0")},
			},
			wantForward:  []string{`ALTER TABLE "products" ADD COLUMN "stock" integer DEFAULT 0 NOT NULL`},
			wantRollback: []string{`ALTER TABLE "products" DROP COLUMN "stock"`},
		},
		{
			name: "drop column has no rollback",
			change: api.SchemaChange{
				Kind:    api.DropColumn,
				Table:   "products",
				Column:  "legacy",
				OldType: &api.ColumnType{Name: "text", Nullable: true},
			},
			wantForward:  []string{`ALTER TABLE "products" DROP COLUMN "legacy"`},
			wantRollback: nil,
		},
		{
			name: "alter type with inverse rollback",
			change: api.SchemaChange{
				Kind:    api.AlterType,
				Table:   "products",
				Column:  "stock",
				OldType: &api.ColumnType{Name: "integer"},
				NewType: &api.ColumnType{Name: "bigint"},
			},
			wantForward:  []string{`ALTER TABLE "products" ALTER COLUMN "stock" TYPE bigint`},
			wantRollback: []string{`ALTER TABLE "products" ALTER COLUMN "stock" TYPE integer`},
		},
		{
			name: "tighten nullability",
			change: api.SchemaChange{
				Kind:    api.AlterConstraint,
				Table:   "products",
				Column:  "name",
				OldType: &api.ColumnType{Name: "text", Nullable: true},
				NewType: &api.ColumnType{Name: "text"},
			},
			wantForward:  []string{`ALTER TABLE "products" ALTER COLUMN "name" SET NOT NULL`},
			wantRollback: []string{`ALTER TABLE "products" ALTER COLUMN "name" DROP NOT NULL`},
		},
	}

	g := fixedGenerator(api.DialectPostgres, DefaultOptions())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := g.Generate(tc.change, &productsDef, nil)
			if err != nil {
				t.Fatalf("Generate() error: %v", err)
			}
			assertStatements(t, "forward", m.Forward, tc.wantForward)
			assertStatements(t, "rollback", m.Rollback, tc.wantRollback)
			if m.Version != "20260314092653_deadbeef" {
				t.Errorf("version = %q", m.Version)
			}
		})
	}
}

func TestGenerateMySQLModify(t *testing.T) {
	g := fixedGenerator(api.DialectMySQL, DefaultOptions())

	m, err := g.Generate(api.SchemaChange{
		Kind:    api.AlterType,
		Table:   "products",
		Column:  "stock",
		OldType: &api.ColumnType{Name: "int"},
		NewType: &api.ColumnType{Name: "bigint"},
	}, &productsDef, nil)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	want := "ALTER TABLE `products` MODIFY COLUMN `stock` bigint NOT NULL"
	if m.Forward[0] != want {
		t.Errorf("forward = %q, want %q", m.Forward[0], want)
	}
}

func TestGenerateAddTable(t *testing.T) {
	g := fixedGenerator(api.DialectPostgres, DefaultOptions())
	def := schema.TableDef{
		Name: "orders",
		Columns: []schema.ColumnDef{
			{Name: "id", Type: "bigserial"},
			{Name: "note", Type: "text", Nullable: true},
		},
	}

	m, err := g.Generate(api.SchemaChange{Kind: api.AddTable, Table: "orders"}, &def, nil)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(m.Forward) != 1 || !strings.HasPrefix(m.Forward[0], `CREATE TABLE "orders"`) {
		t.Fatalf("forward = %v", m.Forward)
	}
	if !strings.Contains(m.Forward[0], `"id" bigserial NOT NULL`) {
		t.Errorf("missing NOT NULL on id: %s", m.Forward[0])
	}
	if !strings.Contains(m.Forward[0], `"note" text`) || strings.Contains(m.Forward[0], `"note" text NOT NULL`) {
		t.Errorf("note should stay nullable: %s", m.Forward[0])
	}
	assertStatements(t, "rollback", m.Rollback, []string{`DROP TABLE "orders"`})
}

func TestGenerateDropTableNoRollback(t *testing.T) {
	g := fixedGenerator(api.DialectPostgres, DefaultOptions())
	m, err := g.Generate(api.SchemaChange{Kind: api.DropTable, Table: "legacy"}, nil, nil)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	assertStatements(t, "forward", m.Forward, []string{`DROP TABLE "legacy"`})
	if m.HasRollback() {
		t.Errorf("drop_table must not have a rollback, got %v", m.Rollback)
	}
}

func TestCopyRebuildAddColumn(t *testing.T) {
	g := fixedGenerator(api.DialectSQLite, DefaultOptions())

	m, err := g.Generate(api.SchemaChange{
		Kind:    api.AddColumn,
		Table:   "products",
		Column:  "stock",
		NewType: &api.ColumnType{Name: "integer", Nullable: true},
	}, &productsDef, &productsLive)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	// create temp, copy common columns, preserve sequence, drop, rename
	if len(m.Forward) != 5 {
		t.Fatalf("forward has %d statements, want 5: %v", len(m.Forward), m.Forward)
	}
	if !strings.HasPrefix(m.Forward[0], `CREATE TABLE "products__rebuild_deadbeef"`) {
		t.Errorf("stmt 0 = %s", m.Forward[0])
	}
	wantCopy := `INSERT INTO "products__rebuild_deadbeef" ("id", "name") SELECT "id", "name" FROM "products"`
	if m.Forward[1] != wantCopy {
		t.Errorf("stmt 1 = %q, want %q", m.Forward[1], wantCopy)
	}
	if !strings.Contains(m.Forward[2], "sqlite_sequence") {
		t.Errorf("stmt 2 should carry the sequence row: %s", m.Forward[2])
	}
	if m.Forward[3] != `DROP TABLE "products"` {
		t.Errorf("stmt 3 = %s", m.Forward[3])
	}
	if m.Forward[4] != `ALTER TABLE "products__rebuild_deadbeef" RENAME TO "products"` {
		t.Errorf("stmt 4 = %s", m.Forward[4])
	}

	// the rollback rebuilds the old shape without the new column
	if !m.HasRollback() {
		t.Fatal("add_column rebuild should be reversible")
	}
	for _, stmt := range m.Rollback {
		if strings.Contains(stmt, `"stock"`) && strings.HasPrefix(stmt, "CREATE TABLE") {
			t.Errorf("rollback recreates the added column: %s", stmt)
		}
	}
}

func TestCopyRebuildDropColumn(t *testing.T) {
	g := fixedGenerator(api.DialectSQLite, DefaultOptions())

	live := schema.TableDef{Name: "products"}
	live.Columns = append(append([]schema.ColumnDef(nil), productsDef.Columns...),
		schema.ColumnDef{Name: "legacy", Type: "text", Nullable: true})

	m, err := g.Generate(api.SchemaChange{
		Kind:    api.DropColumn,
		Table:   "products",
		Column:  "legacy",
		OldType: &api.ColumnType{Name: "text", Nullable: true},
	}, &productsDef, &live)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if m.HasRollback() {
		t.Errorf("drop_column rebuild must not have a rollback, got %v", m.Rollback)
	}
	// dropped column never appears in the copy list
	for _, stmt := range m.Forward {
		if strings.HasPrefix(stmt, "INSERT INTO") && strings.Contains(stmt, `"legacy"`) {
			t.Errorf("copy list includes the dropped column: %s", stmt)
		}
	}
}

func TestCopyRebuildScopedToSingleChange(t *testing.T) {
	g := fixedGenerator(api.DialectSQLite, DefaultOptions())

	// two columns are pending on items; the stock migration must rebuild
	// into the live shape plus stock only, never pulling secret along
	declared := schema.TableDef{
		Name: "items",
		Columns: []schema.ColumnDef{
			{Name: "id", Type: "INTEGER", Nullable: true},
			{Name: "stock", Type: "INTEGER", Nullable: true},
			{Name: "secret", Type: "TEXT"},
		},
	}
	live := schema.TableDef{
		Name:    "items",
		Columns: []schema.ColumnDef{{Name: "id", Type: "INTEGER", Nullable: true}},
	}

	m, err := g.Generate(api.SchemaChange{
		Kind:    api.AddColumn,
		Table:   "items",
		Column:  "stock",
		NewType: &api.ColumnType{Name: "INTEGER", Nullable: true},
	}, &declared, &live)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	for _, stmt := range m.Forward {
		if strings.Contains(stmt, "secret") {
			t.Errorf("rebuild carries an unrelated pending column: %s", stmt)
		}
	}
	// the copy list holds live columns only, so nothing can degrade into a
	// quoted string literal
	wantCopy := `INSERT INTO "items__rebuild_deadbeef" ("id") SELECT "id" FROM "items"`
	if m.Forward[1] != wantCopy {
		t.Errorf("copy = %q, want %q", m.Forward[1], wantCopy)
	}
}

func TestCopyRebuildRejectsLiveMismatch(t *testing.T) {
	g := fixedGenerator(api.DialectSQLite, DefaultOptions())
	live := schema.TableDef{
		Name:    "items",
		Columns: []schema.ColumnDef{{Name: "id", Type: "INTEGER", Nullable: true}},
	}

	testCases := []struct {
		name   string
		change api.SchemaChange
	}{
		{
			name: "alter unknown column",
			change: api.SchemaChange{
				Kind:    api.AlterType,
				Table:   "items",
				Column:  "ghost",
				OldType: &api.ColumnType{Name: "text", Nullable: true},
				NewType: &api.ColumnType{Name: "integer", Nullable: true},
			},
		},
		{
			name: "drop unknown column",
			change: api.SchemaChange{
				Kind:    api.DropColumn,
				Table:   "items",
				Column:  "ghost",
				OldType: &api.ColumnType{Name: "text", Nullable: true},
			},
		},
		{
			name: "add column that already exists",
			change: api.SchemaChange{
				Kind:    api.AddColumn,
				Table:   "items",
				Column:  "id",
				NewType: &api.ColumnType{Name: "INTEGER", Nullable: true},
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := g.Generate(tc.change, &live, &live); err == nil {
				t.Error("Generate() should fail when the change does not fit the live shape")
			}
		})
	}

	if _, err := g.Generate(api.SchemaChange{
		Kind:    api.AddColumn,
		Table:   "items",
		Column:  "stock",
		NewType: &api.ColumnType{Name: "INTEGER", Nullable: true},
	}, &live, nil); err == nil {
		t.Error("Generate() should fail without a live definition to rebuild from")
	}
}

func TestVersionsSortInGenerationOrder(t *testing.T) {
	g := New(api.DialectSQLite, DefaultOptions())
	g.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }

	prev := g.version()
	for i := 0; i < 25; i++ {
		v := g.version()
		if v <= prev {
			t.Fatalf("version %q does not sort after %q", v, prev)
		}
		prev = v
	}
}

func TestCopyRebuildSequenceOptOut(t *testing.T) {
	g := fixedGenerator(api.DialectSQLite, Options{PreserveSequences: false})

	m, err := g.Generate(api.SchemaChange{
		Kind:    api.AddColumn,
		Table:   "products",
		Column:  "stock",
		NewType: &api.ColumnType{Name: "integer", Nullable: true},
	}, &productsDef, &productsLive)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	for _, stmt := range m.Forward {
		if strings.Contains(stmt, "sqlite_sequence") {
			t.Errorf("sequence preservation should be off: %s", stmt)
		}
	}
}

func TestQuoteIdent(t *testing.T) {
	testCases := []struct {
		dialect api.Dialect
		ident   string
		want    string
	}{
		{api.DialectPostgres, "products", `"products"`},
		{api.DialectPostgres, `we"ird`, `"we""ird"`},
		{api.DialectMySQL, "products", "`products`"},
		{api.DialectSQLite, "products", `"products"`},
	}
	for _, tc := range testCases {
		if got := quoteIdent(tc.dialect, tc.ident); got != tc.want {
			t.Errorf("quoteIdent(%s, %q) = %q, want %q", tc.dialect, tc.ident, got, tc.want)
		}
	}
}

func TestJoinSplitScript(t *testing.T) {
	stmts := []string{"DROP TABLE a", "ALTER TABLE b RENAME TO a"}
	joined := JoinScript(stmts)
	got := SplitScript(joined)
	if len(got) != 2 || got[0] != stmts[0] || got[1] != stmts[1] {
		t.Errorf("SplitScript(JoinScript()) = %v, want %v", got, stmts)
	}
	if len(SplitScript("")) != 0 {
		t.Error("SplitScript of empty script should be empty")
	}
}

func assertStatements(t *testing.T, label string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s has %d statements, want %d: %v", label, len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s[%d] = %q, want %q", label, i, got[i], want[i])
		}
	}
}
