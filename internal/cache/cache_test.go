package cache

import (
	"testing"
	"time"

	"github.com/dfryer1193/sleipnir/internal/schema"
)

func tables() []schema.TableDef {
	return []schema.TableDef{
		{Name: "products", Columns: []schema.ColumnDef{
			{Name: "id", Type: "integer"},
			{Name: "name", Type: "text", Nullable: true},
		}},
	}
}

func TestFingerprintStability(t *testing.T) {
	a := Fingerprint(tables())
	b := Fingerprint(tables())
	if a != b {
		t.Error("identical metadata must fingerprint identically")
	}

	// table order is irrelevant, column order is not
	two := []schema.TableDef{
		{Name: "a", Columns: []schema.ColumnDef{{Name: "x", Type: "integer"}}},
		{Name: "b", Columns: []schema.ColumnDef{{Name: "y", Type: "integer"}}},
	}
	reversed := []schema.TableDef{two[1], two[0]}
	if Fingerprint(two) != Fingerprint(reversed) {
		t.Error("fingerprint should not depend on table order")
	}

	changed := tables()
	changed[0].Columns[1].Nullable = false
	if Fingerprint(tables()) == Fingerprint(changed) {
		t.Error("nullability change must alter the fingerprint")
	}
}

func TestUpToDateLifecycle(t *testing.T) {
	c := New(time.Minute)
	fp := Fingerprint(tables())

	if c.UpToDate(fp) {
		t.Error("fresh cache must miss")
	}

	c.MarkUpToDate(fp)
	if !c.UpToDate(fp) {
		t.Error("marked fingerprint should hit")
	}
	if c.UpToDate("different") {
		t.Error("a different fingerprint must miss")
	}

	c.Invalidate()
	if c.UpToDate(fp) {
		t.Error("invalidated cache must miss")
	}
}

func TestUpToDateTTLExpiry(t *testing.T) {
	c := New(15 * time.Millisecond)
	fp := Fingerprint(tables())

	c.MarkUpToDate(fp)
	if !c.UpToDate(fp) {
		t.Fatal("entry should be fresh immediately after marking")
	}

	time.Sleep(30 * time.Millisecond)
	if c.UpToDate(fp) {
		t.Error("entry should expire after the TTL")
	}
}
