// Package cache holds a process-local, advisory schema-fingerprint cache.
// A stale entry costs a redundant detection pass, never a missed change:
// apply always consumes a freshly-detected diff.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dfryer1193/sleipnir/internal/schema"
)

// DefaultTTL bounds how long an up-to-date verdict may be reused.
const DefaultTTL = 5 * time.Minute

// SchemaCache remembers the declared-metadata fingerprint observed the
// last time planning found no drift.
type SchemaCache struct {
	ttl time.Duration

	mu          sync.Mutex
	fingerprint string
	expires     time.Time
}

// New creates a cache. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration) *SchemaCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SchemaCache{ttl: ttl}
}

// Fingerprint hashes the declared metadata into a stable identity.
func Fingerprint(tables []schema.TableDef) string {
	sorted := make([]schema.TableDef, len(tables))
	copy(sorted, tables)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	for _, t := range sorted {
		b.WriteString(t.Name)
		for _, c := range t.Columns {
			def := ""
			if c.Default != nil {
				def = *c.Default
			}
			fmt.Fprintf(&b, "|%s:%s:%t:%s", c.Name, c.Type, c.Nullable, def)
		}
		b.WriteString("\n")
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// UpToDate reports whether the fingerprint matches a fresh no-drift
// verdict. Any doubt degrades to a miss.
func (c *SchemaCache) UpToDate(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fingerprint == "" || time.Now().After(c.expires) {
		return false
	}
	return c.fingerprint == fingerprint
}

// MarkUpToDate records that planning just found no drift for fingerprint.
func (c *SchemaCache) MarkUpToDate(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fingerprint = fingerprint
	c.expires = time.Now().Add(c.ttl)
}

// Invalidate drops the cached verdict. Called after any executed DDL.
func (c *SchemaCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fingerprint = ""
}
