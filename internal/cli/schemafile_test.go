package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSchema(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSchemaFile(t *testing.T) {
	path := writeSchema(t, `
tables:
  - name: products
    columns:
      - name: id
        type: integer
      - name: name
        type: text
        nullable: true
      - name: stock
        type: integer
        nullable: true
        default: "0"
`)

	meta, err := LoadSchemaFile(path)
	require.NoError(t, err)
	require.Len(t, meta, 1)

	table := meta[0]
	assert.Equal(t, "products", table.Name)
	require.Len(t, table.Columns, 3)

	assert.Equal(t, "id", table.Columns[0].Name)
	assert.False(t, table.Columns[0].Nullable)

	assert.True(t, table.Columns[1].Nullable)

	require.NotNil(t, table.Columns[2].Default)
	assert.Equal(t, "0", *table.Columns[2].Default)
}

func TestLoadSchemaFileErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "empty document",
			content: "tables: []",
			wantErr: "declares no tables",
		},
		{
			name: "duplicate table",
			content: `
tables:
  - name: products
    columns: [{name: id, type: integer}]
  - name: products
    columns: [{name: id, type: integer}]
`,
			wantErr: "duplicate table",
		},
		{
			name: "table without columns",
			content: `
tables:
  - name: products
`,
			wantErr: "declares no columns",
		},
		{
			name:    "not yaml",
			content: "{{{",
			wantErr: "parsing schema file",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadSchemaFile(writeSchema(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadSchemaFileMissing(t *testing.T) {
	_, err := LoadSchemaFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
