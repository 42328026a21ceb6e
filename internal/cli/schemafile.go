package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dfryer1193/sleipnir/internal/schema"
)

// schemaFile is the on-disk declared-schema document.
type schemaFile struct {
	Tables []schema.TableDef `yaml:"tables"`
}

// LoadSchemaFile parses a declared-schema YAML file into a metadata
// provider. Column order in the file is declaration order.
func LoadSchemaFile(path string) (schema.StaticMetadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file %s: %w", path, err)
	}

	var doc schemaFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing schema file %s: %w", path, err)
	}
	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("schema file %s declares no tables", path)
	}

	seen := make(map[string]bool, len(doc.Tables))
	for _, t := range doc.Tables {
		if t.Name == "" {
			return nil, fmt.Errorf("schema file %s: table with empty name", path)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("schema file %s: duplicate table %q", path, t.Name)
		}
		seen[t.Name] = true
		if len(t.Columns) == 0 {
			return nil, fmt.Errorf("schema file %s: table %q declares no columns", path, t.Name)
		}
	}
	return schema.StaticMetadata(doc.Tables), nil
}
