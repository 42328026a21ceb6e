package sqlgen

import (
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/dfryer1193/sleipnir/api"
)

// quoteIdent renders an identifier safely for the dialect. No identifier
// ever reaches a statement unescaped.
func quoteIdent(dialect api.Dialect, ident string) string {
	switch dialect {
	case api.DialectPostgres:
		return pgx.Identifier{ident}.Sanitize()
	case api.DialectMySQL:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

func quoteAll(dialect api.Dialect, idents []string) []string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = quoteIdent(dialect, id)
	}
	return out
}

// scriptSeparator joins the statements of a multi-statement script when it
// is persisted as a single ledger column.
const scriptSeparator = ";\n"

// JoinScript renders a statement list as the ledger's single-text form.
func JoinScript(stmts []string) string {
	return strings.Join(stmts, scriptSeparator)
}

// SplitScript recovers the statement list from its ledger form.
func SplitScript(script string) []string {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	parts := strings.Split(script, scriptSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
