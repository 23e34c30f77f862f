package schema

import (
	"fmt"
	"strings"
)

// Dialect renders the engine-specific parts of DDL.
type Dialect interface {
	// QuoteIdent quotes a single identifier.
	QuoteIdent(name string) string
	// ColumnType maps a logical column to its SQL type, including the
	// primary-key clause for identity columns.
	ColumnType(c Column) string
	// CreateTable wraps a column list in the engine's "create if missing" form.
	CreateTable(quotedName, body string) string
}

// CreateTableSQL builds a deterministic CREATE TABLE statement for t.
//
// Rules:
//   - t.Name and every column name must be non-empty.
//   - Identity columns render their own PRIMARY KEY clause and are never NULL.
//   - Non-nullable columns render NOT NULL; Default is raw SQL.
//   - Ref columns render an inline REFERENCES clause.
//   - Unique groups render as table-level UNIQUE constraints in declared order.
func CreateTableSQL(t Table, d Dialect) (string, error) {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return "", fmt.Errorf("ddl: table name must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: table %s has no columns", name)
	}

	parts := make([]string, 0, len(t.Columns)+len(t.Unique))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", name)
		}
		var sb strings.Builder
		sb.WriteString(d.QuoteIdent(c.Name))
		sb.WriteByte(' ')
		sb.WriteString(d.ColumnType(c))
		if c.Type != TypeIdentity {
			if !c.Nullable {
				sb.WriteString(" NOT NULL")
			}
			if c.Default != "" {
				sb.WriteString(" DEFAULT ")
				sb.WriteString(c.Default)
			}
			if c.Type == TypeRef && c.References != "" {
				fmt.Fprintf(&sb, " REFERENCES %s (%s)", d.QuoteIdent(c.References), d.QuoteIdent(c.RefColumn))
			}
		}
		parts = append(parts, sb.String())
	}
	for _, u := range t.Unique {
		cols := make([]string, len(u))
		for i, c := range u {
			cols[i] = d.QuoteIdent(c)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}
	return d.CreateTable(d.QuoteIdent(name), "\n  "+strings.Join(parts, ",\n  ")+"\n"), nil
}

// QuoteDouble quotes an identifier with double quotes (Postgres, SQLite).
func QuoteDouble(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QuoteBracket quotes an identifier with brackets (SQL Server).
func QuoteBracket(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
