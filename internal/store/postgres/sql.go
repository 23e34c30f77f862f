package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"baseloader/internal/schema"
	"baseloader/internal/store"
)

// Dialect renders DDL for PostgreSQL.
type Dialect struct{}

func (Dialect) QuoteIdent(id string) string { return pgIdent(id) }

func (Dialect) CreateTable(name, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", name, body)
}

func (Dialect) ColumnType(c schema.Column) string {
	switch c.Type {
	case schema.TypeIdentity:
		return "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	case schema.TypeRef, schema.TypeInt:
		return "BIGINT"
	case schema.TypeNumeric:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

func pgIdent(id string) string { return pgx.Identifier{id}.Sanitize() }

func columnList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}

func placeholders(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(out, ", ")
}

// insertIgnoreSQL relies on the table's UNIQUE constraint.
func insertIgnoreSQL(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		pgIdent(table), columnList(cols), placeholders(len(cols)))
}

func insertReturningSQL(table, idCol string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		pgIdent(table), columnList(cols), placeholders(len(cols)), pgIdent(idCol))
}

func findPeriodSQL() string {
	cols := store.PeriodColumns()
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = fmt.Sprintf("%s = $%d", pgIdent(c), i+1)
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		pgIdent(schema.PeriodID), pgIdent(schema.PeriodTable), strings.Join(conds, " AND "))
}

func periodExtractSQL(spec store.ExtractSpec) string {
	return fmt.Sprintf(`SELECT c.%[1]s, c.%[2]s, c.%[3]s, p.%[4]s
FROM %[5]s c
JOIN %[6]s f ON c.%[7]s = f.%[7]s
JOIN %[8]s p ON f.%[9]s = p.%[9]s
WHERE f.%[9]s = $1
ORDER BY c.%[7]s`,
		pgIdent(schema.CustomerPhone), pgIdent(schema.CustomerIdentification), pgIdent(schema.CustomerName), pgIdent(schema.PeriodLabel),
		pgIdent(spec.CustomerTable), pgIdent(spec.FactTable), pgIdent(spec.CustomerID),
		pgIdent(schema.PeriodTable), pgIdent(schema.PeriodID))
}
