package schema

import (
	"strings"
	"testing"

	"baseloader/internal/config"
)

type testDialect struct{}

func (testDialect) QuoteIdent(s string) string { return QuoteDouble(s) }
func (testDialect) ColumnType(c Column) string {
	switch c.Type {
	case TypeIdentity:
		return "SERIAL PRIMARY KEY"
	case TypeRef, TypeInt:
		return "BIGINT"
	case TypeNumeric:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}
func (testDialect) CreateTable(name, body string) string {
	return "CREATE TABLE IF NOT EXISTS " + name + " (" + body + ");"
}

func TestCreateTableSQL_Deterministic(t *testing.T) {
	t.Parallel()

	tbl := Table{
		Name: "ciudad",
		Columns: []Column{
			{Name: "id_ciudad", Type: TypeIdentity},
			{Name: "nombre_ciudad", Type: TypeKey},
			{Name: "id_provincia", Type: TypeRef, Nullable: true, References: "provincia", RefColumn: "id_provincia"},
			{Name: "nota", Type: TypeText, Nullable: true, Default: "''"},
		},
		Unique: [][]string{{"nombre_ciudad"}},
	}
	got, err := CreateTableSQL(tbl, testDialect{})
	if err != nil {
		t.Fatalf("CreateTableSQL: %v", err)
	}
	want := `CREATE TABLE IF NOT EXISTS "ciudad" (
  "id_ciudad" SERIAL PRIMARY KEY,
  "nombre_ciudad" TEXT NOT NULL,
  "id_provincia" BIGINT REFERENCES "provincia" ("id_provincia"),
  "nota" TEXT DEFAULT '',
  UNIQUE ("nombre_ciudad")
);`
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestCreateTableSQL_Errors(t *testing.T) {
	t.Parallel()

	if _, err := CreateTableSQL(Table{}, testDialect{}); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := CreateTableSQL(Table{Name: "x"}, testDialect{}); err == nil {
		t.Fatalf("expected error for no columns")
	}
	if _, err := CreateTableSQL(Table{Name: "x", Columns: []Column{{Type: TypeText}}}, testDialect{}); err == nil {
		t.Fatalf("expected error for empty column name")
	}
}

func TestBuild_Pospago(t *testing.T) {
	t.Parallel()

	p, err := config.LookupProfile("pospago")
	if err != nil {
		t.Fatal(err)
	}
	s := Build(p, Years(2024, 2026))

	order := map[string]int{}
	for i, tbl := range s.Tables {
		order[tbl.Name] = i
	}
	for _, name := range []string{"anio", "mes", "periodo_carga", "provincia", "ciudad", "plan", "cliente", "cliente_plan_info", "carga_ejecucion"} {
		if _, ok := order[name]; !ok {
			t.Fatalf("missing table %s", name)
		}
	}
	if order["provincia"] > order["ciudad"] || order["cliente"] > order["cliente_plan_info"] {
		t.Fatalf("parents must come before children: %v", order)
	}

	ciudad, _ := s.Table("ciudad")
	var hasRef bool
	for _, c := range ciudad.Columns {
		if c.Name == "id_provincia" && c.Type == TypeRef && c.References == "provincia" {
			hasRef = true
		}
	}
	if !hasRef {
		t.Fatalf("ciudad should reference provincia: %+v", ciudad.Columns)
	}

	fact, _ := s.Table("cliente_plan_info")
	for _, c := range fact.Columns {
		if c.Name == "tb" && (c.Type != TypeNumeric || c.Nullable) {
			t.Fatalf("tb should be mandatory numeric: %+v", c)
		}
		if c.Name == "categoria1" && c.Type != TypeText {
			t.Fatalf("categoria1 should be text: %+v", c)
		}
	}

	if len(s.Seeds) != 2 || len(s.Seeds[0].Values) != 3 || len(s.Seeds[1].Values) != 12 {
		t.Fatalf("seeds: %+v", s.Seeds)
	}
	for _, tbl := range s.Tables {
		if _, err := CreateTableSQL(tbl, testDialect{}); err != nil {
			t.Fatalf("table %s: %v", tbl.Name, err)
		}
	}
}

func TestConsolidated(t *testing.T) {
	t.Parallel()

	s := Consolidated()
	sql, err := CreateTableSQL(s.Tables[0], testDialect{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sql, `"origen"`) || !strings.Contains(sql, `"cliente_consolidado"`) {
		t.Fatalf("unexpected ddl: %s", sql)
	}
}

func TestQuote(t *testing.T) {
	t.Parallel()

	if QuoteDouble(`we"ird`) != `"we""ird"` {
		t.Fatalf("QuoteDouble")
	}
	if QuoteBracket("plan") != "[plan]" || QuoteBracket("a]b") != "[a]]b]" {
		t.Fatalf("QuoteBracket")
	}
}
