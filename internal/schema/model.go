// Package schema models the relational tables a load writes to and renders
// them as CREATE TABLE statements for each supported database.
//
// Table and column names follow the databases the loaders have always
// targeted (anio, mes, periodo_carga, cliente, …) so existing lookup pages
// keep working against freshly bootstrapped databases.
package schema

// ColumnType is a logical column type; each dialect maps it to SQL.
type ColumnType string

const (
	// TypeIdentity is a store-generated surrogate primary key.
	TypeIdentity ColumnType = "identity"
	// TypeRef is a foreign key to another table's identity column.
	TypeRef ColumnType = "ref"
	// TypeKey is indexed text (natural keys, period labels).
	TypeKey ColumnType = "key"
	// TypeText is unbounded text.
	TypeText ColumnType = "text"
	// TypeNumeric is a decimal measure.
	TypeNumeric ColumnType = "numeric"
	// TypeInt is a plain integer counter.
	TypeInt ColumnType = "int"
)

// Column is one column of a table.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	// Default is a raw SQL default expression.
	Default string
	// References is the table a TypeRef column points to.
	References string
	// RefColumn is the referenced identity column.
	RefColumn string
}

// Table is a table definition. Unique lists column groups that get a UNIQUE
// constraint; identity columns are the primary key.
type Table struct {
	Name    string
	Columns []Column
	Unique  [][]string
}

// Seed lists natural keys inserted into a lookup table when the schema is
// bootstrapped. Existing keys are left alone.
type Seed struct {
	Table     string
	IDColumn  string
	KeyColumn string
	Values    []string
}

// Schema is an ordered set of tables (parents before children) plus seeds.
type Schema struct {
	Tables []Table
	Seeds  []Seed
}

// Table looks up a table by name.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Fixed tables shared by every profile.
const (
	YearTable        = "anio"
	YearID           = "id_anio"
	YearKey          = "valor"
	MonthTable       = "mes"
	MonthID          = "id_mes"
	MonthKey         = "nombre_mes"
	PeriodTable      = "periodo_carga"
	PeriodID         = "id_periodo"
	PeriodLabel      = "texto_extraido"
	PeriodSource     = "nombre_base"
	RunTable         = "carga_ejecucion"
	ConsolidateTable = "cliente_consolidado"

	CustomerIdentification = "identificacion"
	CustomerName           = "nombre_completo"
	CustomerPhone          = "celular"
)
