package schema

import (
	"sort"
	"strconv"

	"baseloader/internal/config"
	"baseloader/internal/normalize"
)

func identity(name string) Column { return Column{Name: name, Type: TypeIdentity} }

func ref(name, table, col string, nullable bool) Column {
	return Column{Name: name, Type: TypeRef, References: table, RefColumn: col, Nullable: nullable}
}

func lookup(table, id, key string) Table {
	return Table{
		Name:    table,
		Columns: []Column{identity(id), {Name: key, Type: TypeKey}},
		Unique:  [][]string{{key}},
	}
}

// Years renders an inclusive year range as lookup keys.
func Years(from, to int) []string {
	if from <= 0 || to < from {
		return nil
	}
	out := make([]string, 0, to-from+1)
	for y := from; y <= to; y++ {
		out = append(out, strconv.Itoa(y))
	}
	return out
}

// Build derives the full schema a profile writes to. years seeds the anio
// lookup; months are always seeded.
func Build(p config.Profile, years []string) Schema {
	var s Schema

	s.Tables = append(s.Tables,
		lookup(YearTable, YearID, YearKey),
		lookup(MonthTable, MonthID, MonthKey),
		Table{
			Name: PeriodTable,
			Columns: []Column{
				identity(PeriodID),
				ref(YearID, YearTable, YearID, false),
				ref(MonthID, MonthTable, MonthID, false),
				{Name: PeriodLabel, Type: TypeKey, Default: "''"},
				{Name: PeriodSource, Type: TypeKey, Default: "''"},
			},
			Unique: [][]string{{YearID, MonthID, PeriodLabel, PeriodSource}},
		},
	)
	s.Seeds = append(s.Seeds,
		Seed{Table: YearTable, IDColumn: YearID, KeyColumn: YearKey, Values: years},
		Seed{Table: MonthTable, IDColumn: MonthID, KeyColumn: MonthKey, Values: normalize.Months()},
	)

	dims := make(map[string]config.Dimension, len(p.Dimensions))
	for _, d := range p.Dimensions {
		dims[d.Name] = d
		t := lookup(d.Table, d.IDColumn, d.KeyColumn)
		for _, e := range d.Extras {
			if e.Ref != "" {
				parent := dims[e.Ref]
				t.Columns = append(t.Columns, ref(e.Column, parent.Table, parent.IDColumn, true))
				continue
			}
			t.Columns = append(t.Columns, Column{Name: e.Column, Type: TypeText, Nullable: true})
		}
		s.Tables = append(s.Tables, t)
	}

	cust := Table{
		Name: p.Customer.Table,
		Columns: []Column{
			identity(p.Customer.IDColumn),
			{Name: CustomerIdentification, Type: TypeKey},
			{Name: CustomerName, Type: TypeText, Nullable: true},
			{Name: CustomerPhone, Type: TypeKey, Nullable: true},
		},
	}
	for _, col := range sortedKeys(p.Customer.Refs) {
		d := dims[p.Customer.Refs[col]]
		cust.Columns = append(cust.Columns, ref(col, d.Table, d.IDColumn, true))
	}
	for _, col := range sortedKeys(p.Customer.Attrs) {
		cust.Columns = append(cust.Columns, Column{Name: col, Type: TypeText, Nullable: true})
	}
	s.Tables = append(s.Tables, cust)

	fact := Table{
		Name: p.Fact.Table,
		Columns: []Column{
			ref(p.Customer.IDColumn, p.Customer.Table, p.Customer.IDColumn, false),
			ref(PeriodID, PeriodTable, PeriodID, false),
		},
	}
	for _, r := range p.Fact.Refs {
		d := dims[r.Dimension]
		fact.Columns = append(fact.Columns, ref(r.Column, d.Table, d.IDColumn, !r.Required))
	}
	for _, m := range p.Fact.Measures {
		typ := TypeText
		if m.Type == config.MeasureNumeric {
			typ = TypeNumeric
		}
		fact.Columns = append(fact.Columns, Column{Name: m.Column, Type: typ, Nullable: !m.Mandatory})
	}
	s.Tables = append(s.Tables, fact, RunLog())
	return s
}

// RunLog is the audit table holding one row per load run.
func RunLog() Table {
	return Table{
		Name: RunTable,
		Columns: []Column{
			{Name: "id_ejecucion", Type: TypeKey},
			{Name: "perfil", Type: TypeKey},
			{Name: "archivo", Type: TypeText},
			{Name: "iniciado", Type: TypeKey},
			{Name: "finalizado", Type: TypeKey},
			{Name: "filas_leidas", Type: TypeInt},
			{Name: "clientes_insertados", Type: TypeInt},
			{Name: "clientes_existentes", Type: TypeInt},
			{Name: "hechos_insertados", Type: TypeInt},
			{Name: "hechos_descartados", Type: TypeInt},
		},
		Unique: [][]string{{"id_ejecucion"}},
	}
}

// Consolidated is the schema of the cross-base consolidation target.
func Consolidated() Schema {
	return Schema{Tables: []Table{{
		Name: ConsolidateTable,
		Columns: []Column{
			{Name: CustomerPhone, Type: TypeKey, Nullable: true},
			{Name: CustomerIdentification, Type: TypeKey, Nullable: true},
			{Name: CustomerName, Type: TypeText, Nullable: true},
			{Name: PeriodLabel, Type: TypeKey, Nullable: true},
			{Name: "origen", Type: TypeKey, Nullable: true},
			{Name: "proveedor", Type: TypeKey, Nullable: true},
		},
	}}}
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
