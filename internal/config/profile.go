package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Validation selects how bad input rows are handled.
type Validation string

const (
	// ValidationGate aborts the whole run and writes a rejection report.
	ValidationGate Validation = "gate"
	// ValidationSkip drops bad rows and keeps loading the rest.
	ValidationSkip Validation = "skip"
)

// CustomerPolicy selects how input rows become customer rows.
type CustomerPolicy string

const (
	// CustomerAppend inserts one customer per input row.
	CustomerAppend CustomerPolicy = "append"
	// CustomerDedup inserts only (identification, phone) pairs not already stored.
	CustomerDedup CustomerPolicy = "dedup"
)

// Profile describes one family of customer bases: how its spreadsheets look,
// which reference tables they feed and where the resulting rows go. It
// replaces what used to be one hand-edited script per family.
type Profile struct {
	Name           string         `json:"name"`
	Validation     Validation     `json:"validation"`
	CustomerPolicy CustomerPolicy `json:"customer_policy"`

	// Sheets restricts xlsx reading to the named sheets; empty reads all.
	Sheets []string `json:"sheets,omitempty"`
	// HeaderMap renames normalized headers, e.g. "año" -> "anio".
	HeaderMap map[string]string `json:"header_map,omitempty"`
	// RequiredColumns must be present in the input header; their absence is fatal.
	RequiredColumns []string `json:"required_columns,omitempty"`
	// DefaultFill supplies a value for blank or missing columns.
	DefaultFill map[string]string `json:"default_fill,omitempty"`

	Period     PeriodSpec   `json:"period"`
	Dimensions []Dimension  `json:"dimensions,omitempty"`
	Customer   CustomerSpec `json:"customer"`
	Fact       FactSpec     `json:"fact"`
}

// PeriodSpec controls where each row's period components come from.
type PeriodSpec struct {
	// DefaultYear is used when rows carry no year column.
	DefaultYear string `json:"default_year,omitempty"`
	// LabelFromClock stamps rows without texto_extraido with the run date.
	LabelFromClock bool `json:"label_from_clock,omitempty"`
	// SourceLabel is "", "file" (input base name) or "prefix:<p>" (p + lowercase label).
	SourceLabel string `json:"source_label,omitempty"`
}

// Dimension is one reference table resolved with resolve-or-create.
type Dimension struct {
	Name      string `json:"name"`
	Table     string `json:"table"`
	IDColumn  string `json:"id_column"`
	KeyColumn string `json:"key_column"`
	// Source is the input column holding the natural key.
	Source string `json:"source"`
	// Description cleans keys with normalize.Description instead of normalize.Key.
	Description bool             `json:"description,omitempty"`
	Extras      []DimensionExtra `json:"extras,omitempty"`
}

// DimensionExtra is a non-key column written when a new reference row is
// created. Exactly one of Source (input text) or Ref (id of another
// dimension resolved earlier) is set.
type DimensionExtra struct {
	Column string `json:"column"`
	Source string `json:"source,omitempty"`
	Ref    string `json:"ref,omitempty"`
}

// CustomerSpec describes the customer table.
type CustomerSpec struct {
	Table    string `json:"table"`
	IDColumn string `json:"id_column"`
	// Refs maps a customer column to the dimension whose id fills it.
	Refs map[string]string `json:"refs,omitempty"`
	// Attrs maps a customer text column to the input column it is copied from.
	Attrs map[string]string `json:"attrs,omitempty"`
}

// FactSpec describes the fact table.
type FactSpec struct {
	Table    string    `json:"table"`
	Refs     []FactRef `json:"refs,omitempty"`
	Measures []Measure `json:"measures,omitempty"`
}

// FactRef is a foreign-key column of the fact table.
type FactRef struct {
	Column    string `json:"column"`
	Dimension string `json:"dimension"`
	Required  bool   `json:"required"`
}

// MeasureType is the storage type of a measure column.
type MeasureType string

const (
	MeasureNumeric MeasureType = "numeric"
	MeasureText    MeasureType = "text"
)

// Measure is a value column of the fact table copied from the input.
type Measure struct {
	Column string      `json:"column"`
	Source string      `json:"source,omitempty"`
	Type   MeasureType `json:"type"`
	// Mandatory numeric measures drop the row when unparsable instead of
	// defaulting to zero.
	Mandatory bool `json:"mandatory,omitempty"`
}

// SourceColumn is the input column a measure reads from.
func (m Measure) SourceColumn() string {
	if m.Source != "" {
		return m.Source
	}
	return m.Column
}

// Dimension looks up a dimension by name.
func (p Profile) Dimension(name string) (Dimension, bool) {
	for _, d := range p.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

var (
	dimTipoIdent = Dimension{Name: "tipo_identificacion", Table: "tipo_identificacion", IDColumn: "id_tipo_ident", KeyColumn: "nombre_tipo", Source: "tipo_identificacion"}
	dimProvincia = Dimension{Name: "provincia", Table: "provincia", IDColumn: "id_provincia", KeyColumn: "nombre_provincia", Source: "provincia"}
	dimCiudad    = Dimension{Name: "ciudad", Table: "ciudad", IDColumn: "id_ciudad", KeyColumn: "nombre_ciudad", Source: "ciudad",
		Extras: []DimensionExtra{{Column: "id_provincia", Ref: "provincia"}}}
	dimInstitucion = Dimension{Name: "institucion_financiera", Table: "institucion_financiera", IDColumn: "id_institucion", KeyColumn: "nombre_institucion", Source: "institucion_financiera"}
	dimFormaPago   = Dimension{Name: "forma_pago", Table: "forma_pago", IDColumn: "id_forma_pago", KeyColumn: "desc_forma_pago", Source: "desc_forma_pago", Description: true}
	dimSubproducto = Dimension{Name: "subproducto", Table: "subproducto", IDColumn: "id_subproducto", KeyColumn: "nombre_subproducto", Source: "id_subproducto"}
	dimCiclo       = Dimension{Name: "ciclo", Table: "ciclo", IDColumn: "id_ciclo", KeyColumn: "nombre_ciclo", Source: "id_ciclo"}
	dimPlan        = Dimension{Name: "plan", Table: "plan", IDColumn: "id_plan", KeyColumn: "codigo_plan", Source: "id_plan",
		Extras: []DimensionExtra{{Column: "descripcion_plan", Source: "descripcion_plan"}}}
)

var yearAliases = map[string]string{"año": "anio", "ano": "anio", "year": "anio"}

// postpaid builds the profile shared by the postpaid and SME bases.
func postpaid(name string) Profile {
	return Profile{
		Name:            name,
		Validation:      ValidationGate,
		CustomerPolicy:  CustomerDedup,
		HeaderMap:       yearAliases,
		RequiredColumns: []string{"identificacion", "nombre_completo", "celular"},
		DefaultFill: map[string]string{
			"categoria1":             "NO REGISTRA",
			"provincia":              "NO REGISTRA",
			"ciudad":                 "NO REGISTRA",
			"institucion_financiera": "NO REGISTRA",
		},
		Period: PeriodSpec{LabelFromClock: true, SourceLabel: "file"},
		Dimensions: []Dimension{
			dimTipoIdent, dimProvincia, dimCiudad, dimInstitucion,
			dimFormaPago, dimSubproducto, dimCiclo, dimPlan,
		},
		Customer: CustomerSpec{
			Table:    "cliente",
			IDColumn: "id_cliente",
			Refs: map[string]string{
				"id_tipo_ident": "tipo_identificacion",
				"id_provincia":  "provincia",
				"id_ciudad":     "ciudad",
			},
			Attrs: map[string]string{"fecha_alta": "fecha_alta"},
		},
		Fact: FactSpec{
			Table: "cliente_plan_info",
			Refs: []FactRef{
				{Column: "id_plan", Dimension: "plan", Required: true},
				{Column: "id_subproducto", Dimension: "subproducto", Required: true},
				{Column: "id_ciclo", Dimension: "ciclo", Required: true},
				{Column: "id_forma_pago", Dimension: "forma_pago", Required: true},
				{Column: "id_institucion", Dimension: "institucion_financiera", Required: true},
			},
			Measures: []Measure{
				{Column: "tb", Type: MeasureNumeric, Mandatory: true},
				{Column: "categoria1", Type: MeasureText},
			},
		},
	}
}

// movistar builds the channel-variant profiles whose month comes from the
// containing folder and whose customers are appended without dedup.
func movistar(name string, dims []Dimension, measures []Measure) Profile {
	p := Profile{
		Name:            name,
		Validation:      ValidationSkip,
		CustomerPolicy:  CustomerAppend,
		HeaderMap:       yearAliases,
		RequiredColumns: []string{"identificacion", "nombre_completo", "celular"},
		DefaultFill:     map[string]string{},
		Dimensions:      dims,
		Customer:        CustomerSpec{Table: "cliente", IDColumn: "id_cliente", Refs: map[string]string{}},
		Fact:            FactSpec{Table: "cliente_periodo", Measures: measures},
	}
	for _, d := range dims {
		p.Customer.Refs[d.IDColumn] = d.Name
		p.DefaultFill[d.Source] = "NO REGISTRA"
	}
	return p
}

func builtins() map[string]Profile {
	prepago := Profile{
		Name:            "prepago",
		Validation:      ValidationSkip,
		CustomerPolicy:  CustomerAppend,
		HeaderMap:       yearAliases,
		RequiredColumns: []string{"identificacion", "nombre_completo", "celular", "mes"},
		Period:          PeriodSpec{SourceLabel: "prefix:b_ppa_"},
		Customer:        CustomerSpec{Table: "cliente", IDColumn: "id_cliente"},
		Fact: FactSpec{
			Table:    "cliente_periodo",
			Measures: []Measure{{Column: "monto_recarga", Type: MeasureNumeric}},
		},
	}
	return map[string]Profile{
		"pospago": postpaid("pospago"),
		"pyme":    postpaid("pyme"),
		"prepago": prepago,
		"migracion": movistar("migracion", []Dimension{dimProvincia}, []Measure{
			{Column: "tbs", Type: MeasureNumeric},
			{Column: "decil_online", Type: MeasureText},
			{Column: "decil_pago", Type: MeasureText},
		}),
		"digital": movistar("digital", nil, nil),
		"tradicional": movistar("tradicional", []Dimension{dimProvincia}, []Measure{
			{Column: "operadora_destino", Type: MeasureText},
			{Column: "deuda_movistar", Type: MeasureNumeric},
		}),
	}
}

// ProfileNames lists the built-in profiles.
func ProfileNames() []string {
	b := builtins()
	out := make([]string, 0, len(b))
	for k := range b {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LookupProfile returns a built-in profile by name (case-insensitive).
func LookupProfile(name string) (Profile, error) {
	p, ok := builtins()[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (have %s)", name, strings.Join(ProfileNames(), ", "))
	}
	return p, nil
}

// LoadProfileFile decodes a JSON profile. Unknown fields are rejected so
// typos surface instead of silently loading with defaults.
func LoadProfileFile(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("open profile: %w", err)
	}
	defer f.Close()

	var p Profile
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", path, err)
	}
	return p, nil
}

// ResolveProfile picks the profile for cfg: a profile file wins over the
// named built-in, and the command-line overrides for validation, customer
// policy and default year are applied last.
func ResolveProfile(cfg *Config) (Profile, error) {
	var (
		p   Profile
		err error
	)
	if cfg.ProfileFile != "" {
		p, err = LoadProfileFile(cfg.ProfileFile)
	} else {
		p, err = LookupProfile(cfg.Profile)
	}
	if err != nil {
		return Profile{}, err
	}
	if cfg.Validation != "" {
		p.Validation = Validation(cfg.Validation)
	}
	if cfg.CustomerPolicy != "" {
		p.CustomerPolicy = CustomerPolicy(cfg.CustomerPolicy)
	}
	if cfg.Year != "" {
		p.Period.DefaultYear = cfg.Year
	}
	if len(cfg.Sheets) > 0 {
		p.Sheets = cfg.Sheets
	}
	return p, nil
}
