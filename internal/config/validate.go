package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single lint finding. Path is a dotted path into the profile,
// e.g. "dimensions[2].extras[0].ref".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateProfile lints a profile without mutating it.
func ValidateProfile(p Profile) []Issue {
	var issues []Issue
	errf := func(path, format string, args ...any) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(path, format string, args ...any) {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(p.Name) == "" {
		errf("name", "name must not be empty; it labels metrics and the run audit row")
	}
	switch p.Validation {
	case ValidationGate, ValidationSkip:
	default:
		errf("validation", "must be %q or %q, got %q", ValidationGate, ValidationSkip, p.Validation)
	}
	switch p.CustomerPolicy {
	case CustomerAppend, CustomerDedup:
	default:
		errf("customer_policy", "must be %q or %q, got %q", CustomerAppend, CustomerDedup, p.CustomerPolicy)
	}

	src := p.Period.SourceLabel
	if src != "" && src != "file" && !strings.HasPrefix(src, "prefix:") {
		errf("period.source_label", "must be empty, \"file\" or \"prefix:<text>\", got %q", src)
	}

	seen := map[string]int{}
	tables := map[string]string{}
	for i, d := range p.Dimensions {
		path := fmt.Sprintf("dimensions[%d]", i)
		if d.Name == "" || d.Table == "" || d.IDColumn == "" || d.KeyColumn == "" || d.Source == "" {
			errf(path, "name, table, id_column, key_column and source are required")
		}
		if _, dup := seen[d.Name]; dup {
			errf(path+".name", "duplicate dimension %q", d.Name)
		}
		if other, dup := tables[d.Table]; dup {
			errf(path+".table", "table %q already used by dimension %q", d.Table, other)
		}
		for j, e := range d.Extras {
			epath := fmt.Sprintf("%s.extras[%d]", path, j)
			if e.Column == "" {
				errf(epath+".column", "column is required")
			}
			if (e.Source == "") == (e.Ref == "") {
				errf(epath, "exactly one of source or ref must be set")
			}
			if e.Ref != "" {
				if k, ok := seen[e.Ref]; !ok || k >= i {
					errf(epath+".ref", "ref %q must name a dimension declared earlier", e.Ref)
				}
			}
		}
		seen[d.Name] = i
		tables[d.Table] = d.Name
	}

	if p.Customer.Table == "" || p.Customer.IDColumn == "" {
		errf("customer", "table and id_column are required")
	}
	for col, dim := range p.Customer.Refs {
		if _, ok := seen[dim]; !ok {
			errf("customer.refs."+col, "unknown dimension %q", dim)
		}
	}

	if p.Fact.Table == "" {
		errf("fact.table", "table is required")
	}
	cols := map[string]bool{"id_cliente": true, "id_periodo": true}
	for i, r := range p.Fact.Refs {
		path := fmt.Sprintf("fact.refs[%d]", i)
		if _, ok := seen[r.Dimension]; !ok {
			errf(path+".dimension", "unknown dimension %q", r.Dimension)
		}
		if cols[r.Column] {
			errf(path+".column", "duplicate fact column %q", r.Column)
		}
		cols[r.Column] = true
	}
	for i, m := range p.Fact.Measures {
		path := fmt.Sprintf("fact.measures[%d]", i)
		if m.Type != MeasureNumeric && m.Type != MeasureText {
			errf(path+".type", "must be %q or %q, got %q", MeasureNumeric, MeasureText, m.Type)
		}
		if m.Mandatory && m.Type == MeasureText {
			warnf(path+".mandatory", "mandatory only applies to numeric measures")
		}
		if cols[m.Column] {
			errf(path+".column", "duplicate fact column %q", m.Column)
		}
		cols[m.Column] = true
	}

	if p.Validation == ValidationGate && p.CustomerPolicy == CustomerAppend {
		warnf("customer_policy", "gate validation rejects duplicate phones; append policy will never see repeats within one file")
	}
	if len(p.RequiredColumns) == 0 {
		warnf("required_columns", "no required columns; malformed files will load as blank rows")
	}
	return issues
}

// ValidateConfig lints the invocation-level settings.
func ValidateConfig(c *Config) []Issue {
	var issues []Issue
	errf := func(path, format string, args ...any) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Mode {
	case ModeLoad:
		if strings.TrimSpace(c.Input) == "" {
			errf("input", "input is required in load mode")
		}
	case ModeSchema:
	case ModeConsolidate:
		if c.ConsolidatePeriod <= 0 {
			errf("consolidate_period", "a positive period id is required in consolidate mode")
		}
		if c.TargetDSN == "" {
			errf("target_dsn", "target_dsn is required in consolidate mode")
		}
	default:
		errf("mode", "unknown mode %q", c.Mode)
	}

	switch c.DBDriver {
	case "postgres":
	case "sqlite", "mssql":
		if c.DSN == "" {
			errf("dsn", "dsn is required for %s", c.DBDriver)
		}
	default:
		errf("db_driver", "unsupported driver %q", c.DBDriver)
	}

	switch c.MetricsBackend {
	case "", "none", "datadog":
	case "pushgateway":
		if c.PushgatewayURL == "" {
			errf("pushgateway_url", "pushgateway_url is required for the pushgateway backend")
		}
	default:
		errf("metrics_backend", "unknown metrics backend %q", c.MetricsBackend)
	}

	if c.Workers <= 0 {
		errf("workers", "workers must be positive")
	}
	if _, _, err := c.YearRange(); err != nil {
		errf("seed_years", "%v", err)
	}
	return issues
}
