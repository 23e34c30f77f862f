package pipeline

import (
	"context"
	"fmt"

	"baseloader/internal/normalize"
	"baseloader/internal/source"
)

// Plan catalog columns.
const (
	catalogKey  = "id_plan"
	catalogDesc = "descripcion_plan"
)

// planCatalog maps a plan code to its description. Postpaid extracts often
// carry only the code; the catalog supplies the description for plans
// created by the run.
type planCatalog map[string]string

func loadPlanCatalog(ctx context.Context, path string, delim rune) (planCatalog, error) {
	t, err := source.ReadFile(ctx, path, "", source.Options{
		Required:  []string{catalogKey, catalogDesc},
		Delimiter: delim,
	})
	if err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}
	c := make(planCatalog, len(t.Rows))
	for _, r := range t.Rows {
		k := normalize.Key(r.Get(catalogKey))
		if k == "" {
			continue
		}
		if _, dup := c[k]; !dup {
			c[k] = normalize.Text(r.Get(catalogDesc))
		}
	}
	return c, nil
}

// describe returns the catalog description of code, or "".
func (c planCatalog) describe(code string) string {
	if c == nil {
		return ""
	}
	return c[normalize.Key(code)]
}
