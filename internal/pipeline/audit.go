package pipeline

import (
	"context"
	"fmt"
	"time"

	"baseloader/internal/schema"
	"baseloader/internal/store"
)

var auditColumns = []string{
	"id_ejecucion", "perfil", "archivo", "iniciado", "finalizado",
	"filas_leidas", "clientes_insertados", "clientes_existentes",
	"hechos_insertados", "hechos_descartados",
}

// writeAudit appends the run's carga_ejecucion row inside the run transaction.
func writeAudit(ctx context.Context, tx store.Tx, rep *Report) error {
	row := []any{
		rep.RunID,
		rep.Profile,
		rep.Input,
		rep.Started.UTC().Format(time.RFC3339),
		rep.Finished.UTC().Format(time.RFC3339),
		int64(rep.Rows),
		int64(rep.Customers.Inserted),
		int64(rep.Customers.Matched + rep.Customers.Repeated),
		rep.Facts.Inserted,
		int64(rep.Facts.Dropped),
	}
	if _, err := tx.CopyRows(ctx, schema.RunTable, auditColumns, [][]any{row}); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}
