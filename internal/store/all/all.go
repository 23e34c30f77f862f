// Package all links every store backend into the binary.
package all

import (
	_ "baseloader/internal/store/mssql"
	_ "baseloader/internal/store/postgres"
	_ "baseloader/internal/store/sqlite"
)
