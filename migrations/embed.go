// Package migrations embeds the plclink schema and registers it with the
// database package on import.
package migrations

import (
	"embed"

	"github.com/nerrad567/plclink/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
