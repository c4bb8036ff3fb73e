// Package migrations embeds SQL migration files into the binary.
//
// devicesync runs its migrations at startup without needing the SQL files
// on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/devicesync/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
