// Package migrations embeds SQL migration files into the binary.
//
// Importing this package registers the embedded files with the database
// package, so Migrate works without the SQL files on disk.
package migrations

import (
	"embed"
	"io/fs"

	"github.com/nerrad567/fleetsync-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}

// FS returns the embedded migration files.
func FS() fs.FS {
	return migrationsFS
}
