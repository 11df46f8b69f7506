// Package migrations embeds Starport's SQL schema so the binary can migrate
// its history database without the files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/starport-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.Migrations = files
	database.MigrationsDir = "."
}
