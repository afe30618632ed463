package sessionsync

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the SQL schema for the reference store, with the
// sqlite variants under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
