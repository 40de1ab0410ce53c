// Package migrations embeds the versioned schema for each supported driver.
//
// Files are applied in lexical order of their names and must never be
// edited once released; the runner in internal/core/db records a SHA-256
// of each file and refuses to start on a mismatch.
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// ForDriver returns the directory of migrations for a database/sql driver
// name within FS, or false for an unsupported driver.
func ForDriver(driver string) (string, bool) {
	switch driver {
	case "sqlite3":
		return "sqlite", true
	case "postgres":
		return "postgres", true
	default:
		return "", false
	}
}

// FS holds every embedded migration.
func FS() embed.FS {
	return files
}
