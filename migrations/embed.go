// Package migrations holds the schema of the engine's system of record.
package migrations

import "embed"

// FS contains every NNN_name.{up,down}.sql migration.
//
//go:embed *.sql
var FS embed.FS
