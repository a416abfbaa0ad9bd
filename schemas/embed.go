// Package schemas provides embedded SQL migration files for the sync server database.
package schemas

import "embed"

// Migrations contains all SQL migration files.
//
//go:embed migrations/*.sql
var Migrations embed.FS
