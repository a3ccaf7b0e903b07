// Package dbmigrations exposes embedded SQL migrations for missiongate binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into missiongate binaries.
//
//go:embed *.sql
var Files embed.FS
