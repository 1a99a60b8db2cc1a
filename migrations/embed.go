// Package migrations embeds the Postgres schema so it can be applied at
// startup regardless of working directory.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in name order.
//
//go:embed *.sql
var FS embed.FS
