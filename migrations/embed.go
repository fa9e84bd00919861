// Package migrations embeds the tracker schema migrations applied by
// database.RunMigrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
