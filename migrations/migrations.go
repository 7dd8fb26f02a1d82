// Package migrations embeds the PostgreSQL schema so the migrate tool works
// without the source tree.
package migrations

import "embed"

// FS holds every *.sql migration
//
//go:embed *.sql
var FS embed.FS
