// Package migrations embeds the router's SQL schema migrations into the
// binary so no SQL files need to ship alongside it.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
