// Package migrations embeds the SQL schema migrations, named in
// golang-migrate's NNNNNN_name.up.sql / .down.sql convention.
package migrations

import "embed"

// FS holds every migration file.
//
//go:embed *.sql
var FS embed.FS
