// Package migrations embeds the schema for the realtime tables so the
// migrate binary ships without a separate asset directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
