package migrations

import "embed"

// FS contains the embedded debug log migrations.
//
//go:embed *.sql
var FS embed.FS
