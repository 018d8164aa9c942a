package migrations

import "embed"

// FS contains the embedded dose store schema migrations.
//
//go:embed *.sql
var FS embed.FS
