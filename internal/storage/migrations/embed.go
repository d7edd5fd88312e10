package migrations

import "embed"

// FS embeds all SQL migration files for the SQLite key-value backend.
//
//go:embed *.sql
var FS embed.FS
