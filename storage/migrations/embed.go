package migrations

import "embed"

// FS holds the schema migrations, one sub directory per database driver.
//
//go:embed sqlite3
var FS embed.FS
