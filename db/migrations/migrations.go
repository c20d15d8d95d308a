// Package migrations embeds the accounts ledger schema.
package migrations

import "embed"

// FS holds the goose SQL migrations under sql/.
//
//go:embed sql/*.sql
var FS embed.FS

// Dir is the directory inside FS that goose reads.
const Dir = "sql"
