// Package migrations embeds SQL migration files for the Postgres store.
package migrations

import "embed"

// FS contains all SQL migration files embedded at compile time.
// The literal __DIM__ in any file is replaced with the configured
// embedding dimension before execution.
//
//go:embed *.sql
var FS embed.FS
