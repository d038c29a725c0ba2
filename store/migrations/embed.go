// Package migrations embeds the goose SQL migrations that define the local
// schema. Migrations are forward-only: an on-disk schema newer than the
// library knows about is an error, never downgraded.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

// LatestVersion must match the highest numbered migration file. Used to
// detect a database written by a newer build.
const LatestVersion int64 = 2
