// Package migrations embeds the goose SQL migrations for the on-device
// database (entities, deletion log, mutation queue, metadata).
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
