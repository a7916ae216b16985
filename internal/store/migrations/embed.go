// Package migrations embeds the local mirror schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
