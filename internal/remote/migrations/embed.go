// Package migrations embeds the remote chat schema: tables, procedures and
// the notify triggers that feed the realtime listener.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
