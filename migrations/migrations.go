// Package migrations embeds the pricing service database schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
