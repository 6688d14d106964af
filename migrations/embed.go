// Package migrations embeds the SQL schema applied by `p2p migrate`.
package migrations

import "embed"

// Files holds the ordered migration scripts.
//
//go:embed *.sql
var Files embed.FS
