// Package migrations carries the catalog schema. Every statement is
// idempotent, so applying it on each start is safe.
package migrations

import _ "embed"

//go:embed 001_init.sql
var Init string
