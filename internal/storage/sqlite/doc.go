// Package sqlite persists reduction results in the sqlite ledger created
// by internal/db.
package sqlite
