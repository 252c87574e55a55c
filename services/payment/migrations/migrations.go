// Package migrations содержит SQL-миграции Payment Service,
// встроенные в бинарник через embed.
package migrations

import "embed"

// FS встроенная файловая система с goose-миграциями
//
//go:embed *.sql
var FS embed.FS
