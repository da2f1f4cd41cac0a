// Package migrations applies the embedded schema files at startup.
package migrations

import "embed"

// PostgresFS holds the session mirror and outcome audit schema.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the trade event archive schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
