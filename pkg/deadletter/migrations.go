package deadletter

import "embed"

// MigrationsDir is the directory inside Migrations holding goose files.
const MigrationsDir = "migrations"

// Migrations holds the schema for PostgresStore.
//
//go:embed migrations/*.sql
var Migrations embed.FS
