// Package db embeds the Postgres schema applied at start-up.
package db

import _ "embed"

// Schema creates codes, spin attempts, businesses, users, notifications and
// API keys. Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
