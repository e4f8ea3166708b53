// Package db embeds the database schema applied on startup.
package db

import _ "embed"

// Schema holds the DDL for the discount, coupon, requirement, and usage
// tables. Statements are idempotent (CREATE ... IF NOT EXISTS).
//
//go:embed migrations/001_schema.sql
var Schema string
