// Package db embeds the PostgreSQL schema and the sample seed data.
package db

import _ "embed"

// Schema creates the products, coupons, orders and api_keys tables. It is
// idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string

// Seed is the sample catalog used by seed-db when no file is given.
//
//go:embed seed/seed.json
var Seed []byte
