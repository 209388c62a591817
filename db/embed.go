// Package db provides the embedded database schema and demo seed data.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// Catalog is the demo product and user set loaded when no seed file is given.
//
//go:embed seed/catalog.json
var Catalog []byte
