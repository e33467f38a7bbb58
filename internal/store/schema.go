package store

import (
	"database/sql"
	"fmt"
)

// schemaStatements creates the catalog tables if absent. Grounded in
// original_source/backend/src/db.rs's init_database: files,
// published_files (slug uniqueness + FK), dataset_columns, users,
// sessions, system_settings. Migrations are additive and idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS files (
		id VARCHAR PRIMARY KEY,
		name VARCHAR NOT NULL,
		storage_kind VARCHAR NOT NULL,
		size BIGINT NOT NULL,
		uploaded_at TIMESTAMP NOT NULL,
		status VARCHAR NOT NULL,
		crs VARCHAR,
		path VARCHAR NOT NULL,
		table_name VARCHAR,
		tile_format VARCHAR,
		minzoom INTEGER,
		maxzoom INTEGER,
		bbox_minx DOUBLE,
		bbox_miny DOUBLE,
		bbox_maxx DOUBLE,
		bbox_maxy DOUBLE,
		layers_meta VARCHAR,
		error VARCHAR,
		is_public BOOLEAN NOT NULL DEFAULT false,
		public_slug VARCHAR
	);`,
	`CREATE TABLE IF NOT EXISTS dataset_columns (
		source_id VARCHAR NOT NULL,
		normalized_name VARCHAR NOT NULL,
		original_name VARCHAR NOT NULL,
		ordinal INTEGER NOT NULL,
		mvt_type VARCHAR NOT NULL,
		PRIMARY KEY (source_id, normalized_name)
	);`,
	`CREATE TABLE IF NOT EXISTS published_files (
		slug VARCHAR PRIMARY KEY,
		file_id VARCHAR NOT NULL REFERENCES files(id)
	);`,
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR PRIMARY KEY,
		username VARCHAR NOT NULL UNIQUE,
		password_hash VARCHAR NOT NULL,
		role VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR PRIMARY KEY,
		data VARCHAR NOT NULL,
		expiry_date TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS system_settings (
		key VARCHAR PRIMARY KEY,
		value VARCHAR NOT NULL
	);`,
}

func (s *Store) bootstrapSchema() error {
	return s.WithWrite(func(tx *sql.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("integrity: bootstrap schema: %w", err)
			}
		}
		return nil
	})
}
