package vector

import "database/sql"

// migrate creates the schema if it doesn't exist.
func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			partition  TEXT NOT NULL,
			content    TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			embedding  BLOB,
			expires_at TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_documents_partition
			ON documents (partition);

		CREATE INDEX IF NOT EXISTS idx_documents_expires
			ON documents (partition, expires_at)
			WHERE expires_at IS NOT NULL;
	`
	_, err := db.Exec(schema)
	return err
}
