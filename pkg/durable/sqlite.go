package durable

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// NewSQLiteClient opens (creating if needed) an embedded SQLite-backed
// Client at path. This is the durability option for single-operator
// installs that want crash-resume without standing up the remote
// warpmetrics service.
func NewSQLiteClient(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("durable sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite allows one writer at a time
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("durable sqlite: enable WAL: %w", err)
	}
	return openSQLStore(db)
}
