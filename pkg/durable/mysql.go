package durable

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// NewMySQLClient opens a MySQL-backed Client at dsn (standard
// go-sql-driver/mysql DSN, e.g. "user:pass@tcp(host:3306)/warpcoder").
// This backend targets self-hosted fleets running their own MySQL
// instance rather than the remote warpmetrics service.
func NewMySQLClient(dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("durable mysql: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("durable mysql: ping: %w", err)
	}
	return openSQLStore(db)
}
