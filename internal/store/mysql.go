package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// NewMySQL creates a MySQL-backed repository from a go-sql-driver DSN,
// e.g. "user:pass@tcp(localhost:3306)/escalations".
func NewMySQL(dsn string) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.MultiStatements = false
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	// READ COMMITTED keeps FOR UPDATE from taking gap locks on the status index.
	if _, ok := cfg.Params["transaction_isolation"]; !ok {
		cfg.Params["transaction_isolation"] = "'READ-COMMITTED'"
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return open(db, mysqlDialect)
}

// Open selects a backend by driver name.
func Open(driver, sqlitePath, dsn string) (*SQLStore, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(sqlitePath)
	case "mysql":
		return NewMySQL(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
