package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported values of DB_DRIVER.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Options describes how to reach the database.  DSN, when set, is used
// verbatim; otherwise it is assembled from the individual fields.
type Options struct {
	Driver string
	DSN    string
	User   string
	Pass   string
	Host   string
	Port   string
	Name   string
}

// Open connects with the configured driver and verifies the connection.
func Open(o Options) (*sqlx.DB, error) {
	driver := o.Driver
	if driver == "" {
		driver = DriverMySQL
	}
	dsn := o.DSN
	if dsn == "" {
		var err error
		if dsn, err = buildDSN(driver, o); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	// Pool settings
	if driver == DriverSQLite {
		// a single connection keeps :memory: databases shared and writes serialized
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func buildDSN(driver string, o Options) (string, error) {
	switch driver {
	case DriverMySQL:
		auth := o.User
		if o.Pass != "" {
			auth = fmt.Sprintf("%s:%s", o.User, o.Pass)
		}
		// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
		// clientFoundRows=true -> RowsAffected counts matched rows for conditional writes
		return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC&clientFoundRows=true",
			auth, o.Host, o.Port, o.Name), nil
	case DriverPostgres:
		sslMode := "require"
		if o.Host == "localhost" || o.Host == "127.0.0.1" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			o.Host, o.Port, o.User, o.Pass, o.Name, sslMode), nil
	case DriverSQLite:
		if o.Name == "" {
			return "file::memory:?cache=shared", nil
		}
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", o.Name), nil
	}
	return "", fmt.Errorf("unsupported DB_DRIVER %q", driver)
}
