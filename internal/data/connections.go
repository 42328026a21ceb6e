// Package data opens and configures database handles for the engine.
package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	// drivers registered for the dialects we bundle
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/dfryer1193/sleipnir/api"
)

const connectTimeout = 10 * time.Second

// Connect opens a database for the given dialect, building the DSN from
// environment variables when dsn is empty, and verifies the connection
// with a bounded ping. MySQL callers must register a driver themselves
// and pass an explicit DSN.
func Connect(dialect api.Dialect, dsn string) (*sql.DB, error) {
	var err error
	if dsn == "" {
		dsn, err = BuildDSN(dialect)
		if err != nil {
			return nil, err
		}
	}

	driver, err := driverFor(dialect)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &api.ConnectionError{
			Dialect:     dialect,
			Err:         err,
			Remediation: "check the DSN syntax and that the driver supports it",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &api.ConnectionError{
			Dialect:     dialect,
			Err:         err,
			Remediation: "verify the database is reachable and DB_HOST/DB_PORT/DB_USER/DB_PASSWORD are correct",
		}
	}
	return db, nil
}

// BuildDSN constructs a connection string from environment variables.
func BuildDSN(dialect api.Dialect) (string, error) {
	switch dialect {
	case api.DialectPostgres:
		host := getEnvOrDefault("DB_HOST", "localhost")
		portStr := getEnvOrDefault("DB_PORT", "5432")
		user := getEnvOrDefault("DB_USER", "postgres")
		password := os.Getenv("DB_PASSWORD") // No default for password
		name := getEnvOrDefault("DB_NAME", "postgres")

		port, err := strconv.Atoi(portStr)
		if err != nil {
			return "", fmt.Errorf("invalid port number: %w", err)
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", user, password, host, port, name), nil
	case api.DialectSQLite:
		return getEnvOrDefault("DB_PATH", "sleipnir.db"), nil
	case api.DialectMySQL:
		return "", &api.ConnectionError{
			Dialect:     dialect,
			Err:         fmt.Errorf("no bundled mysql driver"),
			Remediation: "register a mysql driver and pass an explicit DSN",
		}
	default:
		return "", fmt.Errorf("unknown dialect %q", dialect)
	}
}

func driverFor(dialect api.Dialect) (string, error) {
	switch dialect {
	case api.DialectPostgres:
		return "pgx", nil
	case api.DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("no bundled driver for dialect %q", dialect)
	}
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
