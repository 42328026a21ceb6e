// Package ledger is the durable, idempotent record of applied migrations.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/sleipnir/api"
)

// TableName is the ledger's on-disk home. The column set is a stable
// contract; Initialize never alters an existing table.
const TableName = "sleipnir_migrations"

// RecordResult reports a RecordMigration outcome. Idempotent means the
// version already existed and no second row was written.
type RecordResult struct {
	Success    bool
	Idempotent bool
}

// Ledger reads and writes the migration history table.
type Ledger struct {
	db      *sql.DB
	dialect api.Dialect
	logger  zerolog.Logger
}

// New creates a ledger over the given handle.
func New(db *sql.DB, dialect api.Dialect) *Ledger {
	return &Ledger{
		db:      db,
		dialect: dialect,
		logger:  log.With().Str("component", "ledger").Logger(),
	}
}

// Initialize creates the ledger table if absent.
func (l *Ledger) Initialize(ctx context.Context) error {
	appliedAt := "TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP"
	if l.dialect == api.DialectPostgres {
		appliedAt = "TIMESTAMPTZ NOT NULL DEFAULT NOW()"
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    version      TEXT PRIMARY KEY,
    description  TEXT NOT NULL,
    applied_at   %s,
    rollback_sql TEXT,
    risk_level   TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'applied'
)`, TableName, appliedAt)

	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return &api.LedgerError{Op: "initialize", Err: err}
	}
	return nil
}

// RecordMigration inserts one history row. A duplicate version is
// recognized via the primary-key constraint and reported as idempotent
// success rather than an error; exactly one row ever exists per version.
func (l *Ledger) RecordMigration(ctx context.Context, version, description string, rollbackSQL *string, risk api.RiskLevel, status api.RecordStatus) (RecordResult, error) {
	var query string
	switch l.dialect {
	case api.DialectMySQL:
		query = fmt.Sprintf(
			`INSERT IGNORE INTO %s (version, description, rollback_sql, risk_level, status) VALUES (?, ?, ?, ?, ?)`,
			TableName)
	default:
		query = fmt.Sprintf(
			`INSERT INTO %s (version, description, rollback_sql, risk_level, status) VALUES (?, ?, ?, ?, ?) ON CONFLICT (version) DO NOTHING`,
			TableName)
	}

	res, err := l.db.ExecContext(ctx, l.rebind(query), version, description, rollbackSQL, risk.String(), string(status))
	if err != nil {
		return RecordResult{}, &api.LedgerError{Op: "record", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return RecordResult{}, &api.LedgerError{Op: "record", Err: err}
	}
	if affected == 0 {
		l.logger.Debug().Str("version", version).Msg("migration already recorded")
		return RecordResult{Success: true, Idempotent: true}, nil
	}
	return RecordResult{Success: true}, nil
}

// GetMigrationHistory returns up to limit records, newest first. A
// non-positive limit returns everything.
func (l *Ledger) GetMigrationHistory(ctx context.Context, limit int) ([]api.MigrationRecord, error) {
	query := fmt.Sprintf(
		`SELECT version, description, applied_at, rollback_sql, risk_level, status FROM %s ORDER BY version DESC`,
		TableName)
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &api.LedgerError{Op: "history", Err: err}
	}
	defer rows.Close()

	var records []api.MigrationRecord
	for rows.Next() {
		var rec api.MigrationRecord
		var rollback sql.NullString
		var riskText, statusText string
		if err := rows.Scan(&rec.Version, &rec.Description, &rec.AppliedAt, &rollback, &riskText, &statusText); err != nil {
			return nil, &api.LedgerError{Op: "history", Err: err}
		}
		if rollback.Valid {
			v := rollback.String
			rec.RollbackSQL = &v
		}
		risk, err := api.ParseRiskLevel(riskText)
		if err != nil {
			return nil, &api.LedgerError{Op: "history", Err: err}
		}
		rec.Risk = risk
		rec.Status = api.RecordStatus(statusText)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &api.LedgerError{Op: "history", Err: err}
	}
	return records, nil
}

// UpdateStatus moves one record to a new lifecycle status. Rollback is the
// only caller that mutates existing rows; nothing ever deletes them.
func (l *Ledger) UpdateStatus(ctx context.Context, version string, status api.RecordStatus) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ? WHERE version = ?`, TableName)
	res, err := l.db.ExecContext(ctx, l.rebind(query), string(status), version)
	if err != nil {
		return &api.LedgerError{Op: "update", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &api.LedgerError{Op: "update", Err: err}
	}
	if affected == 0 {
		return &api.LedgerError{Op: "update", Err: fmt.Errorf("no record for version %s", version)}
	}
	return nil
}

// rebind converts ?-style placeholders to the dialect's form.
func (l *Ledger) rebind(query string) string {
	if l.dialect != api.DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
