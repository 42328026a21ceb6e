// Package api holds the value types and error taxonomy shared between the
// migration engine and its embedders.
package api

import (
	"fmt"
	"strings"
	"time"
)

// RiskLevel classifies the data-loss/downtime likelihood of a schema change.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "SAFE"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("RiskLevel(%d)", int(r))
	}
}

// ParseRiskLevel converts the ledger's text representation back to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case "SAFE":
		return RiskSafe, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	default:
		return RiskHigh, fmt.Errorf("unknown risk level %q", s)
	}
}

// ChangeKind names one category of detected schema drift.
type ChangeKind string

const (
	AddTable        ChangeKind = "add_table"
	AddColumn       ChangeKind = "add_column"
	DropColumn      ChangeKind = "drop_column"
	AlterType       ChangeKind = "alter_type"
	AlterConstraint ChangeKind = "alter_constraint"
	DropTable       ChangeKind = "drop_table"
)

// Dialect identifies the target database engine.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// SupportsFlexibleAlter reports whether the dialect can apply column-level
// changes in place. Dialects without it fall back to copy-rebuild.
func (d Dialect) SupportsFlexibleAlter() bool {
	return d != DialectSQLite
}

// SupportsSessionAdvisoryLock reports whether the dialect offers a
// connection-scoped advisory lock primitive.
func (d Dialect) SupportsSessionAdvisoryLock() bool {
	return d == DialectPostgres
}

// SupportsNamedLock reports whether the dialect offers a named
// database-level lock primitive.
func (d Dialect) SupportsNamedLock() bool {
	return d == DialectMySQL
}

// ColumnType describes a column's declared or introspected attributes.
type ColumnType struct {
	Name     string // dialect type name, e.g. "integer", "varchar(255)"
	Nullable bool
	Default  *string
}

// SchemaChange is one detected difference between the declared metadata and
// the live schema. Exactly one RiskLevel is assigned before a change is
// included in a plan.
type SchemaChange struct {
	Kind        ChangeKind
	Table       string
	Column      string // empty for table-level changes
	OldType     *ColumnType
	NewType     *ColumnType
	Description string

	// TablePopulated is set by the detector for changes whose risk depends
	// on whether existing rows would be affected.
	TablePopulated bool

	Risk RiskLevel
}

// Migration is an executable forward/rollback statement list derived from a
// single SchemaChange. Immutable once planned; persisted to the ledger only
// after successful execution.
type Migration struct {
	Version     string // sortable: UTC timestamp + nonce
	Description string
	Forward     []string
	Rollback    []string // empty for destructive changes
	Risk        RiskLevel
	Change      SchemaChange
}

// HasRollback reports whether the migration can be reversed.
func (m Migration) HasRollback() bool { return len(m.Rollback) > 0 }

// PlanStatus describes the outcome of one planning or apply pass.
type PlanStatus string

const (
	StatusUpToDate  PlanStatus = "up_to_date"
	StatusPending   PlanStatus = "pending"
	StatusCompleted PlanStatus = "completed"
	StatusPartial   PlanStatus = "partial"
	StatusFailed    PlanStatus = "failed"
	StatusLocked    PlanStatus = "locked"
)

// MigrationPlan is the ordered migration list produced by one planning
// pass. Transient; never persisted.
type MigrationPlan struct {
	Migrations []Migration
	Status     PlanStatus
	CreatedAt  time.Time
}

// Pending returns the migrations whose risk exceeds what the given mode
// allows, i.e. the ones an apply under that mode would leave outstanding.
func (p *MigrationPlan) Pending(mode ExecutionMode) []Migration {
	var out []Migration
	for _, m := range p.Migrations {
		if !mode.Allows(m.Risk) {
			out = append(out, m)
		}
	}
	return out
}

// ExecutionMode bounds which risk levels an apply pass may execute.
type ExecutionMode string

const (
	ModeSafe       ExecutionMode = "SAFE"
	ModeAuto       ExecutionMode = "AUTO"
	ModeAggressive ExecutionMode = "AGGRESSIVE"
	ModeDryRun     ExecutionMode = "DRY_RUN"
)

// ParseExecutionMode is case-insensitive and accepts "dry-run" for
// DRY_RUN.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch strings.ToUpper(strings.ReplaceAll(s, "-", "_")) {
	case "SAFE":
		return ModeSafe, nil
	case "AUTO":
		return ModeAuto, nil
	case "AGGRESSIVE":
		return ModeAggressive, nil
	case "DRY_RUN":
		return ModeDryRun, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
}

// Allows reports whether the mode permits executing a migration of the
// given risk. DRY_RUN allows nothing.
func (m ExecutionMode) Allows(r RiskLevel) bool {
	switch m {
	case ModeSafe:
		return r == RiskSafe
	case ModeAuto:
		return r == RiskSafe || r == RiskMedium
	case ModeAggressive:
		return true
	default:
		return false
	}
}

// RecordStatus is the lifecycle state of a ledger row.
type RecordStatus string

const (
	RecordApplied    RecordStatus = "applied"
	RecordFailed     RecordStatus = "failed"
	RecordRolledBack RecordStatus = "rolled_back"
	RecordSkipped    RecordStatus = "skipped"
)

// MigrationRecord is a row in the history ledger.
type MigrationRecord struct {
	Version     string
	Description string
	AppliedAt   time.Time
	RollbackSQL *string // nil for destructive changes
	Risk        RiskLevel
	Status      RecordStatus
}

// RollbackFailure captures one failed rollback attempt.
type RollbackFailure struct {
	Version string
	Err     error
}

// RollbackResult summarizes a rollback pass.
type RollbackResult struct {
	RolledBack int
	Failed     int
	Skipped    int // records with no rollback SQL
	Failures   []RollbackFailure
}

// StatusReport is the engine's combined view of outstanding drift and
// applied history.
type StatusReport struct {
	Plan    *MigrationPlan
	History []MigrationRecord
	State   string
}
