// Package engine composes detection, risk assessment, SQL generation,
// locking, execution, and the history ledger into plan/apply/rollback/
// status operations.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/sleipnir/api"
	"github.com/dfryer1193/sleipnir/internal/cache"
	"github.com/dfryer1193/sleipnir/internal/executor"
	"github.com/dfryer1193/sleipnir/internal/hooks"
	"github.com/dfryer1193/sleipnir/internal/ledger"
	"github.com/dfryer1193/sleipnir/internal/lock"
	"github.com/dfryer1193/sleipnir/internal/risk"
	"github.com/dfryer1193/sleipnir/internal/schema"
	"github.com/dfryer1193/sleipnir/internal/sqlgen"
)

// ErrLocked reports that another instance holds the migration lock. It is
// the rollback path's counterpart to plan status "locked".
var ErrLocked = errors.New("migration lock is held by another instance")

// State is the engine's lifecycle position, exposed for observability.
type State int32

const (
	StateIdle State = iota
	StatePlanning
	StatePlanned
	StateLockWait
	StateExecuting
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePlanning:
		return "PLANNING"
	case StatePlanned:
		return "PLANNED"
	case StateLockWait:
		return "LOCK_WAIT"
	case StateExecuting:
		return "EXECUTING"
	case StateCommitted:
		return "COMMITTED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config tunes the engine's timeouts and policies.
type Config struct {
	DetectTimeout time.Duration
	LockTimeout   time.Duration
	HookTimeout   time.Duration
	CacheEnabled  bool
	CacheTTL      time.Duration
	// RecordSkipped writes ledger rows with status "skipped" for
	// migrations that an apply's mode refused to execute.
	RecordSkipped bool
	// LockDir roots the file-lock fallback for dialects without a
	// database lock primitive.
	LockDir string
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DetectTimeout: schema.DefaultDetectTimeout,
		LockTimeout:   30 * time.Second,
		HookTimeout:   hooks.DefaultHookTimeout,
		CacheEnabled:  true,
		CacheTTL:      cache.DefaultTTL,
		LockDir:       ".",
	}
}

// Option customizes engine construction.
type Option func(*Engine)

// WithRiskRules appends caller-supplied risk rules, evaluated last.
func WithRiskRules(rules ...risk.Rule) Option {
	return func(e *Engine) { e.riskRules = append(e.riskRules, rules...) }
}

// WithLockProvider overrides the capability-selected lock provider.
func WithLockProvider(p lock.Provider) Option {
	return func(e *Engine) { e.locker = p }
}

// WithIntrospector overrides the dialect introspector.
func WithIntrospector(i schema.Introspector) Option {
	return func(e *Engine) { e.intro = i }
}

// WithGeneratorOptions overrides SQL generation options.
func WithGeneratorOptions(o sqlgen.Options) Option {
	return func(e *Engine) { e.genOpts = &o }
}

// WithDryRunOutput directs DRY_RUN scripts to w.
func WithDryRunOutput(w io.Writer) Option {
	return func(e *Engine) { e.dryRunOut = w }
}

// Engine is the migration orchestrator. One Engine serves one database.
type Engine struct {
	db      *sql.DB
	dialect api.Dialect
	meta    schema.MetadataProvider
	cfg     Config

	detector *schema.Detector
	risk     *risk.Engine
	gen      *sqlgen.Generator
	locker   lock.Provider
	exec     *executor.Executor
	ledger   *ledger.Ledger
	cache    *cache.SchemaCache
	hooks    *hooks.Registry

	// construction-time knobs
	riskRules []risk.Rule
	intro     schema.Introspector
	genOpts   *sqlgen.Options
	dryRunOut io.Writer

	state  atomic.Int32
	logger zerolog.Logger
}

// New wires an engine. The hook registry is injected so callers can
// register hooks anywhere and hand the finished set to the engine.
func New(db *sql.DB, dialect api.Dialect, meta schema.MetadataProvider, registry *hooks.Registry, cfg Config, opts ...Option) (*Engine, error) {
	if registry == nil {
		registry = hooks.NewRegistry(cfg.HookTimeout)
	}

	e := &Engine{
		db:      db,
		dialect: dialect,
		meta:    meta,
		cfg:     cfg,
		hooks:   registry,
		logger:  log.With().Str("component", "engine").Str("dialect", string(dialect)).Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.intro == nil {
		intro, err := schema.NewIntrospector(dialect, db)
		if err != nil {
			return nil, err
		}
		e.intro = intro
	}
	if e.locker == nil {
		e.locker = lock.ForDialect(dialect, db, cfg.LockDir)
	}

	genOpts := sqlgen.DefaultOptions()
	if e.genOpts != nil {
		genOpts = *e.genOpts
	}

	e.detector = schema.NewDetector(meta, e.intro, cfg.DetectTimeout)
	e.risk = risk.New(dialect, e.riskRules...)
	e.gen = sqlgen.New(dialect, genOpts)
	e.exec = executor.New(db)
	if e.dryRunOut != nil {
		e.exec = e.exec.WithDryRunOutput(e.dryRunOut)
	}
	e.ledger = ledger.New(db, dialect)
	e.cache = cache.New(cfg.CacheTTL)

	return e, nil
}

// State returns the engine's current lifecycle position.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

// Plan detects drift, classifies it, and synthesizes migrations. It takes
// no lock and mutates nothing; concurrent repeated calls are safe.
func (e *Engine) Plan(ctx context.Context) (*api.MigrationPlan, error) {
	return e.plan(ctx, e.cfg.CacheEnabled)
}

func (e *Engine) plan(ctx context.Context, useCache bool) (*api.MigrationPlan, error) {
	declared, err := e.meta.DeclaredTables(ctx)
	if err != nil {
		return nil, &api.DetectionError{Err: fmt.Errorf("loading declared metadata: %w", err)}
	}
	fingerprint := cache.Fingerprint(declared)

	if useCache && e.cache.UpToDate(fingerprint) {
		e.logger.Debug().Msg("schema fingerprint fresh; skipping detection")
		return &api.MigrationPlan{Status: api.StatusUpToDate, CreatedAt: time.Now()}, nil
	}

	changes, live, err := e.detector.Detect(ctx)
	if err != nil {
		return nil, err
	}

	plan := &api.MigrationPlan{CreatedAt: time.Now()}
	if len(changes) == 0 {
		plan.Status = api.StatusUpToDate
		e.cache.MarkUpToDate(fingerprint)
		return plan, nil
	}

	tables := make(map[string]*schema.TableDef, len(declared))
	for i := range declared {
		tables[declared[i].Name] = &declared[i]
	}

	for _, change := range changes {
		change.Risk = e.risk.Assess(change)
		var liveDef *schema.TableDef
		if lt, ok := live[change.Table]; ok {
			liveDef = &lt
		}
		m, err := e.gen.Generate(change, tables[change.Table], liveDef)
		if err != nil {
			return nil, fmt.Errorf("generating SQL for %s: %w", change.Description, err)
		}
		plan.Migrations = append(plan.Migrations, m)
	}

	plan.Status = api.StatusPending
	return plan, nil
}

// Apply acquires the migration lock, re-plans against a fresh diff, and
// executes under the given mode. Lock contention returns a plan with
// status "locked", not an error. The lock is released on every exit path.
func (e *Engine) Apply(ctx context.Context, mode api.ExecutionMode) (*api.MigrationPlan, []api.Migration, error) {
	e.setState(StateLockWait)
	acquired, err := e.locker.Acquire(ctx, e.cfg.LockTimeout)
	if err != nil {
		e.setState(StateIdle)
		return nil, nil, err
	}
	if !acquired {
		e.setState(StateIdle)
		e.logger.Info().Msg("lock contended; another instance is migrating")
		return &api.MigrationPlan{Status: api.StatusLocked, CreatedAt: time.Now()}, nil, nil
	}
	defer func() {
		if _, err := e.locker.Release(); err != nil {
			e.logger.Error().Err(err).Msg("releasing migration lock")
		}
		e.setState(StateIdle)
	}()

	if err := e.ledger.Initialize(ctx); err != nil {
		return nil, nil, err
	}

	// Always a fresh diff under the lock; the cache is advisory only.
	e.setState(StatePlanning)
	plan, err := e.plan(ctx, false)
	if err != nil {
		e.setState(StateFailed)
		return nil, nil, err
	}
	e.setState(StatePlanned)

	if len(plan.Migrations) == 0 {
		e.setState(StateCommitted)
		return plan, nil, nil
	}

	e.hooks.Execute(ctx, hooks.BeforeDDL, hooks.Context{Plan: plan})

	e.setState(StateExecuting)
	res, execErr := e.exec.ExecutePlan(ctx, plan, mode)

	e.recordOutcome(ctx, mode, res, execErr)

	e.hooks.Execute(ctx, hooks.AfterDDL, hooks.Context{Plan: plan})

	plan.Status = applyStatus(plan, res, execErr, mode)
	if execErr != nil {
		e.setState(StateFailed)
	} else {
		e.setState(StateCommitted)
	}
	return plan, res.Executed, execErr
}

// recordOutcome writes ledger rows for what execution did. A ledger-write
// failure never unwinds applied DDL; it is logged loudly because it
// endangers future rollback capability.
func (e *Engine) recordOutcome(ctx context.Context, mode api.ExecutionMode, res executor.Result, execErr error) {
	for _, m := range res.Executed {
		var rollback *string
		if m.HasRollback() {
			s := sqlgen.JoinScript(m.Rollback)
			rollback = &s
		}
		if _, err := e.ledger.RecordMigration(ctx, m.Version, m.Description, rollback, m.Risk, api.RecordApplied); err != nil {
			e.logger.Error().Err(err).
				Str("version", m.Version).
				Msg("ledger write failed after successful DDL; future rollback of this migration is at risk")
		}
	}

	var execFailed *api.ExecutionError
	if errors.As(execErr, &execFailed) {
		if _, err := e.ledger.RecordMigration(ctx, execFailed.Version, execFailed.Description, nil, api.RiskHigh, api.RecordFailed); err != nil {
			e.logger.Error().Err(err).Str("version", execFailed.Version).Msg("recording failed migration")
		}
	}

	if e.cfg.RecordSkipped && mode != api.ModeDryRun {
		for _, m := range res.Skipped {
			if _, err := e.ledger.RecordMigration(ctx, m.Version, m.Description, nil, m.Risk, api.RecordSkipped); err != nil {
				e.logger.Warn().Err(err).Str("version", m.Version).Msg("recording skipped migration")
			}
		}
	}

	if len(res.Executed) > 0 {
		e.cache.Invalidate()
	}
}

func applyStatus(plan *api.MigrationPlan, res executor.Result, execErr error, mode api.ExecutionMode) api.PlanStatus {
	switch {
	case execErr != nil:
		return api.StatusFailed
	case mode == api.ModeDryRun:
		return api.StatusPending
	case len(res.Executed) == len(plan.Migrations):
		return api.StatusCompleted
	case len(res.Executed) > 0:
		return api.StatusPartial
	default:
		return api.StatusPending
	}
}

// Rollback re-applies stored rollback SQL for the last steps ledger
// records, newest first. Records without rollback SQL are skipped with a
// warning; already-rolled-back records are never re-attempted. With
// continueOnError false the first failure halts outstanding rollbacks.
func (e *Engine) Rollback(ctx context.Context, steps int, continueOnError bool) (*api.RollbackResult, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("rollback steps must be positive, got %d", steps)
	}

	e.setState(StateLockWait)
	acquired, err := e.locker.Acquire(ctx, e.cfg.LockTimeout)
	if err != nil {
		e.setState(StateIdle)
		return nil, err
	}
	if !acquired {
		e.setState(StateIdle)
		return nil, ErrLocked
	}
	defer func() {
		if _, err := e.locker.Release(); err != nil {
			e.logger.Error().Err(err).Msg("releasing migration lock")
		}
		e.setState(StateIdle)
	}()

	if err := e.ledger.Initialize(ctx); err != nil {
		return nil, err
	}
	records, err := e.ledger.GetMigrationHistory(ctx, steps)
	if err != nil {
		return nil, err
	}

	e.setState(StateExecuting)
	result := &api.RollbackResult{}
	for _, rec := range records {
		if rec.Status == api.RecordRolledBack {
			continue
		}
		if rec.RollbackSQL == nil || len(sqlgen.SplitScript(*rec.RollbackSQL)) == 0 {
			e.logger.Warn().
				Str("version", rec.Version).
				Msg("no rollback SQL recorded; destructive change cannot be restored")
			result.Skipped++
			continue
		}

		if err := e.rollbackOne(ctx, rec); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, api.RollbackFailure{Version: rec.Version, Err: err})
			e.logger.Error().Err(err).Str("version", rec.Version).Msg("rollback failed")
			if !continueOnError {
				break
			}
			continue
		}
		result.RolledBack++
	}

	if result.RolledBack > 0 {
		e.cache.Invalidate()
	}
	if result.Failed > 0 {
		e.setState(StateFailed)
	} else {
		e.setState(StateCommitted)
	}
	return result, nil
}

func (e *Engine) rollbackOne(ctx context.Context, rec api.MigrationRecord) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, stmt := range sqlgen.SplitScript(*rec.RollbackSQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing %q: %w", stmt, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if err := e.ledger.UpdateStatus(ctx, rec.Version, api.RecordRolledBack); err != nil {
		// the DDL is already reverted; losing the status flip risks a
		// duplicate rollback attempt later, so say so loudly
		e.logger.Error().Err(err).Str("version", rec.Version).Msg("marking record rolled_back failed")
	}
	return nil
}

// Status reports outstanding drift alongside recent history.
func (e *Engine) Status(ctx context.Context) (*api.StatusReport, error) {
	plan, err := e.Plan(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Initialize(ctx); err != nil {
		return nil, err
	}
	history, err := e.ledger.GetMigrationHistory(ctx, 20)
	if err != nil {
		return nil, err
	}
	return &api.StatusReport{Plan: plan, History: history, State: e.State().String()}, nil
}

// History returns the last limit ledger records, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]api.MigrationRecord, error) {
	if err := e.ledger.Initialize(ctx); err != nil {
		return nil, err
	}
	return e.ledger.GetMigrationHistory(ctx, limit)
}
