// Package executor runs a migration plan's statements under an execution
// mode. Each migration gets its own transaction: a mid-plan failure rolls
// back only the failing migration and halts further execution.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/sleipnir/api"
)

// Result reports what one execution pass did. Callers must not assume
// all-or-nothing across a plan, only within one migration.
type Result struct {
	Executed []api.Migration
	Skipped  []api.Migration // filtered out by the execution mode
}

// Executor applies plans against one database handle.
type Executor struct {
	db     *sql.DB
	dryRun io.Writer
	logger zerolog.Logger
}

// New creates an executor.
func New(db *sql.DB) *Executor {
	return &Executor{
		db:     db,
		logger: log.With().Str("component", "executor").Logger(),
	}
}

// WithDryRunOutput directs DRY_RUN scripts to w instead of the log.
func (e *Executor) WithDryRunOutput(w io.Writer) *Executor {
	e.dryRun = w
	return e
}

// ExecutePlan runs the plan's migrations permitted by mode, in order. On a
// statement failure the failing migration's transaction is rolled back and
// the partial Executed list is returned alongside the error.
func (e *Executor) ExecutePlan(ctx context.Context, plan *api.MigrationPlan, mode api.ExecutionMode) (Result, error) {
	var res Result

	if mode == api.ModeDryRun {
		e.writeDryRun(plan)
		res.Skipped = append(res.Skipped, plan.Migrations...)
		return res, nil
	}

	for i := range plan.Migrations {
		m := plan.Migrations[i]
		if !mode.Allows(m.Risk) {
			e.logger.Info().
				Str("version", m.Version).
				Str("risk", m.Risk.String()).
				Str("mode", string(mode)).
				Msg("skipping migration above mode's risk ceiling")
			res.Skipped = append(res.Skipped, m)
			continue
		}

		if err := e.executeOne(ctx, m); err != nil {
			return res, err
		}
		res.Executed = append(res.Executed, m)
	}
	return res, nil
}

func (e *Executor) executeOne(ctx context.Context, m api.Migration) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return &api.ExecutionError{Version: m.Version, Description: m.Description,
			Err: fmt.Errorf("begin tx: %w", err)}
	}

	for _, stmt := range m.Forward {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return &api.ExecutionError{Version: m.Version, Description: m.Description,
				Err: fmt.Errorf("executing %q: %w", stmt, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &api.ExecutionError{Version: m.Version, Description: m.Description,
			Err: fmt.Errorf("commit: %w", err)}
	}

	e.logger.Info().
		Str("version", m.Version).
		Str("risk", m.Risk.String()).
		Msg(m.Description)
	return nil
}

// writeDryRun renders the plan as an annotated SQL script.
func (e *Executor) writeDryRun(plan *api.MigrationPlan) {
	w := e.dryRun
	if w == nil {
		for _, m := range plan.Migrations {
			e.logger.Info().
				Str("version", m.Version).
				Strs("sql", m.Forward).
				Msg("dry-run: " + m.Description)
		}
		return
	}

	_, _ = fmt.Fprintf(w, "-- migration plan (dry-run), %d migrations\n", len(plan.Migrations))
	for _, m := range plan.Migrations {
		_, _ = fmt.Fprintf(w, "\n-- %s  %s  risk=%s\n", m.Version, m.Description, m.Risk)
		for _, stmt := range m.Forward {
			_, _ = fmt.Fprintf(w, "%s;\n", stmt)
		}
	}
}
