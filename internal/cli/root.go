// Package cli implements the sleipnir command tree.
package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dfryer1193/sleipnir/api"
	"github.com/dfryer1193/sleipnir/internal/data"
	"github.com/dfryer1193/sleipnir/internal/engine"
	"github.com/dfryer1193/sleipnir/internal/hooks"
)

// errCancelled marks a confirmation the operator declined. It maps to exit
// code 2 so scripts can tell "declined" from "failed".
var errCancelled = errors.New("cancelled")

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if errors.Is(err, errCancelled) {
			return 2
		}
		log.Error().Err(err).Msg("command failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SLEIPNIR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "sleipnir",
		Short:         "Detect schema drift and apply risk-classified migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			_ = v.BindPFlags(cmd.Flags())
			if v.GetBool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.String("dialect", "postgres", "target database dialect (postgres, mysql, sqlite)")
	pf.String("dsn", "", "connection string (defaults from DB_* environment variables)")
	pf.String("schema", "schema.yaml", "declared schema file")
	pf.String("lock-dir", ".", "directory for the fallback lock file")
	pf.Duration("detect-timeout", 30*time.Second, "schema detection timeout")
	pf.Duration("lock-timeout", 30*time.Second, "migration lock acquisition timeout")
	pf.Bool("no-cache", false, "disable the schema fingerprint cache")
	pf.Bool("record-skipped", false, "write ledger rows for mode-filtered migrations")
	pf.Bool("verbose", false, "debug logging")

	root.AddCommand(newPlanCmd(v), newApplyCmd(v), newRollbackCmd(v), newStatusCmd(v))
	return root
}

// buildEngine loads the declared schema, opens the database, and wires an
// engine from the bound flags. The caller closes db.
func buildEngine(v *viper.Viper, opts ...engine.Option) (*engine.Engine, *sql.DB, error) {
	dialect := api.Dialect(v.GetString("dialect"))
	switch dialect {
	case api.DialectPostgres, api.DialectMySQL, api.DialectSQLite:
	default:
		return nil, nil, fmt.Errorf("unknown dialect %q", dialect)
	}

	meta, err := LoadSchemaFile(v.GetString("schema"))
	if err != nil {
		return nil, nil, err
	}

	db, err := data.Connect(dialect, v.GetString("dsn"))
	if err != nil {
		return nil, nil, err
	}

	cfg := engine.DefaultConfig()
	cfg.DetectTimeout = v.GetDuration("detect-timeout")
	cfg.LockTimeout = v.GetDuration("lock-timeout")
	cfg.CacheEnabled = !v.GetBool("no-cache")
	cfg.RecordSkipped = v.GetBool("record-skipped")
	cfg.LockDir = v.GetString("lock-dir")

	eng, err := engine.New(db, dialect, meta, hooks.NewRegistry(cfg.HookTimeout), cfg, opts...)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return eng, db, nil
}

func printPlan(plan *api.MigrationPlan) {
	fmt.Printf("plan status: %s\n", plan.Status)
	for _, m := range plan.Migrations {
		fmt.Printf("  [%s] %s  %s\n", m.Risk, m.Version, m.Description)
		for _, stmt := range m.Forward {
			fmt.Printf("      %s;\n", stmt)
		}
		if !m.HasRollback() {
			fmt.Printf("      (no rollback; destructive)\n")
		}
	}
}

func printHistory(records []api.MigrationRecord) {
	if len(records) == 0 {
		fmt.Println("history: empty")
		return
	}
	fmt.Println("history (newest first):")
	for _, r := range records {
		fmt.Printf("  %s  %-11s  [%s]  %s  (%s)\n",
			r.Version, r.Status, r.Risk, r.Description,
			r.AppliedAt.Format(time.RFC3339))
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	var answer string
	_, _ = fmt.Fscanln(os.Stdin, &answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
