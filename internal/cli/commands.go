package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dfryer1193/sleipnir/api"
	"github.com/dfryer1193/sleipnir/internal/engine"
)

func newPlanCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Detect drift and print the migration plan without applying it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, db, err := buildEngine(v)
			if err != nil {
				return err
			}
			defer db.Close()

			plan, err := eng.Plan(cmd.Context())
			if err != nil {
				return err
			}
			printPlan(plan)
			return nil
		},
	}
}

func newApplyCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply pending migrations under the given execution mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := api.ParseExecutionMode(v.GetString("mode"))
			if err != nil {
				return err
			}

			eng, db, err := buildEngine(v, engine.WithDryRunOutput(os.Stdout))
			if err != nil {
				return err
			}
			defer db.Close()

			if mode == api.ModeAggressive && !v.GetBool("yes") {
				plan, err := eng.Plan(cmd.Context())
				if err != nil {
					return err
				}
				high := 0
				for _, m := range plan.Migrations {
					if m.Risk == api.RiskHigh {
						high++
					}
				}
				if high > 0 {
					printPlan(plan)
					if !confirm(fmt.Sprintf("apply %d HIGH-risk migration(s), possibly losing data", high)) {
						return errCancelled
					}
				}
			}

			plan, executed, err := eng.Apply(cmd.Context(), mode)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s), status %s\n", len(executed), plan.Status)
			if pending := plan.Pending(mode); len(pending) > 0 && mode != api.ModeDryRun {
				fmt.Printf("%d migration(s) exceed mode %s and remain pending:\n", len(pending), mode)
				for _, m := range pending {
					fmt.Printf("  [%s] %s\n", m.Risk, m.Description)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("mode", "SAFE", "execution mode (SAFE, AUTO, AGGRESSIVE, DRY_RUN)")
	cmd.Flags().BoolP("yes", "y", false, "skip the HIGH-risk confirmation prompt")
	return cmd
}

func newRollbackCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Re-apply stored rollback SQL for recent migrations, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, db, err := buildEngine(v)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := eng.Rollback(cmd.Context(), v.GetInt("steps"), v.GetBool("continue-on-error"))
			if err != nil {
				return err
			}
			fmt.Printf("rolled back %d, failed %d, skipped %d (no rollback SQL)\n",
				res.RolledBack, res.Failed, res.Skipped)
			for _, f := range res.Failures {
				fmt.Printf("  %s: %v\n", f.Version, f.Err)
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d rollback(s) failed", res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().Int("steps", 1, "number of ledger records to roll back")
	cmd.Flags().Bool("continue-on-error", false, "keep rolling back after a failure")
	return cmd
}

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show outstanding drift and recent migration history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, db, err := buildEngine(v)
			if err != nil {
				return err
			}
			defer db.Close()

			report, err := eng.Status(cmd.Context())
			if err != nil {
				return err
			}
			printPlan(report.Plan)
			printHistory(report.History)
			return nil
		},
	}
}
