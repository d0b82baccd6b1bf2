package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/history"
)

func (c *cli) analyzeCmd() *cobra.Command {
	var (
		save      bool
		subjectID string
	)

	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Analyze health data JSON and print the clinical report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data domain.HealthData
			if err := readInput(cmd, args, &data); err != nil {
				return err
			}

			engine, err := c.engine()
			if err != nil {
				return err
			}

			report, err := engine.Analyze(cmd.Context(), &data)
			if err != nil {
				return err
			}

			if save {
				if err := c.cfg.EnsureDataDir(); err != nil {
					return err
				}
				store, err := history.NewSQLiteStore(c.cfg.HistoryDBPath(), c.logger)
				if err != nil {
					return err
				}
				defer store.Close()

				rec := history.NewRecord(subjectID, report)
				if err := store.Save(cmd.Context(), rec); err != nil {
					return err
				}
				c.logger.WithField("report_id", rec.ID).Info("Report saved")
			}

			return writeJSON(cmd, report)
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "store the report in the local history")
	cmd.Flags().StringVar(&subjectID, "subject", "", "subject identifier recorded with a saved report")
	return cmd
}

func (c *cli) riskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk [file]",
		Short: "Score 10-year cardiovascular risk from a risk input JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in domain.RiskInput
			if err := readInput(cmd, args, &in); err != nil {
				return err
			}

			engine, err := c.engine()
			if err != nil {
				return err
			}

			score, annotations := engine.ScoreRisk(in)
			return writeJSON(cmd, map[string]interface{}{
				"risk_score":  score,
				"annotations": annotations,
			})
		},
	}
}

func (c *cli) screeningCmd() *cobra.Command {
	var (
		age      int
		gender   string
		lastDate string
	)

	cmd := &cobra.Command{
		Use:   "screening <type>",
		Short: "Compute the next due date for a screening",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := domain.ParseGender(gender)
			if err != nil {
				return err
			}
			profile := domain.PatientProfile{Age: age, Gender: g}

			var last *time.Time
			if lastDate != "" {
				t, err := time.Parse("2006-01-02", lastDate)
				if err != nil {
					return fmt.Errorf("invalid --last date %q: %w", lastDate, err)
				}
				last = &t
			}

			engine, err := c.engine()
			if err != nil {
				return err
			}

			schedule, err := engine.ScheduleScreening(args[0], profile, last)
			if err != nil {
				return err
			}
			return writeJSON(cmd, schedule)
		},
	}

	cmd.Flags().IntVar(&age, "age", 0, "patient age in years")
	cmd.Flags().StringVar(&gender, "gender", "", "patient gender (male or female)")
	cmd.Flags().StringVar(&lastDate, "last", "", "date of the last screening (YYYY-MM-DD)")
	return cmd
}

func (c *cli) qualityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quality [file]",
		Short: "Evaluate quality metrics for health data JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data domain.HealthData
			if err := readInput(cmd, args, &data); err != nil {
				return err
			}

			engine, err := c.engine()
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]interface{}{"quality_metrics": engine.EvaluateQuality(&data)})
		},
	}
}
