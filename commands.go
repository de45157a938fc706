package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"perfinsight/internal/db"
)

var (
	aggregateAt   string
	regressionsOn string

	rootCmd = &cobra.Command{
		Use:   "perfinsight",
		Short: "Web performance sample collector and aggregation engine",
		Long: `perfinsight ingests Core Web Vitals samples, rolls them up into hourly
and daily percentile aggregates and reports day-over-day regressions.

Without a subcommand it runs the HTTP server.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the aggregation worker",
		RunE:  runServe,
	}

	aggregateCmd = &cobra.Command{
		Use:   "aggregate",
		Short: "Run aggregation jobs once, for use from an external scheduler",
	}
	aggregateHourlyCmd = &cobra.Command{
		Use:   "hourly",
		Short: "Aggregate one hour (default: the previous complete hour)",
		Args:  cobra.NoArgs,
		RunE:  runAggregateHourly,
	}
	aggregateDailyCmd = &cobra.Command{
		Use:   "daily",
		Short: "Combine one day's hourly rows (default: yesterday)",
		Args:  cobra.NoArgs,
		RunE:  runAggregateDaily,
	}
	aggregateAllCmd = &cobra.Command{
		Use:   "all",
		Short: "Aggregate all 24 hours of a day, then the day itself (default: yesterday)",
		Args:  cobra.NoArgs,
		RunE:  runAggregateAll,
	}

	regressionsCmd = &cobra.Command{
		Use:   "regressions",
		Short: "Print regressions of a day against the day before as JSON (default: yesterday)",
		Args:  cobra.NoArgs,
		RunE:  runRegressions,
	}
)

func init() {
	aggregateCmd.PersistentFlags().StringVar(&aggregateAt, "at", "",
		"hour (2006-01-02T15) for hourly, or date (2006-01-02) for daily/all; UTC")
	regressionsCmd.Flags().StringVar(&regressionsOn, "date", "", "day to check (2006-01-02, UTC)")

	aggregateCmd.AddCommand(aggregateHourlyCmd, aggregateDailyCmd, aggregateAllCmd)
	rootCmd.AddCommand(serveCmd, aggregateCmd, regressionsCmd)
}

// parseHour reads an hour flag; empty means the previous complete hour.
func parseHour(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return now.UTC().Truncate(time.Hour).Add(-time.Hour), nil
	}
	t, err := time.Parse("2006-01-02T15", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour %q: %w", v, err)
	}
	return t, nil
}

// parseDay reads a date flag; empty means yesterday.
func parseDay(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -1), nil
	}
	t, err := time.Parse(db.DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", v, err)
	}
	return t, nil
}

func runAggregateHourly(cmd *cobra.Command, _ []string) error {
	hour, err := parseHour(aggregateAt, time.Now())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.engine.AggregateHour(cmd.Context(), hour)
	if err != nil {
		return err
	}
	a.log.Info("hourly aggregation done", zap.Time("hour", hour), zap.Int("rows", n))
	return nil
}

func runAggregateDaily(cmd *cobra.Command, _ []string) error {
	day, err := parseDay(aggregateAt, time.Now())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.engine.AggregateDay(cmd.Context(), day)
	if err != nil {
		return err
	}
	a.log.Info("daily aggregation done", zap.String("date", day.Format(db.DateLayout)), zap.Int("rows", n))
	return nil
}

func runAggregateAll(cmd *cobra.Command, _ []string) error {
	day, err := parseDay(aggregateAt, time.Now())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.engine.Backfill(cmd.Context(), day.AddDate(0, 0, 1), 24, a.cfg.BackfillConcurrency); err != nil {
		return err
	}
	n, err := a.engine.AggregateDay(cmd.Context(), day)
	if err != nil {
		return err
	}
	a.log.Info("day aggregated", zap.String("date", day.Format(db.DateLayout)), zap.Int("daily_rows", n))
	return nil
}

func runRegressions(cmd *cobra.Command, _ []string) error {
	day, err := parseDay(regressionsOn, time.Now())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.close()

	regs, err := a.engine.DetectRegressionsOn(cmd.Context(), day)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(regs)
}
