package vitals

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	dbpkg "perfinsight/internal/db"
)

type dailyKey struct {
	URLPath        string
	MetricName     string
	Dimension      string
	DimensionValue string
}

// AggregateDay combines the hourly rows of day's UTC date into daily rows and
// returns how many were written. Raw samples are not consulted: they may
// already have been purged.
//
// Percentiles and the mean are combined as sample-size-weighted averages of the
// hourly values. That is an approximation for percentiles, kept because
// downstream consumers compare against these numbers. Min and max are exact.
func (e *Engine) AggregateDay(ctx context.Context, day time.Time) (int, error) {
	date := dayString(day)
	log := e.log.With(zap.String("level", dbpkg.LevelDaily), zap.String("date", date))
	log.Info("aggregating daily metrics")
	timer := time.Now()

	hourly, err := dbpkg.AggregatesForDate(ctx, e.db, date, dbpkg.LevelHourly)
	if err != nil {
		aggregationErrorsTotal.WithLabelValues(dbpkg.LevelDaily).Inc()
		return 0, fmt.Errorf("load hourly rows: %w", err)
	}
	if len(hourly) == 0 {
		log.Info("no hourly aggregations found for this day")
		return 0, nil
	}

	rows := combineHourly(hourly, date)
	for i := range rows {
		if err := dbpkg.UpsertAggregate(ctx, e.db, &rows[i]); err != nil {
			aggregationErrorsTotal.WithLabelValues(dbpkg.LevelDaily).Inc()
			return i, fmt.Errorf("upsert daily row: %w", err)
		}
	}

	aggregationRowsTotal.WithLabelValues(dbpkg.LevelDaily).Add(float64(len(rows)))
	aggregationDuration.WithLabelValues(dbpkg.LevelDaily).Observe(time.Since(timer).Seconds())
	log.Info("created daily aggregations", zap.Int("rows", len(rows)), zap.Int("hourly_rows", len(hourly)))
	return len(rows), nil
}

func combineHourly(hourly []dbpkg.AggregateRow, date string) []dbpkg.AggregateRow {
	groups := make(map[dailyKey][]dbpkg.AggregateRow)
	var keys []dailyKey
	for _, r := range hourly {
		k := dailyKey{r.URLPath, r.MetricName, r.Dimension, r.DimensionValue}
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.URLPath != b.URLPath {
			return a.URLPath < b.URLPath
		}
		if a.MetricName != b.MetricName {
			return a.MetricName < b.MetricName
		}
		if a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		return a.DimensionValue < b.DimensionValue
	})

	rows := make([]dbpkg.AggregateRow, 0, len(keys))
	for _, k := range keys {
		items := groups[k]
		total := 0
		for _, it := range items {
			total += it.SampleSize
		}
		if total <= 0 {
			continue
		}

		lo, hi := math.Inf(1), math.Inf(-1)
		for _, it := range items {
			lo = math.Min(lo, it.Min)
			hi = math.Max(hi, it.Max)
		}
		n := float64(total)

		rows = append(rows, dbpkg.AggregateRow{
			Date:             date,
			URLPath:          k.URLPath,
			MetricName:       k.MetricName,
			Dimension:        k.Dimension,
			DimensionValue:   k.DimensionValue,
			Hour:             dbpkg.NoHour,
			AggregationLevel: dbpkg.LevelDaily,
			SampleSize:       total,
			P50:              weightedMean(items, n, func(r *dbpkg.AggregateRow) float64 { return r.P50 }),
			P75:              weightedMean(items, n, func(r *dbpkg.AggregateRow) float64 { return r.P75 }),
			P90:              weightedMean(items, n, func(r *dbpkg.AggregateRow) float64 { return r.P90 }),
			P95:              weightedMean(items, n, func(r *dbpkg.AggregateRow) float64 { return r.P95 }),
			P99:              weightedMean(items, n, func(r *dbpkg.AggregateRow) float64 { return r.P99 }),
			Avg:              weightedMean(items, n, func(r *dbpkg.AggregateRow) float64 { return r.Avg }),
			Min:              lo,
			Max:              hi,
		})
	}
	return rows
}

// weightedMean is Σ(stat_i·n_i)/Σn, accumulated as deviations from the first
// item so that identical hourly values combine back to exactly that value.
func weightedMean(items []dbpkg.AggregateRow, total float64, stat func(*dbpkg.AggregateRow) float64) float64 {
	base := stat(&items[0])
	var dev float64
	for i := range items {
		dev += (stat(&items[i]) - base) * float64(items[i].SampleSize)
	}
	return base + dev/total
}
