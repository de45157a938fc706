package vitals

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	dbpkg "perfinsight/internal/db"
)

// minURLDimensionSamples is the smallest URL-scoped dimension group that gets
// its own row. Site-wide dimension groups have no minimum.
const minURLDimensionSamples = 5

// unknownDimensionValue stands in for samples with an empty dimension field.
const unknownDimensionValue = "unknown"

// AggregateHour rolls up the raw samples recorded in [hourStart, hourStart+1h)
// (hourStart is truncated to the UTC hour) and returns how many aggregate rows
// were written. An hour without samples writes nothing and returns 0. Re-running
// an hour overwrites the same rows.
func (e *Engine) AggregateHour(ctx context.Context, hourStart time.Time) (int, error) {
	start := hourStart.UTC().Truncate(time.Hour)
	log := e.log.With(zap.String("level", dbpkg.LevelHourly), zap.Time("hour", start))
	log.Info("aggregating hourly metrics")
	timer := time.Now()

	samples, err := dbpkg.SamplesBetween(ctx, e.db, start, start.Add(time.Hour))
	if err != nil {
		aggregationErrorsTotal.WithLabelValues(dbpkg.LevelHourly).Inc()
		return 0, fmt.Errorf("load samples: %w", err)
	}
	if len(samples) == 0 {
		log.Info("no samples found for this hour")
		return 0, nil
	}

	rows := buildHourlyRows(samples, start)
	for i := range rows {
		if err := dbpkg.UpsertAggregate(ctx, e.db, &rows[i]); err != nil {
			aggregationErrorsTotal.WithLabelValues(dbpkg.LevelHourly).Inc()
			return i, fmt.Errorf("upsert hourly row: %w", err)
		}
	}

	aggregationRowsTotal.WithLabelValues(dbpkg.LevelHourly).Add(float64(len(rows)))
	aggregationDuration.WithLabelValues(dbpkg.LevelHourly).Observe(time.Since(timer).Seconds())
	log.Info("created hourly aggregations", zap.Int("rows", len(rows)), zap.Int("samples", len(samples)))
	return len(rows), nil
}

// buildHourlyRows computes every hourly row for one hour's samples: site-wide
// rows first, then one block per URL path in lexical order.
func buildHourlyRows(samples []dbpkg.Sample, hourStart time.Time) []dbpkg.AggregateRow {
	base := dbpkg.AggregateRow{
		Date:             dayString(hourStart),
		Hour:             hourStart.Hour(),
		AggregationLevel: dbpkg.LevelHourly,
	}

	rows := scopeRows(samples, base, 0)

	byURL := make(map[string][]dbpkg.Sample)
	for _, s := range samples {
		byURL[s.URLPath] = append(byURL[s.URLPath], s)
	}
	paths := make([]string, 0, len(byURL))
	for p := range byURL {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if p == "" {
			// An empty path would collide with the site-wide key.
			continue
		}
		scoped := base
		scoped.URLPath = p
		rows = append(rows, scopeRows(byURL[p], scoped, minURLDimensionSamples)...)
	}
	return rows
}

// scopeRows emits, for each metric, the all-traffic row of the scope followed
// by its dimension breakdowns. Breakdown groups smaller than minDimension are
// skipped.
func scopeRows(samples []dbpkg.Sample, base dbpkg.AggregateRow, minDimension int) []dbpkg.AggregateRow {
	var rows []dbpkg.AggregateRow
	for _, metric := range Metrics {
		var values []float64
		var measured []*dbpkg.Sample
		for i := range samples {
			if v, ok := samples[i].MetricValue(metric); ok {
				values = append(values, v)
				measured = append(measured, &samples[i])
			}
		}
		st, ok := ComputeStats(values)
		if !ok {
			continue
		}
		row := base
		row.MetricName = metric
		rows = append(rows, withStats(row, st))

		for _, dim := range Dimensions {
			groups := make(map[string][]float64)
			for _, s := range measured {
				v, _ := s.MetricValue(metric)
				key := dimensionValue(s, dim)
				groups[key] = append(groups[key], v)
			}
			keys := make([]string, 0, len(groups))
			for k := range groups {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			for _, k := range keys {
				if len(groups[k]) < minDimension {
					continue
				}
				st, _ := ComputeStats(groups[k])
				drow := row
				drow.Dimension = dim
				drow.DimensionValue = k
				rows = append(rows, withStats(drow, st))
			}
		}
	}
	return rows
}

func dimensionValue(s *dbpkg.Sample, dim string) string {
	var v string
	switch dim {
	case DimensionDeviceType:
		v = s.DeviceType
	case DimensionBrowserFamily:
		v = s.BrowserFamily
	}
	if v == "" {
		return unknownDimensionValue
	}
	return v
}

func withStats(row dbpkg.AggregateRow, st Stats) dbpkg.AggregateRow {
	row.SampleSize = st.Count
	row.P50 = st.P50
	row.P75 = st.P75
	row.P90 = st.P90
	row.P95 = st.P95
	row.P99 = st.P99
	row.Avg = st.Avg
	row.Min = st.Min
	row.Max = st.Max
	return row
}
