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

// Severity grades a regression.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SiteWideLabel replaces the empty URL path of site-wide rows in regressions.
const SiteWideLabel = "Site-wide"

// Regression is a day-over-day worsening of a metric's daily p75.
type Regression struct {
	URLPath       string   `json:"url_path"`
	Metric        string   `json:"metric"`
	Current       float64  `json:"current"`
	Previous      float64  `json:"previous"`
	ChangePercent float64  `json:"change_percent"`
	Severity      Severity `json:"severity"`
}

// regressionThreshold is the percent increase of p75 that counts as a
// regression. CLS values are small and sensitive, so it reacts at 10%.
func regressionThreshold(metric string) float64 {
	if metric == MetricCLS {
		return 10
	}
	return 20
}

func severity(change float64, t *dbpkg.Threshold, current float64) Severity {
	if change > 30 || (t.IsPoor(current) && change > 15) {
		return SeverityHigh
	}
	if change > 15 || (!t.IsGood(current) && change > 10) {
		return SeverityMedium
	}
	return SeverityLow
}

// DetectRegressions compares yesterday's daily rows with the day before.
func (e *Engine) DetectRegressions(ctx context.Context) ([]Regression, error) {
	return e.DetectRegressionsOn(ctx, e.today().AddDate(0, 0, -1))
}

// DetectRegressionsOn compares the all-traffic daily rows of day with those of
// the preceding day, per metric and URL path. Metrics without a global
// threshold are skipped, as are pairs whose previous p75 is zero.
func (e *Engine) DetectRegressionsOn(ctx context.Context, day time.Time) ([]Regression, error) {
	current := dayString(day)
	previous := dayString(day.AddDate(0, 0, -1))

	out := make([]Regression, 0)
	for _, metric := range Metrics {
		t, err := e.Threshold(ctx, metric, "", "")
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue
		}

		cur, err := e.dailyByPath(ctx, metric, current)
		if err != nil {
			return nil, err
		}
		prev, err := e.dailyByPath(ctx, metric, previous)
		if err != nil {
			return nil, err
		}

		paths := make([]string, 0, len(cur))
		for p := range cur {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		for _, p := range paths {
			c := cur[p]
			pr, ok := prev[p]
			if !ok || pr.P75 == 0 {
				continue
			}
			change := (c.P75 - pr.P75) / pr.P75 * 100
			if change <= regressionThreshold(metric) {
				continue
			}
			label := p
			if label == "" {
				label = SiteWideLabel
			}
			sev := severity(change, t, c.P75)
			out = append(out, Regression{
				URLPath:       label,
				Metric:        metric,
				Current:       c.P75,
				Previous:      pr.P75,
				ChangePercent: round1(change),
				Severity:      sev,
			})
			regressionsDetectedTotal.WithLabelValues(metric, string(sev)).Inc()
		}
	}

	e.log.Info("regression detection finished",
		zap.String("date", current), zap.Int("regressions", len(out)))
	return out, nil
}

func (e *Engine) dailyByPath(ctx context.Context, metric, date string) (map[string]dbpkg.AggregateRow, error) {
	var rows []dbpkg.AggregateRow
	err := e.db.WithContext(ctx).
		Where("metric_name = ? AND date = ? AND aggregation_level = ? AND dimension = ?",
			metric, date, dbpkg.LevelDaily, "").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load daily rows: %w", err)
	}
	byPath := make(map[string]dbpkg.AggregateRow, len(rows))
	for _, r := range rows {
		byPath[r.URLPath] = r
	}
	return byPath, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
