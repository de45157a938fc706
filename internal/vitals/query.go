package vitals

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	dbpkg "perfinsight/internal/db"
)

// NoChange is the Summary.Change value when no prior period can be compared.
const NoChange = "N/A"

// Summary is the dashboard card for one metric. Value, P75, P95 and Avg are
// nil when there is no data at all.
type Summary struct {
	Name       string   `json:"name"`
	Value      *float64 `json:"value"`
	Status     Status   `json:"status"`
	Change     string   `json:"change"`
	SampleSize int      `json:"sample_size"`
	P75        *float64 `json:"p75"`
	P95        *float64 `json:"p95"`
	Avg        *float64 `json:"avg"`
}

// windowStart is the first day included in a "last days" window.
func (e *Engine) windowStart(days int) time.Time {
	return e.today().AddDate(0, 0, -days)
}

// CoreVitalSummary summarises metric over the last days, site-wide when
// urlPath is empty. The latest daily row in the window is used and compared
// with the latest row before the window; without any daily row the summary
// is computed from raw samples instead.
func (e *Engine) CoreVitalSummary(ctx context.Context, metric string, days int, urlPath string) (Summary, error) {
	metric, err := NormalizeMetric(metric)
	if err != nil {
		return Summary{}, err
	}

	key := fmt.Sprintf("summary:%s:%d:%s:%s", metric, days, urlPath, dayString(e.today()))
	var cached Summary
	if found, err := e.cache.Get(ctx, key, &cached); err != nil {
		e.log.Warn("summary cache read failed", zap.Error(err))
	} else if found {
		return cached, nil
	}

	s, err := e.coreVitalSummary(ctx, metric, days, urlPath)
	if err != nil {
		return Summary{}, err
	}
	if err := e.cache.Set(ctx, key, s, e.cacheTTL); err != nil {
		e.log.Warn("summary cache write failed", zap.Error(err))
	}
	return s, nil
}

func (e *Engine) coreVitalSummary(ctx context.Context, metric string, days int, urlPath string) (Summary, error) {
	start := dayString(e.windowStart(days))

	latest, err := e.latestDaily(ctx, metric, urlPath, "date >= ?", start)
	if err != nil {
		return Summary{}, err
	}
	if latest == nil {
		return e.rawSummary(ctx, metric, days, urlPath)
	}

	previous, err := e.latestDaily(ctx, metric, urlPath, "date < ?", start)
	if err != nil {
		return Summary{}, err
	}
	change := NoChange
	if previous != nil && previous.P75 > 0 {
		if pct := (latest.P75 - previous.P75) / previous.P75 * 100; pct != 0 {
			r := round1(pct)
			if r == 0 {
				r = 0 // drop the sign of -0
			}
			change = strconv.FormatFloat(r, 'f', -1, 64) + "%"
		}
	}

	status, err := e.Status(ctx, metric, latest.P75, urlPath, "")
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Name:       metric,
		Value:      floatPtr(latest.P75),
		Status:     status,
		Change:     change,
		SampleSize: latest.SampleSize,
		P75:        floatPtr(latest.P75),
		P95:        floatPtr(latest.P95),
		Avg:        floatPtr(latest.Avg),
	}, nil
}

// latestDaily returns the newest all-traffic daily row matching the extra
// date condition, or nil.
func (e *Engine) latestDaily(ctx context.Context, metric, urlPath, dateCond string, arg any) (*dbpkg.AggregateRow, error) {
	var rows []dbpkg.AggregateRow
	err := e.db.WithContext(ctx).
		Where("metric_name = ? AND url_path = ? AND aggregation_level = ? AND dimension = ?",
			metric, urlPath, dbpkg.LevelDaily, "").
		Where(dateCond, arg).
		Order("date DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load daily aggregate: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// rawSummary computes the summary straight from samples. It shares the
// statistic routine with the hourly aggregator; no prior period is compared.
func (e *Engine) rawSummary(ctx context.Context, metric string, days int, urlPath string) (Summary, error) {
	values, err := dbpkg.MetricValuesSince(ctx, e.db, metric, e.windowStart(days), urlPath)
	if err != nil {
		return Summary{}, fmt.Errorf("load raw samples: %w", err)
	}
	st, ok := ComputeStats(values)
	if !ok {
		return Summary{Name: metric, Status: StatusUnknown, Change: NoChange}, nil
	}
	status, err := e.Status(ctx, metric, st.P75, urlPath, "")
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Name:       metric,
		Value:      floatPtr(st.P75),
		Status:     status,
		Change:     NoChange,
		SampleSize: st.Count,
		P75:        floatPtr(st.P75),
		P95:        floatPtr(st.P95),
		Avg:        floatPtr(st.Avg),
	}, nil
}

// TrendPoint is one bucket of a trend series. Hour is set for hourly series.
type TrendPoint struct {
	Date       string  `json:"date"`
	Hour       *int    `json:"hour"`
	Value      float64 `json:"value"`
	SampleSize int     `json:"sample_size"`
}

// Trend is a p75 time series, either flat or split by dimension value.
type Trend struct {
	Metric      string                  `json:"metric"`
	Level       string                  `json:"aggregation_level"`
	Points      []TrendPoint            `json:"points,omitempty"`
	ByDimension map[string][]TrendPoint `json:"by_dimension,omitempty"`
}

// trendLevel picks the rollup granularity for a window length.
func trendLevel(days int) string {
	switch {
	case days <= 2:
		return dbpkg.LevelHourly
	case days > 90:
		return dbpkg.LevelWeekly
	default:
		return dbpkg.LevelDaily
	}
}

// MetricTrend returns the p75 series of metric over the last days. With a
// dimension the series is split per dimension value; otherwise only
// all-traffic rows are used.
func (e *Engine) MetricTrend(ctx context.Context, metric string, days int, urlPath, dimension string) (Trend, error) {
	metric, err := NormalizeMetric(metric)
	if err != nil {
		return Trend{}, err
	}
	if dimension != "" && dimension != DimensionDeviceType && dimension != DimensionBrowserFamily {
		return Trend{}, ErrUnknownDimension
	}

	level := trendLevel(days)
	var rows []dbpkg.AggregateRow
	err = e.db.WithContext(ctx).
		Where("metric_name = ? AND url_path = ? AND aggregation_level = ? AND dimension = ?",
			metric, urlPath, level, dimension).
		Where("date >= ? AND date <= ?", dayString(e.windowStart(days)), dayString(e.today())).
		Order("date, hour, dimension_value").
		Find(&rows).Error
	if err != nil {
		return Trend{}, fmt.Errorf("load trend rows: %w", err)
	}

	t := Trend{Metric: metric, Level: level}
	if dimension == "" {
		t.Points = make([]TrendPoint, 0, len(rows))
		for i := range rows {
			t.Points = append(t.Points, trendPoint(&rows[i]))
		}
		return t, nil
	}
	t.ByDimension = make(map[string][]TrendPoint)
	for i := range rows {
		v := rows[i].DimensionValue
		t.ByDimension[v] = append(t.ByDimension[v], trendPoint(&rows[i]))
	}
	return t, nil
}

func trendPoint(r *dbpkg.AggregateRow) TrendPoint {
	return TrendPoint{
		Date:       r.Date,
		Hour:       r.HourOrNil(),
		Value:      r.P75,
		SampleSize: r.SampleSize,
	}
}

// DeviceBreakdown is the latest daily p75 of one device type.
type DeviceBreakdown struct {
	DeviceType string  `json:"device_type"`
	Value      float64 `json:"value"`
	Status     Status  `json:"status"`
	SampleSize int     `json:"sample_size"`
}

// DeviceTypeBreakdown returns, per device type, the most recent daily row in
// the window graded against the device's threshold. Sorted by device type.
func (e *Engine) DeviceTypeBreakdown(ctx context.Context, metric string, days int, urlPath string) ([]DeviceBreakdown, error) {
	metric, err := NormalizeMetric(metric)
	if err != nil {
		return nil, err
	}
	latest, thresholds, err := e.latestPerDimensionValue(ctx, metric, days, urlPath, DimensionDeviceType)
	if err != nil {
		return nil, err
	}

	out := make([]DeviceBreakdown, 0, len(latest))
	for device, r := range latest {
		out = append(out, DeviceBreakdown{
			DeviceType: device,
			Value:      r.P75,
			Status:     Grade(MostSpecific(thresholds, urlPath, device), r.P75),
			SampleSize: r.SampleSize,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceType < out[j].DeviceType })
	return out, nil
}

// BrowserBreakdown is the latest daily p75 of one browser family.
type BrowserBreakdown struct {
	Browser    string  `json:"browser"`
	Value      float64 `json:"value"`
	Status     Status  `json:"status"`
	SampleSize int     `json:"sample_size"`
}

// BrowserBreakdown returns, per browser family, the most recent daily row in
// the window graded against the page's threshold. Most-sampled browsers come
// first; ties are ordered by name.
func (e *Engine) BrowserBreakdown(ctx context.Context, metric string, days int, urlPath string) ([]BrowserBreakdown, error) {
	metric, err := NormalizeMetric(metric)
	if err != nil {
		return nil, err
	}
	latest, thresholds, err := e.latestPerDimensionValue(ctx, metric, days, urlPath, DimensionBrowserFamily)
	if err != nil {
		return nil, err
	}

	th := MostSpecific(thresholds, urlPath, "")
	out := make([]BrowserBreakdown, 0, len(latest))
	for browser, r := range latest {
		out = append(out, BrowserBreakdown{
			Browser:    browser,
			Value:      r.P75,
			Status:     Grade(th, r.P75),
			SampleSize: r.SampleSize,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SampleSize != out[j].SampleSize {
			return out[i].SampleSize > out[j].SampleSize
		}
		return out[i].Browser < out[j].Browser
	})
	return out, nil
}

// latestPerDimensionValue loads the daily rows of one dimension in the window
// and keeps the newest per dimension value, along with metric's thresholds.
func (e *Engine) latestPerDimensionValue(ctx context.Context, metric string, days int, urlPath, dimension string) (map[string]dbpkg.AggregateRow, []dbpkg.Threshold, error) {
	var rows []dbpkg.AggregateRow
	err := e.db.WithContext(ctx).
		Where("metric_name = ? AND url_path = ? AND aggregation_level = ? AND dimension = ?",
			metric, urlPath, dbpkg.LevelDaily, dimension).
		Where("date >= ?", dayString(e.windowStart(days))).
		Order("date DESC").
		Find(&rows).Error
	if err != nil {
		return nil, nil, fmt.Errorf("load %s rows: %w", dimension, err)
	}

	thresholds, err := e.thresholds(ctx, metric)
	if err != nil {
		return nil, nil, err
	}

	latest := make(map[string]dbpkg.AggregateRow)
	for _, r := range rows {
		if _, ok := latest[r.DimensionValue]; !ok {
			latest[r.DimensionValue] = r
		}
	}
	return latest, thresholds, nil
}

// PagePerformance holds the headline summaries of one page.
type PagePerformance struct {
	URLPath    string  `json:"url_path"`
	LCP        Summary `json:"lcp"`
	CLS        Summary `json:"cls"`
	OnloadTime Summary `json:"onload_time"`
}

// TopPagesPerformance summarises the count most-sampled pages of the window.
func (e *Engine) TopPagesPerformance(ctx context.Context, count, days int) ([]PagePerformance, error) {
	pages, err := dbpkg.TopPages(ctx, e.db, e.windowStart(days), count)
	if err != nil {
		return nil, fmt.Errorf("load top pages: %w", err)
	}

	out := make([]PagePerformance, 0, len(pages))
	for _, p := range pages {
		pp := PagePerformance{URLPath: p.URLPath}
		if pp.LCP, err = e.CoreVitalSummary(ctx, MetricLCP, days, p.URLPath); err != nil {
			return nil, err
		}
		if pp.CLS, err = e.CoreVitalSummary(ctx, MetricCLS, days, p.URLPath); err != nil {
			return nil, err
		}
		if pp.OnloadTime, err = e.CoreVitalSummary(ctx, MetricOnloadTime, days, p.URLPath); err != nil {
			return nil, err
		}
		out = append(out, pp)
	}
	return out, nil
}

// pageDetailsDays is the window of the page details view.
const pageDetailsDays = 30

// PageDetails is everything known about one page: a summary per metric, the
// lcp device and browser breakdowns, and the lcp and onload_time trends.
type PageDetails struct {
	URLPath  string             `json:"url_path"`
	Metrics  map[string]Summary `json:"metrics"`
	Devices  []DeviceBreakdown  `json:"device_breakdown"`
	Browsers []BrowserBreakdown `json:"browser_breakdown"`
	Trends   map[string]Trend   `json:"trends"`
}

// PageDetails assembles the details view of urlPath over the last 30 days.
func (e *Engine) PageDetails(ctx context.Context, urlPath string) (PageDetails, error) {
	d := PageDetails{
		URLPath: urlPath,
		Metrics: make(map[string]Summary, len(Metrics)),
		Trends:  make(map[string]Trend, 2),
	}
	for _, m := range Metrics {
		s, err := e.CoreVitalSummary(ctx, m, pageDetailsDays, urlPath)
		if err != nil {
			return PageDetails{}, err
		}
		d.Metrics[m] = s
	}

	var err error
	if d.Devices, err = e.DeviceTypeBreakdown(ctx, MetricLCP, pageDetailsDays, urlPath); err != nil {
		return PageDetails{}, err
	}
	if d.Browsers, err = e.BrowserBreakdown(ctx, MetricLCP, pageDetailsDays, urlPath); err != nil {
		return PageDetails{}, err
	}
	for _, m := range []string{MetricLCP, MetricOnloadTime} {
		t, err := e.MetricTrend(ctx, m, pageDetailsDays, urlPath, "")
		if err != nil {
			return PageDetails{}, err
		}
		d.Trends[m] = t
	}
	return d, nil
}

func floatPtr(v float64) *float64 { return &v }
