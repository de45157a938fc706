package vitals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "perfinsight/internal/db"
)

// testNow is the fixed clock of engine tests: "today" is 2026-03-10.
var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *gorm.DB) {
	t.Helper()
	gdb, err := dbpkg.OpenSQLite(":memory:")
	require.NoError(t, err)
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(gdb, nil, opts...), gdb
}

func lcpSample(at time.Time, path, device, browser string, v float64) dbpkg.Sample {
	s := dbpkg.Sample{
		OccurredAt:    at,
		URLPath:       path,
		DeviceType:    device,
		BrowserFamily: browser,
		SessionHash:   "session",
	}
	s.SetMetricValue(MetricLCP, v)
	return s
}

func insertSamples(t *testing.T, gdb *gorm.DB, samples ...dbpkg.Sample) {
	t.Helper()
	require.NoError(t, dbpkg.InsertSamples(context.Background(), gdb, samples))
}

// dailyRow builds an all-traffic daily row for seeding read-path tests.
func dailyRow(date, path, metric string, p75 float64, n int) dbpkg.AggregateRow {
	return dbpkg.AggregateRow{
		Date:             date,
		URLPath:          path,
		MetricName:       metric,
		Hour:             dbpkg.NoHour,
		AggregationLevel: dbpkg.LevelDaily,
		SampleSize:       n,
		P50:              p75,
		P75:              p75,
		P90:              p75,
		P95:              p75,
		P99:              p75,
		Avg:              p75,
		Min:              p75,
		Max:              p75,
	}
}

func upsertRows(t *testing.T, gdb *gorm.DB, rows ...dbpkg.AggregateRow) {
	t.Helper()
	for i := range rows {
		require.NoError(t, dbpkg.UpsertAggregate(context.Background(), gdb, &rows[i]))
	}
}

func TestNormalizeMetric(t *testing.T) {
	m, err := NormalizeMetric(" LCP ")
	require.NoError(t, err)
	assert.Equal(t, MetricLCP, m)

	m, err = NormalizeMetric("Onload_Time")
	require.NoError(t, err)
	assert.Equal(t, MetricOnloadTime, m)

	_, err = NormalizeMetric("ttfb")
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestEngineToday(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), e.today())
	assert.Equal(t, "2026-03-03", dayString(e.windowStart(7)))
}
