package vitals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "perfinsight/internal/db"
)

func countRows(t *testing.T, e *Engine, level string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&dbpkg.AggregateRow{}).Where("aggregation_level = ?", level).Count(&n).Error)
	return n
}

func TestBackfill(t *testing.T) {
	e, gdb := newTestEngine(t)
	now := time.Date(2026, 3, 10, 4, 15, 0, 0, time.UTC)
	insertSamples(t, gdb,
		lcpSample(time.Date(2026, 3, 10, 3, 5, 0, 0, time.UTC), "", "desktop", "Chrome", 1000),
		lcpSample(time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC), "", "desktop", "Chrome", 2000),
		lcpSample(time.Date(2026, 3, 9, 5, 0, 0, 0, time.UTC), "", "desktop", "Chrome", 3000),
		// the current, incomplete hour and anything past 24 hours are left alone
		lcpSample(time.Date(2026, 3, 10, 4, 1, 0, 0, time.UTC), "", "desktop", "Chrome", 4000),
		lcpSample(time.Date(2026, 3, 9, 3, 30, 0, 0, time.UTC), "", "desktop", "Chrome", 5000),
	)

	require.NoError(t, e.Backfill(context.Background(), now, 24, 4))

	var hours []dbpkg.AggregateRow
	require.NoError(t, gdb.Where("aggregation_level = ? AND dimension = ?", dbpkg.LevelHourly, "").
		Order("date, hour").Find(&hours).Error)
	require.Len(t, hours, 3)
	assert.Equal(t, "2026-03-09", hours[0].Date)
	assert.Equal(t, 5, hours[0].Hour)
	assert.Equal(t, 23, hours[1].Hour)
	assert.Equal(t, "2026-03-10", hours[2].Date)
	assert.Equal(t, 3, hours[2].Hour)
}

func TestRunScheduled(t *testing.T) {
	e, gdb := newTestEngine(t)
	insertSamples(t, gdb,
		lcpSample(time.Date(2026, 3, 9, 22, 30, 0, 0, time.UTC), "/", "mobile", "Chrome", 1800),
		lcpSample(time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC), "/", "mobile", "Chrome", 2200),
	)

	// the 23:00 tick aggregates 22:00 only
	e.RunScheduled(context.Background(), time.Date(2026, 3, 9, 23, 0, 5, 0, time.UTC))
	assert.Positive(t, countRows(t, e, dbpkg.LevelHourly))
	assert.Zero(t, countRows(t, e, dbpkg.LevelDaily))

	// the midnight tick closes 23:00 and then the whole day
	e.RunScheduled(context.Background(), time.Date(2026, 3, 10, 0, 0, 5, 0, time.UTC))
	daily, err := dbpkg.AggregatesForDate(context.Background(), gdb, "2026-03-09", dbpkg.LevelDaily)
	require.NoError(t, err)
	require.NotEmpty(t, daily)

	site := daily[0]
	assert.Equal(t, "", site.URLPath)
	assert.Equal(t, "", site.Dimension)
	assert.Equal(t, 2, site.SampleSize)
	assert.Equal(t, 2000.0, site.P75)
	assert.Equal(t, 1800.0, site.Min)
	assert.Equal(t, 2200.0, site.Max)
}

func TestRunScheduledCombinesDayAfterFailedLastHour(t *testing.T) {
	e, gdb := newTestEngine(t)
	insertSamples(t, gdb,
		lcpSample(time.Date(2026, 3, 9, 21, 30, 0, 0, time.UTC), "", "desktop", "Chrome", 1500),
		lcpSample(time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC), "", "desktop", "Chrome", 9000),
	)
	e.RunScheduled(context.Background(), time.Date(2026, 3, 9, 22, 0, 5, 0, time.UTC))

	// the 23:00 hour cannot be read any more
	require.NoError(t, gdb.Migrator().DropTable(&dbpkg.Sample{}))
	e.RunScheduled(context.Background(), time.Date(2026, 3, 10, 0, 0, 5, 0, time.UTC))

	daily, err := dbpkg.AggregatesForDate(context.Background(), gdb, "2026-03-09", dbpkg.LevelDaily)
	require.NoError(t, err)
	require.NotEmpty(t, daily)
	assert.Equal(t, "", daily[0].URLPath)
	assert.Equal(t, "", daily[0].Dimension)
	assert.Equal(t, 1, daily[0].SampleSize)
	assert.Equal(t, 1500.0, daily[0].P75)
}
