package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"perfinsight/internal/config"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := OpenSQLite("")
	require.NoError(t, err)
	return gdb
}

func TestConnectRejectsUnknownURL(t *testing.T) {
	_, err := Connect(&config.Config{})
	assert.Error(t, err)

	_, err = Connect(&config.Config{DatabaseURL: "mysql://localhost/perf"})
	assert.Error(t, err)
}

func TestConnectSQLite(t *testing.T) {
	gdb, err := Connect(&config.Config{DatabaseURL: "sqlite://:memory:"})
	require.NoError(t, err)
	assert.True(t, gdb.Migrator().HasTable(&Sample{}))
	assert.True(t, gdb.Migrator().HasTable("aggregated_performance_metrics"))
}

func TestSeedThresholds(t *testing.T) {
	gdb := openTestDB(t)

	var rows []Threshold
	require.NoError(t, gdb.Order("id").Find(&rows).Error)
	require.Len(t, rows, len(DefaultThresholds))
	assert.Equal(t, "lcp", rows[0].MetricName)
	assert.Equal(t, 2500.0, rows[0].GoodThreshold)
	assert.Equal(t, 4000.0, rows[0].PoorThreshold)

	// operator edits and narrower rows survive a re-seed
	require.NoError(t, gdb.Model(&Threshold{}).Where("metric_name = ?", "lcp").Update("good_threshold", 2000).Error)
	require.NoError(t, gdb.Create(&Threshold{MetricName: "cls", DeviceType: "mobile", GoodThreshold: 0.2, PoorThreshold: 0.3}).Error)
	require.NoError(t, SeedThresholds(gdb))

	var n int64
	require.NoError(t, gdb.Model(&Threshold{}).Count(&n).Error)
	assert.Equal(t, int64(len(DefaultThresholds)+1), n)

	var lcp Threshold
	require.NoError(t, gdb.Where("metric_name = ? AND url_pattern = '' AND device_type = ''", "lcp").Take(&lcp).Error)
	assert.Equal(t, 2000.0, lcp.GoodThreshold)
}

func TestThresholdBands(t *testing.T) {
	th := Threshold{GoodThreshold: 0.1, PoorThreshold: 0.25}
	assert.True(t, th.IsGood(0.1))
	assert.False(t, th.IsGood(0.11))
	assert.True(t, th.IsPoor(0.25))
	assert.False(t, th.IsPoor(0.2))
}

func TestUpsertAggregate(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()

	row := AggregateRow{
		Date: "2026-03-09", MetricName: "lcp", Hour: 0, AggregationLevel: LevelHourly,
		SampleSize: 10, P75: 2000,
	}
	first := row
	require.NoError(t, UpsertAggregate(ctx, gdb, &first))

	// absent members compare equal, so hour 0 site-wide rows collapse
	second := row
	second.SampleSize, second.P75 = 12, 2100
	require.NoError(t, UpsertAggregate(ctx, gdb, &second))

	// a different hour is a different tuple
	other := row
	other.Hour = 1
	require.NoError(t, UpsertAggregate(ctx, gdb, &other))

	// daily rows carry NoHour
	daily := row
	daily.Hour, daily.AggregationLevel = NoHour, LevelDaily
	require.NoError(t, UpsertAggregate(ctx, gdb, &daily))

	hourly, err := AggregatesForDate(ctx, gdb, "2026-03-09", LevelHourly)
	require.NoError(t, err)
	require.Len(t, hourly, 2)
	assert.Equal(t, 12, hourly[0].SampleSize)
	assert.Equal(t, 2100.0, hourly[0].P75)
	require.NotNil(t, hourly[0].HourOrNil())
	assert.Equal(t, 0, *hourly[0].HourOrNil())
	assert.Equal(t, 1, hourly[1].Hour)

	days, err := AggregatesForDate(ctx, gdb, "2026-03-09", LevelDaily)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Nil(t, days[0].HourOrNil())
}

func TestSampleMetricValue(t *testing.T) {
	var s Sample
	assert.True(t, s.SetMetricValue("inp", 120))
	assert.False(t, s.SetMetricValue("ttfb", 1))

	v, ok := s.MetricValue("inp")
	assert.True(t, ok)
	assert.Equal(t, 120.0, v)

	_, ok = s.MetricValue("lcp")
	assert.False(t, ok)
}

func TestSampleQueries(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	mk := func(at time.Time, path string, lcp float64) Sample {
		s := Sample{OccurredAt: at, URLPath: path, DeviceType: "desktop", BrowserFamily: "Chrome", SessionHash: "h"}
		s.SetMetricValue("lcp", lcp)
		return s
	}
	noLCP := Sample{OccurredAt: base, URLPath: "/a", DeviceType: "desktop", BrowserFamily: "Chrome", SessionHash: "h"}
	noLCP.SetMetricValue("cls", 0.1)

	require.NoError(t, InsertSamples(ctx, gdb, []Sample{
		mk(base, "/a", 1000),
		mk(base.Add(30*time.Minute), "/a", 1100),
		mk(base.Add(59*time.Minute), "/b", 1200),
		mk(base.Add(time.Hour), "/b", 1300),
		mk(base.Add(-time.Hour), "/c", 900),
		noLCP,
	}))
	require.NoError(t, InsertSamples(ctx, gdb, nil))

	hour, err := SamplesBetween(ctx, gdb, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, hour, 4)

	values, err := MetricValuesSince(ctx, gdb, "lcp", base, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{1000, 1100, 1200, 1300}, values)

	values, err = MetricValuesSince(ctx, gdb, "lcp", base, "/b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{1200, 1300}, values)

	pages, err := TopPages(ctx, gdb, base, 2)
	require.NoError(t, err)
	assert.Equal(t, []PageCount{{URLPath: "/a", Samples: 3}, {URLPath: "/b", Samples: 2}}, pages)
}
