package vitals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "perfinsight/internal/db"
)

// yesterday and dayBefore relative to testNow.
const (
	yesterday = "2026-03-09"
	dayBefore = "2026-03-08"
)

func TestDetectRegressionsLCP(t *testing.T) {
	e, gdb := newTestEngine(t)
	upsertRows(t, gdb,
		dailyRow(dayBefore, "", MetricLCP, 100, 50),
		dailyRow(yesterday, "", MetricLCP, 125, 50),
	)

	regs, err := e.DetectRegressions(context.Background())
	require.NoError(t, err)
	require.Len(t, regs, 1)

	r := regs[0]
	assert.Equal(t, SiteWideLabel, r.URLPath)
	assert.Equal(t, MetricLCP, r.Metric)
	assert.Equal(t, 125.0, r.Current)
	assert.Equal(t, 100.0, r.Previous)
	assert.Equal(t, 25.0, r.ChangePercent)
	assert.Equal(t, SeverityMedium, r.Severity)
}

func TestDetectRegressionsCLSThreshold(t *testing.T) {
	e, gdb := newTestEngine(t)
	upsertRows(t, gdb,
		dailyRow(dayBefore, "/home", MetricCLS, 100, 50),
		dailyRow(yesterday, "/home", MetricCLS, 125, 50),
		// +12% is a regression for CLS only
		dailyRow(dayBefore, "/about", MetricCLS, 0.05, 20),
		dailyRow(yesterday, "/about", MetricCLS, 0.056, 20),
	)

	regs, err := e.DetectRegressions(context.Background())
	require.NoError(t, err)
	require.Len(t, regs, 2)

	assert.Equal(t, "/about", regs[0].URLPath)
	assert.Equal(t, 12.0, regs[0].ChangePercent)
	assert.Equal(t, SeverityLow, regs[0].Severity)

	assert.Equal(t, "/home", regs[1].URLPath)
	assert.Equal(t, 25.0, regs[1].ChangePercent)
	assert.Equal(t, SeverityHigh, regs[1].Severity)
}

func TestDetectRegressionsBelowThreshold(t *testing.T) {
	e, gdb := newTestEngine(t)
	upsertRows(t, gdb,
		dailyRow(dayBefore, "", MetricLCP, 100, 50),
		dailyRow(yesterday, "", MetricLCP, 110, 50),
		dailyRow(dayBefore, "/", MetricINP, 200, 50),
		dailyRow(yesterday, "/", MetricINP, 150, 50),
		// previous p75 of zero cannot be compared
		dailyRow(dayBefore, "/zero", MetricLCP, 0, 50),
		dailyRow(yesterday, "/zero", MetricLCP, 900, 50),
		// no previous day at all
		dailyRow(yesterday, "/new", MetricLCP, 9000, 50),
	)

	regs, err := e.DetectRegressions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, regs)
}

func TestDetectRegressionsIgnoresDimensionRows(t *testing.T) {
	e, gdb := newTestEngine(t)
	prev := dailyRow(dayBefore, "", MetricLCP, 1000, 50)
	prev.Dimension, prev.DimensionValue = DimensionDeviceType, "mobile"
	cur := dailyRow(yesterday, "", MetricLCP, 3000, 50)
	cur.Dimension, cur.DimensionValue = DimensionDeviceType, "mobile"
	upsertRows(t, gdb, prev, cur)

	regs, err := e.DetectRegressions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, regs)
}

func TestDetectRegressionsOnOrdersByMetricThenPath(t *testing.T) {
	e, gdb := newTestEngine(t)
	upsertRows(t, gdb,
		dailyRow("2026-02-01", "/b", MetricOnloadTime, 1000, 10),
		dailyRow("2026-02-02", "/b", MetricOnloadTime, 2000, 10),
		dailyRow("2026-02-01", "/b", MetricLCP, 1000, 10),
		dailyRow("2026-02-02", "/b", MetricLCP, 1500, 10),
		dailyRow("2026-02-01", "/a", MetricLCP, 1000, 10),
		dailyRow("2026-02-02", "/a", MetricLCP, 1300, 10),
	)

	regs, err := e.DetectRegressionsOn(context.Background(), time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, regs, 3)
	assert.Equal(t, []string{"/a", "/b", "/b"}, []string{regs[0].URLPath, regs[1].URLPath, regs[2].URLPath})
	assert.Equal(t, []string{MetricLCP, MetricLCP, MetricOnloadTime}, []string{regs[0].Metric, regs[1].Metric, regs[2].Metric})
	assert.Equal(t, 30.0, regs[0].ChangePercent)
	assert.Equal(t, SeverityMedium, regs[0].Severity)
	assert.Equal(t, SeverityHigh, regs[1].Severity)
}

func TestSeverity(t *testing.T) {
	lcp := &dbpkg.Threshold{GoodThreshold: 2500, PoorThreshold: 4000}

	assert.Equal(t, SeverityHigh, severity(31, lcp, 1000))
	assert.Equal(t, SeverityHigh, severity(16, lcp, 4000))
	assert.Equal(t, SeverityMedium, severity(16, lcp, 1000))
	assert.Equal(t, SeverityMedium, severity(11, lcp, 3000))
	assert.Equal(t, SeverityLow, severity(11, lcp, 2500))
	assert.Equal(t, SeverityLow, severity(9, lcp, 4000))
}

func TestDetectRegressionsWithoutThreshold(t *testing.T) {
	e, gdb := newTestEngine(t)
	require.NoError(t, gdb.Where("metric_name = ?", MetricLCP).Delete(&dbpkg.Threshold{}).Error)
	upsertRows(t, gdb,
		dailyRow(dayBefore, "", MetricLCP, 100, 50),
		dailyRow(yesterday, "", MetricLCP, 200, 50),
	)

	regs, err := e.DetectRegressions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, regs)
}

func TestRound1(t *testing.T) {
	assert.Equal(t, 25.0, round1(25.000000000000004))
	assert.Equal(t, 12.3, round1(12.345))
	assert.Equal(t, -3.5, round1(-3.46))
}
