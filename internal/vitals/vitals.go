// Package vitals is the metrics aggregation engine: it rolls raw page-load
// samples up into hourly and daily percentile rows, grades values against
// good/poor thresholds, detects day-over-day regressions and serves the
// read-side summaries the dashboard is built from.
package vitals

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"perfinsight/internal/cache"
	dbpkg "perfinsight/internal/db"
)

// Metric names, which double as the sample column names.
const (
	MetricLCP        = "lcp"
	MetricFCP        = "fcp"
	MetricCLS        = "cls"
	MetricINP        = "inp"
	MetricOnloadTime = "onload_time"
)

// Metrics is every metric the engine aggregates, in reporting order.
var Metrics = []string{MetricLCP, MetricFCP, MetricCLS, MetricINP, MetricOnloadTime}

// Dimensions used for breakdown rows.
const (
	DimensionDeviceType    = "device_type"
	DimensionBrowserFamily = "browser_family"
)

// Dimensions is every dimension the hourly aggregator fans out over.
var Dimensions = []string{DimensionDeviceType, DimensionBrowserFamily}

// ErrUnknownMetric is returned by read paths for a metric name outside Metrics.
var ErrUnknownMetric = errors.New("unknown metric")

// ErrUnknownDimension is returned by trend queries for an unsupported dimension.
var ErrUnknownDimension = errors.New("unknown dimension")

// Engine runs aggregation jobs and answers dashboard queries against one database.
type Engine struct {
	db       *gorm.DB
	log      *zap.Logger
	now      func() time.Time
	cache    cache.Store
	cacheTTL time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, which anchors "today" for read paths and the worker.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCache enables read-through caching of summaries for ttl.
func WithCache(c cache.Store, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

// New returns an Engine over db. A nil logger disables logging.
func New(db *gorm.DB, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		db:    db,
		log:   log,
		now:   time.Now,
		cache: cache.Noop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// today is the start of the current UTC day.
func (e *Engine) today() time.Time {
	return e.now().UTC().Truncate(24 * time.Hour)
}

// NormalizeMetric lower-cases name and checks it is a known metric.
func NormalizeMetric(name string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(name))
	for _, known := range Metrics {
		if m == known {
			return m, nil
		}
	}
	return "", ErrUnknownMetric
}

func dayString(t time.Time) string {
	return t.UTC().Format(dbpkg.DateLayout)
}
