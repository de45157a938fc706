package db

import (
	"math"
	"time"

	"gorm.io/datatypes"
)

// Aggregation levels stored in AggregateRow.AggregationLevel. Only hourly and
// daily rows are produced by the aggregation jobs; the other two are accepted
// by the read side so trend queries over long ranges degrade to "no data".
const (
	LevelHourly  = "hourly"
	LevelDaily   = "daily"
	LevelWeekly  = "weekly"
	LevelMonthly = "monthly"
)

// NoHour marks an AggregateRow that is not bound to a clock hour (daily and above).
const NoHour = -1

// DateLayout is the layout of AggregateRow.Date.
const DateLayout = "2006-01-02"

// Sample is one raw page-load measurement as received from the browser
// collector. Any of the metric fields may be nil: not every page load
// measures every metric. Samples are never updated after insert.
type Sample struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	// OccurredAt is when the page load was measured. Aggregation buckets on it.
	OccurredAt time.Time `gorm:"index;not null"`

	URLPath   string  `gorm:"size:255;index;not null"`
	RouteName *string `gorm:"size:100"`

	LCP        *float64 `gorm:"column:lcp"`
	FCP        *float64 `gorm:"column:fcp"`
	CLS        *float64 `gorm:"column:cls"`
	INP        *float64 `gorm:"column:inp"`
	OnloadTime *float64 `gorm:"column:onload_time"`

	DeviceType     string `gorm:"size:20;index;not null"` // mobile, tablet, desktop
	BrowserFamily  string `gorm:"size:30;not null"`
	BrowserVersion string `gorm:"size:20"`
	OSFamily       string `gorm:"column:os_family;size:20"`
	Country        string `gorm:"size:2"`
	Region         string `gorm:"size:50"`

	ViewportWidth  *int
	ViewportHeight *int

	ConnectionType     string `gorm:"size:20"`
	EffectiveBandwidth *float64

	// SessionHash is an anonymized session identifier; no user id is stored.
	SessionHash     string `gorm:"size:64;not null"`
	IsAuthenticated bool   `gorm:"not null;default:false"`

	// ExtraMetrics keeps whatever else the collector attached to the metric.
	ExtraMetrics datatypes.JSONMap `gorm:"type:json"`
}

func (Sample) TableName() string { return "performance_samples" }

// MetricValue returns the sample's value for the named metric. Missing and
// non-finite values report ok=false.
func (s *Sample) MetricValue(metric string) (float64, bool) {
	var v *float64
	switch metric {
	case "lcp":
		v = s.LCP
	case "fcp":
		v = s.FCP
	case "cls":
		v = s.CLS
	case "inp":
		v = s.INP
	case "onload_time":
		v = s.OnloadTime
	}
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

// SetMetricValue stores value into the field backing the named metric and
// reports whether the name was recognised.
func (s *Sample) SetMetricValue(metric string, value float64) bool {
	v := value
	switch metric {
	case "lcp":
		s.LCP = &v
	case "fcp":
		s.FCP = &v
	case "cls":
		s.CLS = &v
	case "inp":
		s.INP = &v
	case "onload_time":
		s.OnloadTime = &v
	default:
		return false
	}
	return true
}

// AggregateRow is one statistical rollup. The identity of a row is the
// (Date, URLPath, MetricName, Dimension, DimensionValue, Hour, AggregationLevel)
// tuple backed by idx_aggregate_unique; every write is an upsert on it.
//
// Absent tuple members are stored as "" (URLPath, Dimension, DimensionValue)
// and NoHour (Hour) rather than NULL, so the unique index compares them as
// equal and ON CONFLICT can resolve re-runs.
type AggregateRow struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Date             string `gorm:"size:10;not null;uniqueIndex:idx_aggregate_unique,priority:1;index:idx_aggregate_date_metric,priority:1"`
	URLPath          string `gorm:"size:255;not null;uniqueIndex:idx_aggregate_unique,priority:2;index:idx_aggregate_url_metric,priority:1"`
	MetricName       string `gorm:"size:50;not null;uniqueIndex:idx_aggregate_unique,priority:3;index:idx_aggregate_date_metric,priority:2;index:idx_aggregate_url_metric,priority:2"`
	Dimension        string `gorm:"size:50;not null;uniqueIndex:idx_aggregate_unique,priority:4"`
	DimensionValue   string `gorm:"size:50;not null;uniqueIndex:idx_aggregate_unique,priority:5"`
	Hour             int    `gorm:"not null;uniqueIndex:idx_aggregate_unique,priority:6"`
	AggregationLevel string `gorm:"size:20;not null;uniqueIndex:idx_aggregate_unique,priority:7"`

	SampleSize int     `gorm:"not null"`
	P50        float64 `gorm:"column:p50_value;not null"`
	P75        float64 `gorm:"column:p75_value;not null"` // Core Web Vitals assessment point
	P90        float64 `gorm:"column:p90_value;not null"`
	P95        float64 `gorm:"column:p95_value;not null"`
	P99        float64 `gorm:"column:p99_value;not null"`
	Avg        float64 `gorm:"column:avg_value;not null"`
	Min        float64 `gorm:"column:min_value;not null"`
	Max        float64 `gorm:"column:max_value;not null"`
}

func (AggregateRow) TableName() string { return "aggregated_performance_metrics" }

// HourOrNil returns the row's hour, or nil for rows above hourly level.
func (r *AggregateRow) HourOrNil() *int {
	if r.Hour == NoHour {
		return nil
	}
	h := r.Hour
	return &h
}

// Threshold is a good/poor band for one metric, optionally narrowed to a URL
// LIKE-pattern and/or a device type. Empty URLPattern or DeviceType means "any".
type Threshold struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	MetricName string `gorm:"size:50;not null;uniqueIndex:idx_threshold_unique,priority:1"`
	URLPattern string `gorm:"size:255;not null;uniqueIndex:idx_threshold_unique,priority:2"`
	DeviceType string `gorm:"size:20;not null;uniqueIndex:idx_threshold_unique,priority:3"`

	GoodThreshold float64 `gorm:"not null"` // values at or below are good
	PoorThreshold float64 `gorm:"not null"` // values at or above are poor
}

func (Threshold) TableName() string { return "performance_thresholds" }

// IsGood reports whether value meets the good threshold.
func (t *Threshold) IsGood(value float64) bool { return value <= t.GoodThreshold }

// IsPoor reports whether value reaches the poor threshold.
func (t *Threshold) IsPoor(value float64) bool { return value >= t.PoorThreshold }
