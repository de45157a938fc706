package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// InsertSamples appends samples to the store.
func InsertSamples(ctx context.Context, db *gorm.DB, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(samples, 200).Error
}

// SamplesBetween returns samples with start <= occurred_at < end.
func SamplesBetween(ctx context.Context, db *gorm.DB, start, end time.Time) ([]Sample, error) {
	var samples []Sample
	err := db.WithContext(ctx).
		Where("occurred_at >= ? AND occurred_at < ?", start, end).
		Order("id").
		Find(&samples).Error
	return samples, err
}

// MetricValuesSince returns the non-null values of metric recorded at or after
// since, optionally restricted to one URL path. metric must be a known metric
// column name; callers validate it.
func MetricValuesSince(ctx context.Context, db *gorm.DB, metric string, since time.Time, urlPath string) ([]float64, error) {
	q := db.WithContext(ctx).Model(&Sample{}).
		Where("occurred_at >= ?", since).
		Not(map[string]any{metric: nil})
	if urlPath != "" {
		q = q.Where("url_path = ?", urlPath)
	}
	var values []float64
	err := q.Pluck(metric, &values).Error
	return values, err
}

// PageCount is a URL path with the number of samples recorded for it.
type PageCount struct {
	URLPath string
	Samples int64
}

// TopPages returns the limit most-sampled URL paths since the given time.
func TopPages(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]PageCount, error) {
	var rows []PageCount
	err := db.WithContext(ctx).Model(&Sample{}).
		Select("url_path AS url_path, count(*) AS samples").
		Where("occurred_at >= ?", since).
		Group("url_path").
		Order("count(*) DESC, url_path").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
