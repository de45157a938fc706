package db

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var aggregateKeyColumns = []clause.Column{
	{Name: "date"},
	{Name: "url_path"},
	{Name: "metric_name"},
	{Name: "dimension"},
	{Name: "dimension_value"},
	{Name: "hour"},
	{Name: "aggregation_level"},
}

var aggregateValueColumns = []string{
	"sample_size",
	"p50_value",
	"p75_value",
	"p90_value",
	"p95_value",
	"p99_value",
	"avg_value",
	"min_value",
	"max_value",
	"updated_at",
}

// UpsertAggregate writes row keyed on its full identity tuple. A second write
// for the same tuple overwrites the statistics instead of adding a row.
func UpsertAggregate(ctx context.Context, db *gorm.DB, row *AggregateRow) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   aggregateKeyColumns,
		DoUpdates: clause.AssignmentColumns(aggregateValueColumns),
	}).Create(row).Error
}

// AggregatesForDate returns every row of the given level for date (YYYY-MM-DD).
func AggregatesForDate(ctx context.Context, db *gorm.DB, date, level string) ([]AggregateRow, error) {
	var rows []AggregateRow
	err := db.WithContext(ctx).
		Where("date = ? AND aggregation_level = ?", date, level).
		Order("id").
		Find(&rows).Error
	return rows, err
}
