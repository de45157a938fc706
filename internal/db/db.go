package db

import (
	"errors"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"perfinsight/internal/config"
)

// Connect opens a GORM database connection using APP_DATABASE_URL. Production
// deployments use a PostgreSQL URL; sqlite://<path> is accepted for local runs.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}
	if path, ok := strings.CutPrefix(dsn, "sqlite://"); ok {
		return OpenSQLite(path)
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, errors.New("APP_DATABASE_URL must be a postgres://, postgresql:// or sqlite:// URL")
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens (and migrates) a SQLite database. An empty path or
// ":memory:" gives a private in-memory database pinned to one connection,
// since every new SQLite connection would otherwise see an empty database.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the engine's tables and seeds default thresholds.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Sample{}, &AggregateRow{}, &Threshold{}); err != nil {
		return err
	}
	return SeedThresholds(db)
}

// DefaultThresholds are the Core Web Vitals bands seeded on first start.
// All values are milliseconds except CLS, which is unitless.
var DefaultThresholds = []Threshold{
	{MetricName: "lcp", GoodThreshold: 2500, PoorThreshold: 4000},
	{MetricName: "fcp", GoodThreshold: 1800, PoorThreshold: 3000},
	{MetricName: "cls", GoodThreshold: 0.1, PoorThreshold: 0.25},
	{MetricName: "inp", GoodThreshold: 200, PoorThreshold: 500},
	{MetricName: "onload_time", GoodThreshold: 3000, PoorThreshold: 6000},
}

// SeedThresholds inserts DefaultThresholds that are not present yet. Rows an
// operator already edited are left as-is.
func SeedThresholds(db *gorm.DB) error {
	for _, t := range DefaultThresholds {
		row := t
		cond := map[string]any{"metric_name": t.MetricName, "url_pattern": "", "device_type": ""}
		if err := db.Where(cond).
			Attrs(Threshold{GoodThreshold: t.GoodThreshold, PoorThreshold: t.PoorThreshold}).
			FirstOrCreate(&row).Error; err != nil {
			return err
		}
	}
	return nil
}
