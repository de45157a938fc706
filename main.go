package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"perfinsight/internal/cache"
	"perfinsight/internal/config"
	"perfinsight/internal/db"
	"perfinsight/internal/http/handlers"
	appmw "perfinsight/internal/http/middleware"
	"perfinsight/internal/logging"
	"perfinsight/internal/vitals"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("perfinsight: %v", err)
	}
}

// app bundles what every command needs.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	db     *gorm.DB
	engine *vitals.Engine
	close  func()
}

// newApp connects storage and builds the engine. The summary cache is only
// wired when withCache is set and APP_REDIS_URL is configured.
func newApp(ctx context.Context, withCache bool) (*app, error) {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: logger, db: sqlDB, close: func() { _ = logger.Sync() }}

	var opts []vitals.Option
	if withCache && cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, "perfinsight:")
		if err != nil {
			logger.Warn("redis unavailable, summary cache disabled", zap.Error(err))
		} else {
			opts = append(opts, vitals.WithCache(rc, cfg.SummaryCacheTTL))
			a.close = func() {
				_ = rc.Close()
				_ = logger.Sync()
			}
		}
	}
	a.engine = vitals.New(sqlDB, logger, opts...)
	return a, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	handlers.InitPrometheusMetrics(prometheus.DefaultRegisterer)

	if a.cfg.AggregationWorker {
		a.engine.StartWorker(ctx, a.cfg.BackfillConcurrency)
	} else {
		a.log.Info("aggregation worker disabled")
	}

	limiter := appmw.NewRateLimiter(ctx, a.cfg.IngestRatePerMin)

	r := router.New()
	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	r.GET("/metrics", handlers.PrometheusHandler(prometheus.DefaultGatherer))

	r.POST("/v1/samples", limiter.Middleware(handlers.IngestHandler(a.db, a.log)))

	r.GET("/v1/vitals/summary", handlers.CoreVitalSummary(a.engine, a.log))
	r.GET("/v1/vitals/trend", handlers.MetricTrend(a.engine, a.log))
	r.GET("/v1/vitals/devices", handlers.DeviceTypeBreakdown(a.engine, a.log))
	r.GET("/v1/vitals/browsers", handlers.BrowserBreakdown(a.engine, a.log))
	r.GET("/v1/vitals/page", handlers.PageDetails(a.engine, a.log))
	r.GET("/v1/vitals/top-pages", handlers.TopPagesPerformance(a.engine, a.log))
	r.GET("/v1/vitals/regressions", handlers.Regressions(a.engine, a.log))

	server := &fasthttp.Server{
		Handler: handlers.RequestLogger(a.log)(r.Handler),
		Name:    "perfinsight",
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("perfinsight listening", zap.String("addr", a.cfg.ListenAddr))
		errc <- server.ListenAndServe(a.cfg.ListenAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		a.log.Info("shutting down")
		if err := server.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
