package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"perfinsight/internal/vitals"
)

const (
	defaultDays     = 7
	maxDays         = 365
	defaultTopPages = 10
	maxTopPages     = 100
)

// parseDays reads the "days" query argument, falling back to def for missing
// or non-positive values and clamping to maxDays.
func parseDays(ctx *fasthttp.RequestCtx, def int) int {
	return parsePositive(ctx, "days", def, maxDays)
}

func parsePositive(ctx *fasthttp.RequestCtx, key string, def, limit int) int {
	v := string(ctx.QueryArgs().Peek(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > limit {
		return limit
	}
	return n
}

// RequestLogger returns fasthttp middleware that logs method, path, status, duration.
func RequestLogger(log *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			log.Info("request",
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", ctx.Response.StatusCode()),
				zap.Duration("duration", time.Since(start)),
				zap.String("ip", ctx.RemoteIP().String()),
			)
		}
	}
}

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	jsonResponse(ctx, map[string]any{"error": msg})
}

// queryError maps engine errors onto responses. Bad metric or dimension
// names are the caller's fault; anything else is logged as a storage failure.
func queryError(ctx *fasthttp.RequestCtx, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, vitals.ErrUnknownMetric), errors.Is(err, vitals.ErrUnknownDimension):
		errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
	default:
		log.Error("vitals query failed", zap.ByteString("path", ctx.Path()), zap.Error(err))
		errResponse(ctx, fasthttp.StatusInternalServerError, "internal error")
	}
}

// CoreVitalSummary serves GET /v1/vitals/summary?metric=&days=&url=
func CoreVitalSummary(e *vitals.Engine, log *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()
		s, err := e.CoreVitalSummary(ctx, string(args.Peek("metric")), parseDays(ctx, defaultDays), string(args.Peek("url")))
		if err != nil {
			queryError(ctx, log, err)
			return
		}
		jsonResponse(ctx, s)
	}
}

// MetricTrend serves GET /v1/vitals/trend?metric=&days=&url=&dimension=
func MetricTrend(e *vitals.Engine, log *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()
		t, err := e.MetricTrend(ctx,
			string(args.Peek("metric")),
			parseDays(ctx, 30),
			string(args.Peek("url")),
			string(args.Peek("dimension")),
		)
		if err != nil {
			queryError(ctx, log, err)
			return
		}
		jsonResponse(ctx, t)
	}
}

// DeviceTypeBreakdown serves GET /v1/vitals/devices?metric=&days=&url=
func DeviceTypeBreakdown(e *vitals.Engine, log *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()
		rows, err := e.DeviceTypeBreakdown(ctx, string(args.Peek("metric")), parseDays(ctx, defaultDays), string(args.Peek("url")))
		if err != nil {
			queryError(ctx, log, err)
			return
		}
		jsonResponse(ctx, map[string]any{"devices": rows})
	}
}

// BrowserBreakdown serves GET /v1/vitals/browsers?metric=&days=&url=
func BrowserBreakdown(e *vitals.Engine, log *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()
		rows, err := e.BrowserBreakdown(ctx, string(args.Peek("metric")), parseDays(ctx, defaultDays), string(args.Peek("url")))
		if err != nil {
			queryError(ctx, log, err)
			return
		}
		jsonResponse(ctx, map[string]any{"browsers": rows})
	}
}

// PageDetails serves GET /v1/vitals/page?url=
func PageDetails(e *vitals.Engine, log *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		urlPath := string(ctx.QueryArgs().Peek("url"))
		if urlPath == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "url is required")
			return
		}
		d, err := e.PageDetails(ctx, urlPath)
		if err != nil {
			queryError(ctx, log, err)
			return
		}
		jsonResponse(ctx, d)
	}
}

// TopPagesPerformance serves GET /v1/vitals/top-pages?count=&days=
func TopPagesPerformance(e *vitals.Engine, log *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		count := parsePositive(ctx, "count", defaultTopPages, maxTopPages)
		pages, err := e.TopPagesPerformance(ctx, count, parseDays(ctx, defaultDays))
		if err != nil {
			queryError(ctx, log, err)
			return
		}
		jsonResponse(ctx, map[string]any{"pages": pages})
	}
}

// Regressions serves GET /v1/vitals/regressions (yesterday against the day before).
func Regressions(e *vitals.Engine, log *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		regs, err := e.DetectRegressions(ctx)
		if err != nil {
			queryError(ctx, log, err)
			return
		}
		jsonResponse(ctx, map[string]any{"regressions": regs})
	}
}
