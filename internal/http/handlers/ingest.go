package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "perfinsight/internal/db"
)

// metricFields maps web-vitals metric names onto sample columns.
var metricFields = map[string]string{
	"lcp":                       "lcp",
	"largest-contentful-paint":  "lcp",
	"fcp":                       "fcp",
	"first-contentful-paint":    "fcp",
	"cls":                       "cls",
	"cumulative-layout-shift":   "cls",
	"inp":                       "inp",
	"interaction-to-next-paint": "inp",
	"load":                      "onload_time",
	"onload":                    "onload_time",
	"onload_time":               "onload_time",
}

// IngestMetric is one measurement reported by the browser collector. Any
// field besides name, value, path and timestamp is kept in Extra.
type IngestMetric struct {
	Name      string     `json:"name"`
	Value     *float64   `json:"value"`
	Path      string     `json:"path"`
	Timestamp *time.Time `json:"timestamp,omitempty"`

	Extra map[string]any `json:"-"`
}

func (m *IngestMetric) UnmarshalJSON(b []byte) error {
	type plain IngestMetric
	if err := json.Unmarshal(b, (*plain)(m)); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range []string{"name", "value", "path", "timestamp"} {
		delete(all, k)
	}
	if len(all) > 0 {
		m.Extra = all
	}
	return nil
}

// IngestContext describes the page load the metrics belong to.
type IngestContext struct {
	UserAgent       string `json:"userAgent"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	Viewport        *struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"viewport,omitempty"`
	Connection *struct {
		Type          string   `json:"type"`
		EffectiveType string   `json:"effectiveType"`
		Downlink      *float64 `json:"downlink"`
	} `json:"connection,omitempty"`
	Geo *struct {
		Country string `json:"country"`
		Region  string `json:"region"`
	} `json:"geo,omitempty"`
}

type ingestRequest struct {
	Metrics []IngestMetric `json:"metrics"`
	Context IngestContext  `json:"context"`
}

// validate returns a description of the first problem, or "".
func (r *ingestRequest) validate() string {
	if len(r.Metrics) == 0 {
		return "metrics is required"
	}
	for i, m := range r.Metrics {
		switch {
		case m.Name == "":
			return "metrics." + strconv.Itoa(i) + ".name is required"
		case m.Value == nil:
			return "metrics." + strconv.Itoa(i) + ".value is required"
		case m.Path == "":
			return "metrics." + strconv.Itoa(i) + ".path is required"
		}
	}
	if r.Context.UserAgent == "" {
		return "context.userAgent is required"
	}
	return ""
}

// IngestHandler stores one sample per recognised metric of the request.
// Unknown metric names are skipped.
func IngestHandler(db *gorm.DB, log *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var payload ingestRequest
		if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if msg := payload.validate(); msg != "" {
			ctx.SetStatusCode(fasthttp.StatusUnprocessableEntity)
			jsonResponse(ctx, map[string]any{"error": msg})
			return
		}

		now := time.Now().UTC()
		client := parseUserAgent(payload.Context.UserAgent)
		sum := sha256.Sum256([]byte(ctx.RemoteIP().String() + payload.Context.UserAgent))
		sessionHash := hex.EncodeToString(sum[:])

		samples := make([]dbpkg.Sample, 0, len(payload.Metrics))
		for _, m := range payload.Metrics {
			field, ok := metricFields[strings.ToLower(m.Name)]
			if !ok {
				continue
			}

			occurredAt := now
			if m.Timestamp != nil {
				occurredAt = m.Timestamp.UTC()
			}

			s := dbpkg.Sample{
				OccurredAt:      occurredAt,
				URLPath:         m.Path,
				DeviceType:      client.DeviceType,
				BrowserFamily:   client.BrowserFamily,
				BrowserVersion:  client.BrowserVersion,
				OSFamily:        client.OSFamily,
				SessionHash:     sessionHash,
				IsAuthenticated: payload.Context.IsAuthenticated,
			}
			s.SetMetricValue(field, *m.Value)
			applyContext(&s, &payload.Context)
			if len(m.Extra) > 0 {
				s.ExtraMetrics = datatypes.JSONMap(m.Extra)
			}
			samples = append(samples, s)
		}

		if err := dbpkg.InsertSamples(ctx, db, samples); err != nil {
			log.Error("failed to store performance samples", zap.Error(err))
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			jsonResponse(ctx, map[string]any{"error": "failed to store metrics"})
			return
		}
		for _, s := range samples {
			for field := range fieldsSet(&s) {
				samplesIngestedTotal.WithLabelValues(field, s.DeviceType).Inc()
			}
		}

		ctx.SetStatusCode(fasthttp.StatusCreated)
		jsonResponse(ctx, map[string]any{"status": "success", "count": len(samples)})
	}
}

func applyContext(s *dbpkg.Sample, c *IngestContext) {
	if c.Viewport != nil {
		w, h := c.Viewport.Width, c.Viewport.Height
		s.ViewportWidth, s.ViewportHeight = &w, &h
	}
	if c.Connection != nil {
		s.ConnectionType = c.Connection.Type
		if s.ConnectionType == "" {
			s.ConnectionType = c.Connection.EffectiveType
		}
		s.EffectiveBandwidth = c.Connection.Downlink
	}
	if c.Geo != nil {
		s.Country = c.Geo.Country
		s.Region = c.Geo.Region
	}
}

func fieldsSet(s *dbpkg.Sample) map[string]struct{} {
	set := make(map[string]struct{}, 1)
	for _, f := range []string{"lcp", "fcp", "cls", "inp", "onload_time"} {
		if _, ok := s.MetricValue(f); ok {
			set[f] = struct{}{}
		}
	}
	return set
}
