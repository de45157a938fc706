package handlers

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"

	"perfinsight/internal/vitals"
)

var samplesIngestedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perfinsight",
		Name:      "samples_ingested_total",
		Help:      "Total number of ingested performance samples.",
	},
	[]string{"metric", "device_type"},
)

// InitPrometheusMetrics registers the ingest and aggregation collectors with reg.
func InitPrometheusMetrics(reg prometheus.Registerer) {
	reg.MustRegister(samplesIngestedTotal)
	vitals.RegisterMetrics(reg)
}

// PrometheusHandler serves the text exposition of gatherer. With ?metric=<name>
// only series carrying that "metric" label value are kept; families without a
// metric label are always included.
func PrometheusHandler(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		metricName := string(ctx.QueryArgs().Peek("metric"))

		metricFamilies, err := gatherer.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to gather metrics")
			return
		}

		filtered := metricFamilies
		if metricName != "" {
			filtered = filterByLabel(metricFamilies, "metric", metricName)
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range filtered {
			if err := encoder.Encode(mf); err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(expfmt.FmtText))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}

func filterByLabel(families []*dto.MetricFamily, name, value string) []*dto.MetricFamily {
	filtered := make([]*dto.MetricFamily, 0, len(families))
	for _, mf := range families {
		hasLabel := false
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == name {
					hasLabel = true
					break
				}
			}
			if hasLabel {
				break
			}
		}

		if !hasLabel {
			filtered = append(filtered, mf)
			continue
		}

		var kept []*dto.Metric
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == name && l.GetValue() == value {
					kept = append(kept, m)
					break
				}
			}
		}
		if len(kept) == 0 {
			continue
		}

		filtered = append(filtered, &dto.MetricFamily{
			Name:   mf.Name,
			Help:   mf.Help,
			Type:   mf.Type,
			Metric: kept,
		})
	}
	return filtered
}
