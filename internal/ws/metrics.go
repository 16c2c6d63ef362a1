package ws

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// metricFamilies renders s in the Prometheus data model.
func metricFamilies(s Stats) []*dto.MetricFamily {
	gauge := func(name, help string, v float64) *dto.MetricFamily {
		return &dto.MetricFamily{
			Name:   &name,
			Help:   &help,
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: &v}}},
		}
	}
	counter := func(name, help string, v uint64) *dto.MetricFamily {
		f := float64(v)
		return &dto.MetricFamily{
			Name:   &name,
			Help:   &help,
			Type:   dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{{Counter: &dto.Counter{Value: &f}}},
		}
	}

	return []*dto.MetricFamily{
		gauge("herald_ws_connections", "Open websocket connections.", float64(s.Connections)),
		counter("herald_ws_events_published_total", "Events handed to the broadcaster.", s.Published),
		counter("herald_ws_deliveries_total", "Events queued to a connection.", s.Delivered),
		counter("herald_ws_delivery_failures_total", "Messages that could not be queued in time or failed to write; each closes its connection.", s.Failed),
	}
}

// MetricsHandler serves the broadcaster counters in the Prometheus text
// exposition format.
func MetricsHandler(b *Broadcaster) http.HandlerFunc {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range metricFamilies(b.Stats()) {
			if err := enc.Encode(mf); err != nil {
				b.log.Warn().Err(err).Msg("failed to write metrics")
				return
			}
		}
	}
}
