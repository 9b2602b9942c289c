package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cztelemetry/internal/link"
)

// Metrics holds the Prometheus view of one link session. It implements
// link.Sink: every update is a few atomic operations.
type Metrics struct {
	recordsTotal     prometheus.Counter
	diagnosticsTotal *prometheus.CounterVec
	sessionsDone     *prometheus.CounterVec

	lastTimestamp prometheus.Gauge
	lastSeen      prometheus.Gauge
	field         *prometheus.GaugeVec

	bytesRead    prometheus.Gauge
	bytesSkipped prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// serve them from promhttp.Handler().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		recordsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "cztelemetry_records_total",
			Help: "Telemetry records decoded",
		}),
		diagnosticsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cztelemetry_diagnostics_total",
			Help: "Diagnostics reported by the link, by kind",
		}, []string{"kind"}),
		sessionsDone: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cztelemetry_sessions_done_total",
			Help: "Link sessions that ended, by result",
		}, []string{"result"}),
		lastTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "cztelemetry_last_record_timestamp",
			Help: "Producer timestamp field of the latest record",
		}),
		lastSeen: f.NewGauge(prometheus.GaugeOpts{
			Name: "cztelemetry_last_record_seen_seconds",
			Help: "Unix time the latest record was decoded",
		}),
		field: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cztelemetry_field_value",
			Help: "Latest value of each telemetry field",
		}, []string{"field"}),
		bytesRead: f.NewGauge(prometheus.GaugeOpts{
			Name: "cztelemetry_bytes_read",
			Help: "Bytes read from the transport in the last finished session",
		}),
		bytesSkipped: f.NewGauge(prometheus.GaugeOpts{
			Name: "cztelemetry_bytes_skipped",
			Help: "Bytes discarded while seeking a start marker in the last finished session",
		}),
	}
	for _, k := range link.DiagnosticKinds {
		m.diagnosticsTotal.WithLabelValues(string(k))
	}
	return m
}

func (m *Metrics) Emit(ev link.Event) {
	switch ev.Kind {
	case link.EventRecord:
		r := ev.Record
		m.recordsTotal.Inc()
		m.lastTimestamp.Set(float64(r.Timestamp))
		m.lastSeen.Set(float64(ev.At.UnixNano()) / 1e9)
		m.field.WithLabelValues("temperature").Set(float64(r.Temperature))
		m.field.WithLabelValues("pressure").Set(float64(r.Pressure))
		m.field.WithLabelValues("altitude").Set(float64(r.Altitude))
	case link.EventDiagnostic:
		m.diagnosticsTotal.WithLabelValues(string(ev.Diagnostic.Kind)).Inc()
	case link.EventDone:
		result := "ok"
		if ev.Err != nil {
			result = "error"
		}
		m.sessionsDone.WithLabelValues(result).Inc()
		if ev.Stats != nil {
			m.bytesRead.Set(float64(ev.Stats.BytesRead))
			m.bytesSkipped.Set(float64(ev.Stats.BytesSkipped))
		}
	}
}
