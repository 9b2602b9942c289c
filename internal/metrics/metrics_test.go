package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cztelemetry/internal/decoder"
	"cztelemetry/internal/link"
	"cztelemetry/internal/telemetry"
)

func TestMetrics_Emit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	at := time.Unix(1700000000, 0)
	rec := telemetry.Record{Timestamp: 1234, Temperature: 21.5, Pressure: 101325, Altitude: 12}
	m.Emit(link.Event{Kind: link.EventRecord, At: at, Record: rec})
	m.Emit(link.Event{Kind: link.EventRecord, At: at, Record: rec})
	m.Emit(link.Event{Kind: link.EventDiagnostic, Diagnostic: link.Diagnostic{Kind: link.DiagChecksum}})
	m.Emit(link.Event{Kind: link.EventDone, Stats: &decoder.Stats{BytesRead: 64, BytesSkipped: 3}})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.recordsTotal))
	assert.Equal(t, float64(1234), testutil.ToFloat64(m.lastTimestamp))
	assert.Equal(t, float64(1700000000), testutil.ToFloat64(m.lastSeen))
	assert.Equal(t, 21.5, testutil.ToFloat64(m.field.WithLabelValues("temperature")))
	assert.Equal(t, float64(101325), testutil.ToFloat64(m.field.WithLabelValues("pressure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.diagnosticsTotal.WithLabelValues("checksum")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.diagnosticsTotal.WithLabelValues("timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sessionsDone.WithLabelValues("ok")))
	assert.Equal(t, float64(64), testutil.ToFloat64(m.bytesRead))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.bytesSkipped))
}

func TestMetrics_DoneWithError(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Emit(link.Event{Kind: link.EventDone, Err: errors.New("unplugged")})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sessionsDone.WithLabelValues("error")))
}

func TestMetrics_DiagnosticKindsPreRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	n, err := testutil.GatherAndCount(reg, "cztelemetry_diagnostics_total")
	require.NoError(t, err)
	assert.Equal(t, len(link.DiagnosticKinds), n)

	expected := `
# HELP cztelemetry_records_total Telemetry records decoded
# TYPE cztelemetry_records_total counter
cztelemetry_records_total 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cztelemetry_records_total"))
}

func TestMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
