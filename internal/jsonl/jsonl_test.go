package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cztelemetry/internal/hub"
	"cztelemetry/internal/link"
	"cztelemetry/internal/source"
	"cztelemetry/internal/telemetry"
)

func events() []link.Event {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := telemetry.Record{Header: 0xABCD, Timestamp: 1000, Temperature: 21.5, Pressure: 101325, Altitude: 12}.Seal()
	return []link.Event{
		{Kind: link.EventRecord, Seq: 1, At: at, Session: "s", Record: rec},
		{Kind: link.EventDiagnostic, Seq: 2, At: at, Session: "s", Diagnostic: link.Diagnostic{Kind: link.DiagChecksum, State: "reading_body", Detail: "checksum mismatch"}},
		{Kind: link.EventDone, Seq: 3, At: at, Session: "s"},
	}
}

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "line %q", sc.Text())
		out = append(out, m)
	}
	return out
}

func TestConsume_OneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	h := hub.New[link.Event]()
	sub := h.Subscribe(8)
	for _, ev := range events() {
		h.Publish(ev)
	}
	h.Close()
	require.NoError(t, w.Consume(sub))

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 3)
	assert.Equal(t, "record", lines[0]["type"])
	assert.Equal(t, 21.5, lines[0]["record"].(map[string]any)["temperature"])
	assert.Equal(t, "checksum", lines[1]["diagnostic"].(map[string]any)["kind"])
	assert.Equal(t, "done", lines[2]["type"])
	assert.Equal(t, uint64(3), w.Lines())
}

func TestRecordsOnly(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, RecordsOnly())
	for _, ev := range events() {
		w.Emit(ev)
	}
	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "record", lines[0]["type"])
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestConsume_StopsOnWriteError(t *testing.T) {
	w := NewWriter(failWriter{})
	h := hub.New[link.Event]()
	sub := h.Subscribe(4)
	h.Publish(events()[0])

	err := w.Consume(sub)
	assert.ErrorContains(t, err, "disk full")
}

// lineTypes returns the "type" of every line in order.
func lineTypes(t *testing.T, b []byte) []string {
	t.Helper()
	var out []string
	for _, m := range decodeLines(t, b) {
		out = append(out, m["type"].(string))
	}
	return out
}

func TestConsume_DrainsFinishedSession(t *testing.T) {
	const frames = 50
	var stream []byte
	for i := 0; i < frames; i++ {
		stream = append(stream, telemetry.EncodeFrame(telemetry.Record{Header: 0xABCD, Timestamp: uint32(i)})...)
	}
	svc := link.New(link.Config{}, link.WithOpener(func(context.Context) (source.Source, error) {
		return source.NewReaderSource(bytes.NewReader(stream), time.Second), nil
	}))
	sub := svc.Subscribe(frames + 8)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Wait(context.Background()))

	// The session is over and its subscription closed with a full queue.
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Consume(sub))

	types := lineTypes(t, buf.Bytes())
	require.Len(t, types, frames+1)
	for _, typ := range types[:frames] {
		assert.Equal(t, "record", typ)
	}
	assert.Equal(t, "done", types[frames])
}

func TestConsume_StoppedSessionEndsWithDone(t *testing.T) {
	svc := link.New(link.Config{Fake: true, Sim: link.SimConfig{RateHz: 200, Mode: "uniform", Seed: 2}})
	sub := svc.Subscribe(1000)

	var buf bytes.Buffer
	errCh := make(chan error, 1)
	go func() { errCh <- NewWriter(&buf).Consume(sub) }()

	require.NoError(t, svc.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	svc.Stop()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Consume did not return after Stop")
	}

	types := lineTypes(t, buf.Bytes())
	require.NotEmpty(t, types)
	assert.Equal(t, "done", types[len(types)-1])
	done := 0
	for _, typ := range types {
		if typ == "done" {
			done++
		}
	}
	assert.Equal(t, 1, done)
}

func TestCreate_FileAndStdout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(events()[0]))
	require.NoError(t, w.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, decodeLines(t, b), 1)

	w, err = Append(path, RecordsOnly())
	require.NoError(t, err)
	require.NoError(t, w.Write(events()[1]))
	require.NoError(t, w.Write(events()[0]))
	require.NoError(t, w.Close())
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, decodeLines(t, b), 2)

	stdout, err := Create("-")
	require.NoError(t, err)
	assert.NoError(t, stdout.Close())

	_, err = Create(filepath.Join(t.TempDir(), "missing", "out.jsonl"))
	assert.ErrorContains(t, err, "jsonl:")
}
