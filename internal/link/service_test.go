package link

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cztelemetry/internal/decoder"
	"cztelemetry/internal/hub"
	"cztelemetry/internal/replay"
	"cztelemetry/internal/source"
	"cztelemetry/internal/telemetry"
)

// trackedSource wraps a ReaderSource and remembers whether it was closed.
type trackedSource struct {
	source.Source
	closed atomic.Bool
}

func (t *trackedSource) Close() error {
	t.closed.Store(true)
	return t.Source.Close()
}

// stallSource never delivers data; each read waits one timeout.
type stallSource struct {
	timeout time.Duration
	closed  atomic.Bool
}

func (s *stallSource) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, source.ErrClosed
	}
	time.Sleep(s.timeout)
	return 0, nil
}

func (s *stallSource) Close() error               { s.closed.Store(true); return nil }
func (s *stallSource) ReadTimeout() time.Duration { return s.timeout }

// faultSource delivers data, then fails like an unplugged adapter.
type faultSource struct {
	data []byte
	err  error
}

func (s *faultSource) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, s.err
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

func (s *faultSource) Close() error               { return nil }
func (s *faultSource) ReadTimeout() time.Duration { return time.Second }

func sample() telemetry.Record {
	return telemetry.Record{Header: 0xABCD, Timestamp: 1000, Temperature: 1}
}

func collect(t *testing.T, sub *hub.Subscription[Event]) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("subscription did not close; got %d events", len(out))
		}
	}
}

func kinds(evs []Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		if ev.Kind == EventDiagnostic {
			out = append(out, string(ev.Diagnostic.Kind))
			continue
		}
		out = append(out, ev.Kind.String())
	}
	return out
}

func TestService_ResyncEmitsTwoRecordsAndDiagnostics(t *testing.T) {
	var stream []byte
	stream = append(stream, 0xFF, 0x00, 0x13)
	stream = append(stream, telemetry.EncodeFrame(sample())...)
	stream = append(stream, 0x42, 0x42)
	stream = append(stream, telemetry.EncodeFrame(sample())...)

	src := &trackedSource{Source: source.NewReaderSource(bytes.NewReader(stream), time.Second)}
	var closedAtDone atomic.Bool
	sink := SinkFunc(func(ev Event) {
		if ev.Kind == EventDone {
			closedAtDone.Store(src.closed.Load())
		}
	})

	svc := New(Config{}, WithOpener(func(context.Context) (source.Source, error) { return src, nil }), WithSink(sink))
	sub := svc.Subscribe(0)
	require.NoError(t, svc.Start(context.Background()))

	evs := collect(t, sub)
	assert.Equal(t, []string{"resync", "record", "resync", "record", "done"}, kinds(evs))
	assert.Equal(t, sample().Seal(), evs[1].Record)
	assert.Equal(t, sample().Seal(), evs[3].Record)

	for i, ev := range evs {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, svc.Session(), ev.Session)
	}

	done := evs[len(evs)-1]
	assert.NoError(t, done.Err)
	require.NotNil(t, done.Stats)
	assert.Equal(t, uint64(2), done.Stats.Frames)
	assert.Equal(t, uint64(5), done.Stats.BytesSkipped)
	assert.True(t, closedAtDone.Load(), "source must be closed before Done")

	<-svc.Done()
	assert.NoError(t, svc.Err())
}

func TestService_ChecksumMismatchIsDiagnosticOnly(t *testing.T) {
	bad := telemetry.EncodeFrame(sample())
	bad[len(bad)-2] ^= 0x5A
	stream := append(bad, telemetry.EncodeFrame(sample())...)

	svc := New(Config{}, WithOpener(func(context.Context) (source.Source, error) {
		return source.NewReaderSource(bytes.NewReader(stream), time.Second), nil
	}))
	sub := svc.Subscribe(0)
	require.NoError(t, svc.Start(context.Background()))

	evs := collect(t, sub)
	assert.Equal(t, []string{"checksum", "record", "done"}, kinds(evs))
	assert.Equal(t, decoder.ValidatingChecksum.String(), evs[0].Diagnostic.State)
}

func TestService_OpenFailureIsInert(t *testing.T) {
	openErr := &source.OpenError{Kind: "serial", Path: "/dev/ttyUSB9", Err: os.ErrNotExist}
	svc := New(Config{}, WithOpener(func(context.Context) (source.Source, error) { return nil, openErr }))
	sub := svc.Subscribe(0)
	require.NoError(t, svc.Start(context.Background()))

	evs := collect(t, sub)
	require.Equal(t, []string{"open", "done"}, kinds(evs))
	assert.Contains(t, evs[0].Diagnostic.Detail, "/dev/ttyUSB9")
	assert.Nil(t, evs[1].Stats)

	var oe *source.OpenError
	require.True(t, errors.As(svc.Err(), &oe))
	assert.True(t, errors.Is(svc.Err(), os.ErrNotExist))

	assert.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyStarted)
	svc.Stop()
	svc.Stop()
}

func TestService_DefaultSerialOpenFailure(t *testing.T) {
	svc := New(Config{Serial: source.SerialConfig{
		Port:    filepath.Join(t.TempDir(), "ttyMissing"),
		Baud:    115200,
		Timeout: 100 * time.Millisecond,
		Driver:  source.DriverPortable,
	}})
	sub := svc.Subscribe(0)
	require.NoError(t, svc.Start(context.Background()))

	evs := collect(t, sub)
	assert.Equal(t, []string{"open", "done"}, kinds(evs))
	var oe *source.OpenError
	assert.True(t, errors.As(svc.Err(), &oe))
}

func TestService_TransportFaultIsTerminal(t *testing.T) {
	unplugged := errors.New("device disconnected")
	src := &faultSource{data: telemetry.EncodeFrame(sample()), err: unplugged}
	svc := New(Config{}, WithOpener(func(context.Context) (source.Source, error) { return src, nil }))
	sub := svc.Subscribe(0)
	require.NoError(t, svc.Start(context.Background()))

	evs := collect(t, sub)
	assert.Equal(t, []string{"record", "transport", "done"}, kinds(evs))
	assert.ErrorIs(t, evs[2].Err, unplugged)
	assert.ErrorIs(t, svc.Err(), unplugged)
}

func TestService_StopDuringRead(t *testing.T) {
	src := &stallSource{timeout: 20 * time.Millisecond}
	svc := New(Config{}, WithOpener(func(context.Context) (source.Source, error) { return src, nil }))
	sub := svc.Subscribe(0)
	require.NoError(t, svc.Start(context.Background()))

	time.Sleep(50 * time.Millisecond)
	svc.Stop()
	svc.Stop()

	evs := collect(t, sub)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, EventDone, last.Kind)
	assert.NoError(t, last.Err)
	assert.True(t, src.closed.Load())
	for _, ev := range evs[:len(evs)-1] {
		assert.Equal(t, DiagTimeout, ev.Diagnostic.Kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, svc.Wait(ctx))
	svc.Stop()
}

func TestService_StopBeforeStart(t *testing.T) {
	svc := New(Config{})
	sub := svc.Subscribe(0)
	svc.Stop()
	svc.Stop()

	evs := collect(t, sub)
	assert.Equal(t, []string{"done"}, kinds(evs))
	<-svc.Done()
	assert.ErrorIs(t, svc.Start(context.Background()), ErrStopped)
}

func TestService_ParentContextCancelStops(t *testing.T) {
	src := &stallSource{timeout: 10 * time.Millisecond}
	svc := New(Config{}, WithOpener(func(context.Context) (source.Source, error) { return src, nil }))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	cancel()

	select {
	case <-svc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.True(t, src.closed.Load())
}

func TestService_SyntheticMode(t *testing.T) {
	svc := New(Config{Fake: true, Sim: SimConfig{RateHz: 500, Seed: 5}})
	sub := svc.Subscribe(1000)
	require.NoError(t, svc.Start(context.Background()))

	var recs []telemetry.Record
	for ev := range sub.C() {
		require.Equal(t, EventRecord, ev.Kind)
		recs = append(recs, ev.Record)
		if len(recs) == 5 {
			break
		}
	}
	svc.Stop()

	rest := collect(t, sub)
	require.NotEmpty(t, rest)
	assert.Equal(t, EventDone, rest[len(rest)-1].Kind)

	for _, r := range recs {
		assert.Equal(t, uint16(0xABCD), r.Header)
		assert.True(t, r.Valid())
	}
}

func TestService_SyntheticScriptMissing(t *testing.T) {
	svc := New(Config{Fake: true, Sim: SimConfig{Mode: "script", Script: filepath.Join(t.TempDir(), "none.yaml")}})
	sub := svc.Subscribe(0)
	require.NoError(t, svc.Start(context.Background()))

	assert.Equal(t, []string{"open", "done"}, kinds(collect(t, sub)))
	var oe *source.OpenError
	assert.True(t, errors.As(svc.Err(), &oe))
}

func TestService_FramedSimWithCapture(t *testing.T) {
	capPath := filepath.Join(t.TempDir(), "session.cap")
	svc := New(Config{
		Serial:      source.SerialConfig{Timeout: 100 * time.Millisecond},
		Fake:        true,
		Sim:         SimConfig{RateHz: 200, Seed: 8, Framed: true, CorruptRate: 0.25},
		CapturePath: capPath,
	})
	sub := svc.Subscribe(1000)
	require.NoError(t, svc.Start(context.Background()))

	var got []Event
	for ev := range sub.C() {
		got = append(got, ev)
		if ev.Kind == EventRecord && len(got) >= 10 {
			break
		}
	}
	svc.Stop()
	got = append(got, collect(t, sub)...)

	last := got[len(got)-1]
	require.Equal(t, EventDone, last.Kind)
	require.NotNil(t, last.Stats)
	assert.Positive(t, last.Stats.Frames)

	chunks, err := replay.ReadFile(capPath)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestService_ReplaySource(t *testing.T) {
	capPath := filepath.Join(t.TempDir(), "in.cap")
	w, err := replay.CreateWriter(capPath)
	require.NoError(t, err)
	now := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteChunk(now, telemetry.EncodeFrame(sample())))
	}
	require.NoError(t, w.Close())

	svc := New(Config{
		Serial: source.SerialConfig{Timeout: time.Second},
		Replay: ReplayConfig{Path: capPath, Speed: 1},
	})
	sub := svc.Subscribe(0)
	require.NoError(t, svc.Start(context.Background()))

	assert.Equal(t, []string{"record", "record", "record", "done"}, kinds(collect(t, sub)))
	assert.NoError(t, svc.Err())
}

func TestService_ConcurrentStopIsSafe(t *testing.T) {
	src := &stallSource{timeout: 5 * time.Millisecond}
	svc := New(Config{}, WithOpener(func(context.Context) (source.Source, error) { return src, nil }))
	require.NoError(t, svc.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Stop()
		}()
	}
	wg.Wait()
	<-svc.Done()
}

func TestEvent_MarshalJSON(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	b, err := json.Marshal(Event{Kind: EventRecord, Seq: 3, At: at, Record: sample().Seal()})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "record", m["type"])
	assert.Equal(t, float64(3), m["seq"])
	assert.Equal(t, "2026-03-04T05:06:07Z", m["ts"])
	assert.Contains(t, m, "record")
	assert.NotContains(t, m, "diagnostic")

	b, err = json.Marshal(Event{Kind: EventDiagnostic, At: at, Diagnostic: Diagnostic{Kind: DiagChecksum, Detail: "x"}})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"diagnostic":{"kind":"checksum","detail":"x"}`)

	b, err = json.Marshal(Event{Kind: EventDone, At: at, Err: io.ErrUnexpectedEOF, Stats: &decoder.Stats{Frames: 2}})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"error":"unexpected EOF"`)
	assert.Contains(t, string(b), `"frames":2`)
}
