package link

import (
	"encoding/json"
	"fmt"
	"time"

	"cztelemetry/internal/decoder"
	"cztelemetry/internal/telemetry"
)

type EventKind int

const (
	EventRecord EventKind = iota
	EventDiagnostic
	// EventDone is always the last event of a session.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventRecord:
		return "record"
	case EventDiagnostic:
		return "diagnostic"
	case EventDone:
		return "done"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type DiagnosticKind string

const (
	DiagTimeout   DiagnosticKind = "timeout"
	DiagFraming   DiagnosticKind = "framing"
	DiagChecksum  DiagnosticKind = "checksum"
	DiagDecode    DiagnosticKind = "decode"
	DiagResync    DiagnosticKind = "resync"
	DiagOpen      DiagnosticKind = "open"
	DiagTransport DiagnosticKind = "transport"
)

// DiagnosticKinds lists every kind, for pre-registering metric labels.
var DiagnosticKinds = []DiagnosticKind{
	DiagTimeout, DiagFraming, DiagChecksum, DiagDecode, DiagResync, DiagOpen, DiagTransport,
}

type Diagnostic struct {
	Kind DiagnosticKind `json:"kind"`
	// State is the decoder state the frame was abandoned in, when relevant.
	State  string `json:"state,omitempty"`
	Detail string `json:"detail"`
}

// Event is one item of the ordered output stream. Values are immutable
// snapshots and may be shared between consumers.
type Event struct {
	Kind    EventKind
	Seq     uint64
	At      time.Time
	Session string

	Record     telemetry.Record
	Diagnostic Diagnostic

	// Set on EventDone only. Err is nil for a clean end or a stop.
	Err   error
	Stats *decoder.Stats
}

type eventJSON struct {
	Type       string            `json:"type"`
	Seq        uint64            `json:"seq"`
	TS         string            `json:"ts"`
	Session    string            `json:"session,omitempty"`
	Record     *telemetry.Record `json:"record,omitempty"`
	Diagnostic *Diagnostic       `json:"diagnostic,omitempty"`
	Error      string            `json:"error,omitempty"`
	Stats      *decoder.Stats    `json:"stats,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Type:    e.Kind.String(),
		Seq:     e.Seq,
		TS:      e.At.UTC().Format(time.RFC3339Nano),
		Session: e.Session,
	}
	switch e.Kind {
	case EventRecord:
		r := e.Record
		out.Record = &r
	case EventDiagnostic:
		d := e.Diagnostic
		out.Diagnostic = &d
	case EventDone:
		if e.Err != nil {
			out.Error = e.Err.Error()
		}
		out.Stats = e.Stats
	}
	return json.Marshal(out)
}

// Sink receives every event synchronously on the worker goroutine. Emit must
// return promptly; anything slow belongs behind a Subscribe channel.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }
