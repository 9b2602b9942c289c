package web

import (
	"sync"
	"time"

	"cztelemetry/internal/decoder"
	"cztelemetry/internal/link"
	"cztelemetry/internal/telemetry"
)

const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateDone    = "done"
)

// Status folds the link's event stream into the view served by /api/status.
// It is a link.Sink; every method is safe for concurrent use.
type Status struct {
	start time.Time

	mu          sync.Mutex
	source      string
	session     string
	state       string
	records     uint64
	diagnostics map[link.DiagnosticKind]uint64
	lastRecord  *telemetry.Record
	lastAt      time.Time
	lastDiag    *DiagnosticEntry
	recent      *ring[DiagnosticEntry]
	doneErr     string
	stats       *decoder.Stats
	endedAt     time.Time
}

type DiagnosticEntry struct {
	AtUTC  string              `json:"at_utc"`
	Seq    uint64              `json:"seq"`
	Kind   link.DiagnosticKind `json:"kind"`
	State  string              `json:"state,omitempty"`
	Detail string              `json:"detail"`
}

// NewStatus keeps the last tail diagnostics for the snapshot.
func NewStatus(tail int) *Status {
	if tail <= 0 {
		tail = 50
	}
	return &Status{
		start:       time.Now().UTC(),
		state:       StateIdle,
		diagnostics: make(map[link.DiagnosticKind]uint64),
		recent:      newRing[DiagnosticEntry](tail),
	}
}

func (s *Status) SetStatic(source, session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
	s.session = session
}

func (s *Status) Emit(ev link.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		s.state = StateRunning
	}
	if ev.Session != "" {
		s.session = ev.Session
	}

	switch ev.Kind {
	case link.EventRecord:
		r := ev.Record
		s.records++
		s.lastRecord = &r
		s.lastAt = ev.At
	case link.EventDiagnostic:
		e := DiagnosticEntry{
			AtUTC:  ev.At.UTC().Format(time.RFC3339Nano),
			Seq:    ev.Seq,
			Kind:   ev.Diagnostic.Kind,
			State:  ev.Diagnostic.State,
			Detail: ev.Diagnostic.Detail,
		}
		s.diagnostics[e.Kind]++
		s.lastDiag = &e
		s.recent.add(e)
	case link.EventDone:
		s.state = StateDone
		s.endedAt = ev.At
		if ev.Err != nil {
			s.doneErr = ev.Err.Error()
		}
		s.stats = ev.Stats
	}
}

// LastRecord returns the most recent record, if any.
func (s *Status) LastRecord() (telemetry.Record, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRecord == nil {
		return telemetry.Record{}, time.Time{}, false
	}
	return *s.lastRecord, s.lastAt, true
}

type StatusSnapshot struct {
	Service           string                         `json:"service"`
	NowUTC            string                         `json:"now_utc"`
	UptimeSec         int64                          `json:"uptime_sec"`
	Source            string                         `json:"source"`
	Session           string                         `json:"session"`
	State             string                         `json:"state"`
	Records           uint64                         `json:"records"`
	Diagnostics       map[link.DiagnosticKind]uint64 `json:"diagnostics"`
	LastRecord        *telemetry.Record              `json:"last_record,omitempty"`
	LastRecordUTC     string                         `json:"last_record_utc,omitempty"`
	LastDiagnostic    *DiagnosticEntry               `json:"last_diagnostic,omitempty"`
	RecentDiagnostics []DiagnosticEntry              `json:"recent_diagnostics"`
	EndedUTC          string                         `json:"ended_utc,omitempty"`
	Error             string                         `json:"error,omitempty"`
	Stats             *decoder.Stats                 `json:"stats,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatusSnapshot{
		Service:           "cztelemetry",
		NowUTC:            nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:         int64(nowUTC.Sub(s.start).Seconds()),
		Source:            s.source,
		Session:           s.session,
		State:             s.state,
		Records:           s.records,
		Diagnostics:       make(map[link.DiagnosticKind]uint64, len(s.diagnostics)),
		RecentDiagnostics: s.recent.snapshot(),
		Error:             s.doneErr,
	}
	for k, v := range s.diagnostics {
		snap.Diagnostics[k] = v
	}
	if s.lastRecord != nil {
		r := *s.lastRecord
		snap.LastRecord = &r
		snap.LastRecordUTC = s.lastAt.UTC().Format(time.RFC3339Nano)
	}
	if s.lastDiag != nil {
		d := *s.lastDiag
		snap.LastDiagnostic = &d
	}
	if !s.endedAt.IsZero() {
		snap.EndedUTC = s.endedAt.UTC().Format(time.RFC3339Nano)
	}
	if s.stats != nil {
		st := *s.stats
		snap.Stats = &st
	}
	return snap
}
