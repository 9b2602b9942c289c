// Package link runs the decoder on its own goroutine and turns its outcomes
// into an ordered event stream of records, diagnostics and a final Done.
//
// The worker exclusively owns the transport. Callers only hold the Service
// handle: Start, Stop, Subscribe and Done are safe from any goroutine.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"cztelemetry/internal/decoder"
	"cztelemetry/internal/hub"
	"cztelemetry/internal/source"
)

var (
	ErrAlreadyStarted = errors.New("link already started")
	ErrStopped        = errors.New("link stopped")
)

// OpenFunc acquires the byte source. It runs on the worker goroutine.
type OpenFunc func(ctx context.Context) (source.Source, error)

type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOpener replaces the source selected by Config.
func WithOpener(open OpenFunc) Option {
	return func(s *Service) { s.open = open }
}

// WithSink adds a synchronous sink. Sinks see events before subscribers.
func WithSink(sink Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

type Service struct {
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
	open    OpenFunc
	sinks   []Sink
	hub     *hub.Hub[Event]
	session string

	mu     sync.Mutex
	state  state
	cancel context.CancelFunc
	err    error

	finishOnce sync.Once
	done       chan struct{}

	// Owned by whichever goroutine produces events.
	seq uint64
}

func New(cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		logger:  zerolog.Nop(),
		now:     time.Now,
		session: ksuid.New().String(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = hub.DefaultBuffer
	}
	s.hub = hub.New[Event](hub.WithBuffer(buf))
	s.logger = s.logger.With().Str("component", "link").Str("session", s.session).Logger()
	return s
}

func (s *Service) Session() string { return s.session }

// Subscribe returns a channel of every event from now on, ending with Done.
// Subscribe before Start to see the whole session. A subscriber that falls
// behind loses its oldest queued events, never the newest.
func (s *Service) Subscribe(size int) *hub.Subscription[Event] {
	return s.hub.Subscribe(size)
}

func (s *Service) Unsubscribe(sub *hub.Subscription[Event]) {
	s.hub.Unsubscribe(sub)
}

// Start launches the worker. A Service runs at most once; construct a new
// one to retry after an open failure.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateRunning:
		s.mu.Unlock()
		return ErrAlreadyStarted
	case stateStopped:
		s.mu.Unlock()
		return ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	s.state = stateRunning
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		s.run(ctx)
	}()
	return nil
}

// Stop requests shutdown. It never blocks on the worker: the transport is
// closed and Done published within one read timeout. Calling it again, or
// after the session ended, has no effect.
func (s *Service) Stop() {
	s.mu.Lock()
	prev := s.state
	s.state = stateStopped
	cancel := s.cancel
	s.mu.Unlock()

	switch prev {
	case stateIdle:
		s.finish(nil, nil)
	case stateRunning:
		cancel()
	}
}

// Done is closed after the Done event has been published.
func (s *Service) Done() <-chan struct{} { return s.done }

// Err is the terminal error: an *source.OpenError, a transport fault, or nil.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the session ends or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(ctx context.Context) {
	if s.cfg.Fake && !s.cfg.Sim.Framed && s.open == nil {
		s.runSynthetic(ctx)
		return
	}

	open := s.open
	if open == nil {
		open = s.cfg.opener(s.now)
	}
	src, err := open(ctx)
	if err != nil {
		s.diagnose(Diagnostic{Kind: DiagOpen, Detail: err.Error()})
		s.finish(err, nil)
		return
	}
	s.logger.Info().Str("source", s.cfg.Describe()).Dur("timeout", src.ReadTimeout()).Msg("source open")

	d := decoder.New(src,
		decoder.WithClock(s.now),
		decoder.WithLogger(s.logger),
	)
	end := d.Run(ctx, s.handle)
	s.resync(end)

	var runErr error
	if end.Kind == decoder.KindFault {
		s.diagnose(Diagnostic{Kind: DiagTransport, State: end.State.String(), Detail: end.Detail})
		runErr = fmt.Errorf("transport: %w", end.Err)
	}
	if err := src.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("source close failed")
	}
	stats := d.Stats()
	s.finish(runErr, &stats)
}

func (s *Service) handle(o decoder.Outcome) {
	s.resync(o)

	var kind DiagnosticKind
	switch o.Kind {
	case decoder.KindOK:
		s.emit(Event{Kind: EventRecord, Record: o.Record})
		return
	case decoder.KindTimeout:
		kind = DiagTimeout
	case decoder.KindFraming:
		kind = DiagFraming
	case decoder.KindChecksum:
		kind = DiagChecksum
	case decoder.KindDecode:
		kind = DiagDecode
	default:
		return
	}
	s.diagnose(Diagnostic{Kind: kind, State: o.State.String(), Detail: o.Detail})
}

// resync reports bytes discarded while hunting for a start marker, ahead of
// whatever the frame resolved to.
func (s *Service) resync(o decoder.Outcome) {
	if o.Skipped == 0 {
		return
	}
	s.diagnose(Diagnostic{
		Kind:   DiagResync,
		State:  decoder.SeekingStart.String(),
		Detail: fmt.Sprintf("discarded %d bytes before start marker", o.Skipped),
	})
}

func (s *Service) diagnose(d Diagnostic) {
	l := s.logger.Warn()
	if d.Kind == DiagResync {
		l = s.logger.Debug()
	}
	l.Str("diagnostic", string(d.Kind)).Str("state", d.State).Msg(d.Detail)
	s.emit(Event{Kind: EventDiagnostic, Diagnostic: d})
}

func (s *Service) emit(ev Event) {
	s.seq++
	ev.Seq = s.seq
	ev.At = s.now()
	ev.Session = s.session
	for _, sink := range s.sinks {
		sink.Emit(ev)
	}
	s.hub.Publish(ev)
}

// finish publishes Done exactly once and closes every subscription.
func (s *Service) finish(err error, stats *decoder.Stats) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		l := s.logger.Info()
		if err != nil {
			l = s.logger.Error().Err(err)
		}
		if stats != nil {
			l = l.Interface("stats", stats)
		}
		l.Msg("link done")

		s.emit(Event{Kind: EventDone, Err: err, Stats: stats})
		s.hub.Close()
		close(s.done)
	})
}

// runSynthetic hands generated records straight to the stream at the
// configured cadence, bypassing framing.
func (s *Service) runSynthetic(ctx context.Context) {
	gen, err := s.cfg.Sim.generator()
	if err != nil {
		err = &source.OpenError{Kind: "sim", Err: err}
		s.diagnose(Diagnostic{Kind: DiagOpen, Detail: err.Error()})
		s.finish(err, nil)
		return
	}
	s.logger.Info().Str("source", s.cfg.Describe()).Msg("synthetic source running")

	t := time.NewTicker(s.cfg.Sim.interval())
	defer t.Stop()
	var n uint64
	for {
		select {
		case <-ctx.Done():
			s.finish(nil, &decoder.Stats{Frames: n})
			return
		case <-t.C:
			rec := gen.Next(s.now())
			s.emit(Event{Kind: EventRecord, Record: rec})
			n++
		}
	}
}
