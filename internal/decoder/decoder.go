// Package decoder extracts fixed-size telemetry frames from an unreliable
// byte stream.
//
// The machine scans for a start marker, accumulates exactly one body, checks
// the end marker and the additive checksum, and only then unpacks the record.
// Every malformed, partial or late frame is abandoned and scanning resumes at
// the next unread byte; bytes already consumed are never replayed.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"cztelemetry/internal/source"
	"cztelemetry/internal/telemetry"
)

// ByteSource is the subset of source.Source the decoder reads from. The
// decoder never closes it; the owner does.
type ByteSource interface {
	Read(p []byte) (int, error)
	ReadTimeout() time.Duration
}

// State is the machine's position within the current frame.
type State int

const (
	SeekingStart State = iota
	ReadingBody
	ValidatingEnd
	ValidatingChecksum
	Decoding
)

func (s State) String() string {
	switch s {
	case SeekingStart:
		return "seeking_start"
	case ReadingBody:
		return "reading_body"
	case ValidatingEnd:
		return "validating_end"
	case ValidatingChecksum:
		return "validating_checksum"
	case Decoding:
		return "decoding"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Kind tags how a call to Next resolved.
type Kind int

const (
	KindOK Kind = iota // a record was decoded
	KindTimeout
	KindFraming
	KindChecksum
	KindDecode
	// Terminal kinds: the machine halts after returning one of these.
	KindEnd
	KindFault
	KindStopped
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindTimeout:
		return "timeout"
	case KindFraming:
		return "framing"
	case KindChecksum:
		return "checksum"
	case KindDecode:
		return "decode"
	case KindEnd:
		return "end"
	case KindFault:
		return "fault"
	case KindStopped:
		return "stopped"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of resolving one frame (or of the stream ending).
type Outcome struct {
	Kind   Kind
	Record telemetry.Record

	// State is where the frame was abandoned; SeekingStart for OK and
	// terminal outcomes that happened between frames.
	State State

	// Skipped counts bytes discarded while seeking the start marker of this
	// frame.
	Skipped int

	Detail string
	Err    error
}

// Terminal reports whether the decoder has halted.
func (o Outcome) Terminal() bool {
	return o.Kind == KindEnd || o.Kind == KindFault || o.Kind == KindStopped
}

// Stats counts outcomes by kind since the decoder was created.
type Stats struct {
	BytesRead      uint64 `json:"bytes_read"`
	BytesSkipped   uint64 `json:"bytes_skipped"`
	Frames         uint64 `json:"frames"`
	Timeouts       uint64 `json:"timeouts"`
	FramingErrors  uint64 `json:"framing_errors"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	DecodeErrors   uint64 `json:"decode_errors"`
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithClock overrides the clock used for body read deadlines.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets where rejected frames are logged at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// WithReadSize sets how many bytes are requested from the source per read.
func WithReadSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.buf = make([]byte, n)
		}
	}
}

// Decoder is not safe for concurrent use; it belongs to a single loop.
type Decoder struct {
	src    ByteSource
	now    func() time.Time
	logger zerolog.Logger

	// Read-ahead buffer; buf[r:w] holds bytes not yet consumed.
	buf  []byte
	r, w int
	eof  bool

	body  [telemetry.BodySize]byte
	state State
	stats Stats
	done  *Outcome
}

// New returns a decoder in SeekingStart reading from src.
func New(src ByteSource, opts ...Option) *Decoder {
	d := &Decoder{
		src:    src,
		now:    time.Now,
		logger: zerolog.Nop(),
		buf:    make([]byte, 256),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stats returns a copy of the running counters.
func (d *Decoder) Stats() Stats { return d.stats }

// State reports where the machine currently is. Between calls to Next it is
// always SeekingStart.
func (d *Decoder) State() State { return d.state }

// Next runs the machine until one frame resolves or the stream terminates.
// Cancelling ctx is the stop request: it is checked at the top of every step
// and after every read, so it takes effect within one source read timeout.
// Once a terminal outcome has been returned, Next keeps returning it.
func (d *Decoder) Next(ctx context.Context) Outcome {
	if d.done != nil {
		return *d.done
	}
	out := d.next(ctx)
	d.state = SeekingStart
	d.count(out)
	if out.Terminal() {
		d.done = &out
	}
	return out
}

// Run calls fn with every non-terminal outcome in stream order and returns the
// terminal one.
func (d *Decoder) Run(ctx context.Context, fn func(Outcome)) Outcome {
	for {
		out := d.Next(ctx)
		if out.Terminal() {
			return out
		}
		if fn != nil {
			fn(out)
		}
	}
}

func (d *Decoder) next(ctx context.Context) Outcome {
	d.state = SeekingStart
	skipped := 0
	timeout := d.src.ReadTimeout()

	var (
		deadline time.Time
		got      int
	)

	for {
		if ctx.Err() != nil {
			return Outcome{Kind: KindStopped, State: d.state, Skipped: skipped}
		}

		switch d.state {
		case SeekingStart:
			if d.r == d.w {
				if out, stop := d.fill(ctx); stop {
					out.Skipped = skipped
					return out
				}
				continue
			}
			b := d.buf[d.r]
			d.r++
			if b != telemetry.StartMarker {
				skipped++
				continue
			}
			d.state = ReadingBody
			deadline = d.now().Add(timeout)
			got = 0

		case ReadingBody:
			if d.r < d.w {
				n := copy(d.body[got:], d.buf[d.r:d.w])
				d.r += n
				got += n
			}
			if got == telemetry.BodySize {
				d.state = ValidatingEnd
				deadline = d.now().Add(timeout)
				continue
			}
			if !d.now().Before(deadline) {
				return Outcome{
					Kind:    KindTimeout,
					State:   ReadingBody,
					Skipped: skipped,
					Detail:  fmt.Sprintf("body incomplete after %s: got %d of %d bytes", timeout, got, telemetry.BodySize),
				}
			}
			if out, stop := d.fill(ctx); stop {
				out.State = ReadingBody
				out.Skipped = skipped
				return out
			}

		case ValidatingEnd:
			if d.r == d.w {
				if !d.now().Before(deadline) {
					return Outcome{
						Kind:    KindTimeout,
						State:   ValidatingEnd,
						Skipped: skipped,
						Detail:  fmt.Sprintf("no end marker within %s", timeout),
					}
				}
				if out, stop := d.fill(ctx); stop {
					out.State = ValidatingEnd
					out.Skipped = skipped
					return out
				}
				continue
			}
			b := d.buf[d.r]
			d.r++
			if b != telemetry.EndMarker {
				// The byte is consumed, not reconsidered as a start marker.
				return Outcome{
					Kind:    KindFraming,
					State:   ValidatingEnd,
					Skipped: skipped,
					Detail:  fmt.Sprintf("bad end marker: expected 0x%02X got 0x%02X", telemetry.EndMarker, b),
				}
			}
			d.state = ValidatingChecksum

		case ValidatingChecksum:
			want := telemetry.BodyChecksum(d.body[:])
			recv := d.body[telemetry.BodySize-1]
			if want != recv {
				return Outcome{
					Kind:    KindChecksum,
					State:   ValidatingChecksum,
					Skipped: skipped,
					Detail:  fmt.Sprintf("checksum mismatch: received=0x%02X calc=0x%02X", recv, want),
				}
			}
			d.state = Decoding

		case Decoding:
			rec, err := telemetry.DecodeBody(d.body[:])
			if err != nil {
				return Outcome{Kind: KindDecode, State: Decoding, Skipped: skipped, Detail: err.Error(), Err: err}
			}
			return Outcome{Kind: KindOK, Record: rec, State: SeekingStart, Skipped: skipped}
		}
	}
}

// fill reads more bytes into the empty read-ahead buffer. It reports stop=true
// with a terminal outcome when the stream ended, failed, or ctx was cancelled
// during the read. A read that times out with no data returns stop=false and
// leaves the buffer empty.
func (d *Decoder) fill(ctx context.Context) (Outcome, bool) {
	if d.eof {
		return Outcome{Kind: KindEnd, Detail: "end of stream"}, true
	}
	n, err := d.src.Read(d.buf)
	if n < 0 {
		n = 0
	}
	d.r, d.w = 0, n
	d.stats.BytesRead += uint64(n)

	if ctx.Err() != nil {
		return Outcome{Kind: KindStopped}, true
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			d.eof = true
			if n > 0 {
				return Outcome{}, false
			}
			return Outcome{Kind: KindEnd, Detail: "end of stream"}, true
		}
		if errors.Is(err, source.ErrClosed) {
			return Outcome{Kind: KindFault, Detail: "source closed underneath decoder", Err: err}, true
		}
		return Outcome{Kind: KindFault, Detail: err.Error(), Err: err}, true
	}
	return Outcome{}, false
}

func (d *Decoder) count(out Outcome) {
	d.stats.BytesSkipped += uint64(out.Skipped)
	switch out.Kind {
	case KindOK:
		d.stats.Frames++
	case KindTimeout:
		d.stats.Timeouts++
	case KindFraming:
		d.stats.FramingErrors++
	case KindChecksum:
		d.stats.ChecksumErrors++
	case KindDecode:
		d.stats.DecodeErrors++
	}
	if out.Kind != KindOK {
		d.logger.Debug().
			Str("outcome", out.Kind.String()).
			Str("state", out.State.String()).
			Int("skipped", out.Skipped).
			Str("detail", out.Detail).
			Msg("frame resolved")
	}
}
