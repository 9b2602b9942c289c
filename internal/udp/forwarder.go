package udp

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"cztelemetry/internal/hub"
	"cztelemetry/internal/link"
	"cztelemetry/internal/telemetry"
)

const (
	// FormatJSON sends every event as one JSON datagram.
	FormatJSON = "json"
	// FormatFrame re-encodes records as wire frames; diagnostics are not sent.
	FormatFrame = "frame"
)

type sender interface {
	Send(payload []byte) error
}

// Forwarder relays link events to a UDP destination.
type Forwarder struct {
	out    sender
	format string
	logger zerolog.Logger

	sent   uint64
	failed uint64
}

func NewForwarder(out sender, format string, logger zerolog.Logger) (*Forwarder, error) {
	switch format {
	case FormatJSON, FormatFrame:
	default:
		return nil, fmt.Errorf("udp: unknown format %q", format)
	}
	return &Forwarder{out: out, format: format, logger: logger.With().Str("component", "udp").Logger()}, nil
}

// Encode returns the datagram for ev, or nil if ev is not forwarded.
func (f *Forwarder) Encode(ev link.Event) ([]byte, error) {
	switch f.format {
	case FormatFrame:
		if ev.Kind != link.EventRecord {
			return nil, nil
		}
		return telemetry.EncodeFrame(ev.Record), nil
	default:
		return json.Marshal(ev)
	}
}

// Run forwards until the subscription closes, which the link does right
// after Done. Send errors are logged and counted; a lost datagram never stops
// the stream.
func (f *Forwarder) Run(sub *hub.Subscription[link.Event]) error {
	for ev := range sub.C() {
		b, err := f.Encode(ev)
		if err != nil {
			return err
		}
		if b == nil {
			continue
		}
		if err := f.out.Send(b); err != nil {
			f.failed++
			if f.failed == 1 || f.failed%100 == 0 {
				f.logger.Warn().Err(err).Uint64("failed", f.failed).Msg("udp send failed")
			}
			continue
		}
		f.sent++
	}
	f.logger.Debug().Uint64("sent", f.sent).Uint64("failed", f.failed).Msg("udp forwarder done")
	return nil
}

// Counts reports datagrams sent and send failures. Only meaningful after Run
// returns.
func (f *Forwarder) Counts() (sent, failed uint64) { return f.sent, f.failed }
