package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"cztelemetry/internal/decoder"
	"cztelemetry/internal/jsonl"
	"cztelemetry/internal/link"
	"cztelemetry/internal/replay"
	"cztelemetry/internal/source"
)

const (
	dumpFormatAuto    = "auto"
	dumpFormatCapture = "capture"
	dumpFormatRaw     = "raw"
)

type dumpOptions struct {
	format      string
	out         string
	recordsOnly bool
	realtime    bool
	speed       float64
}

func newDumpCmd(g *globalOptions) *cobra.Command {
	o := &dumpOptions{}
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Decode a capture or raw byte file to JSON lines",
		Long: `dump runs the decoder over a capture file (as written by --capture or
"gen") or a raw binary dump of the serial line and writes one JSON object per
event. Capture timing is honored on a virtual clock, so gaps still produce
timeouts without waiting for them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}

			var opts []jsonl.Option
			if o.recordsOnly {
				opts = append(opts, jsonl.RecordsOnly())
			}
			var w *jsonl.Writer
			if o.out == "" || o.out == "-" {
				w = jsonl.NewWriter(cmd.OutOrStdout(), opts...)
			} else {
				w, err = jsonl.Create(o.out, opts...)
				if err != nil {
					return err
				}
			}
			defer w.Close()

			stats, err := dumpFile(cmd.Context(), args[0], cfg.Serial.Timeout, o, w, link.WithLogger(logger))
			if err != nil {
				return err
			}
			b, _ := json.Marshal(stats)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", b)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.format, "format", dumpFormatAuto, "input format: auto, capture or raw")
	f.StringVarP(&o.out, "output", "o", "-", `output file, "-" for stdout`)
	f.BoolVar(&o.recordsOnly, "records-only", false, "omit diagnostics and the final done line")
	f.BoolVar(&o.realtime, "realtime", false, "replay captures at their recorded pace")
	f.Float64Var(&o.speed, "speed", 1, "playback speed with --realtime")
	return cmd
}

// dumpFile decodes path through a link session whose events go to w. It
// returns the decoder's final counters.
func dumpFile(ctx context.Context, path string, timeout time.Duration, o *dumpOptions, w *jsonl.Writer, opts ...link.Option) (decoder.Stats, error) {
	clock := newVirtualClock(time.Now())
	open, err := dumpOpener(path, timeout, o, clock)
	if err != nil {
		return decoder.Stats{}, err
	}

	var final decoder.Stats
	opts = append(opts,
		link.WithOpener(open),
		link.WithSink(w),
		link.WithSink(link.SinkFunc(func(ev link.Event) {
			if ev.Kind == link.EventDone && ev.Stats != nil {
				final = *ev.Stats
			}
		})),
	)
	if !o.realtime {
		opts = append(opts, link.WithClock(clock.Now))
	}

	svc := link.New(link.Config{Replay: link.ReplayConfig{Path: path}}, opts...)
	if err := svc.Start(ctx); err != nil {
		return decoder.Stats{}, err
	}
	if err := svc.Wait(ctx); err != nil {
		return final, err
	}
	return final, nil
}

func dumpOpener(path string, timeout time.Duration, o *dumpOptions, clock *virtualClock) (link.OpenFunc, error) {
	format := strings.ToLower(strings.TrimSpace(o.format))
	var chunks []replay.Chunk
	switch format {
	case dumpFormatCapture:
		var err error
		if chunks, err = replay.ReadFile(path); err != nil {
			return nil, err
		}
	case dumpFormatAuto:
		// Captures are text; anything that fails to parse is taken as raw.
		if c, err := replay.ReadFile(path); err == nil {
			chunks = c
			format = dumpFormatCapture
		} else {
			format = dumpFormatRaw
		}
	case dumpFormatRaw:
	default:
		return nil, fmt.Errorf("unknown input format %q (want auto, capture or raw)", o.format)
	}

	if format == dumpFormatRaw {
		return func(context.Context) (source.Source, error) {
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, &source.OpenError{Kind: "raw", Path: path, Err: err}
			}
			return source.NewReaderSource(bytes.NewReader(b), timeout), nil
		}, nil
	}

	cfg := replay.SourceConfig{Timeout: timeout}
	if o.realtime {
		cfg.Speed = o.speed
	} else {
		cfg.Sleep = clock.Sleep
	}
	return func(context.Context) (source.Source, error) {
		src, err := replay.NewSource(chunks, cfg)
		if err != nil {
			return nil, &source.OpenError{Kind: "replay", Path: path, Err: err}
		}
		return src, nil
	}, nil
}

// virtualClock lets a capture's gaps elapse instantly while the decoder
// still sees them.
type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newVirtualClock(start time.Time) *virtualClock {
	return &virtualClock{now: start}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Sleep(d time.Duration, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return false
	default:
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return true
}
