package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cztelemetry/internal/config"
	"cztelemetry/internal/jsonl"
	"cztelemetry/internal/link"
	"cztelemetry/internal/metrics"
	"cztelemetry/internal/udp"
	"cztelemetry/internal/web"
)

type runOptions struct {
	jsonl   bool
	listen  string
	udpDest string
	replay  string
	capture string
	framed  bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Decode the link and publish events until interrupted",
		Example: `  cztelemetry run --port /dev/ttyUSB0 --jsonl
  cztelemetry run --fake --listen :8080
  cztelemetry run --replay flight.cap --udp 192.168.10.255:4000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			o.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runLink(ctx, cfg, cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.BoolVar(&o.jsonl, "jsonl", false, "write events to stdout as JSON lines")
	f.StringVar(&o.listen, "listen", "", "serve the web dashboard and /metrics on this address")
	f.StringVar(&o.udpDest, "udp", "", "forward events as JSON datagrams to host:port")
	f.StringVar(&o.replay, "replay", "", "read from a capture file instead of the serial port")
	f.StringVar(&o.capture, "capture", "", "record every byte read to a capture file")
	f.BoolVar(&o.framed, "framed", false, "with --fake, send records through the wire encoding and decoder")
	return cmd
}

func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("jsonl") {
		cfg.Output.JSONL.Enable = o.jsonl
		cfg.Output.JSONL.Path = "-"
	}
	if f.Changed("listen") {
		cfg.Web.Enable = true
		cfg.Web.Listen = o.listen
	}
	if f.Changed("udp") {
		cfg.Output.UDP.Enable = true
		cfg.Output.UDP.Dest = o.udpDest
	}
	if f.Changed("replay") {
		cfg.Source.Replay.Enable = true
		cfg.Source.Replay.Path = o.replay
	}
	if f.Changed("capture") {
		cfg.Capture.Enable = true
		cfg.Capture.Path = o.capture
	}
	if f.Changed("framed") {
		cfg.Sim.Framed = o.framed
	}
}

// runLink wires the link to every enabled consumer and returns when the link
// ends or ctx is done. A stop on ctx is a clean exit.
func runLink(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	logs := web.NewLogBuffer(cfg.Log.Buffer)
	logger, err := newLogger(cfg, logOut, logs)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	status := web.NewStatus(cfg.Link.DiagnosticsTail)

	lc := linkConfig(cfg)
	svc := link.New(lc,
		link.WithLogger(logger),
		link.WithSink(metrics.New(reg)),
		link.WithSink(status),
	)
	status.SetStatic(lc.Describe(), svc.Session())
	// Ends subscriptions on early returns too; a no-op once the session ran.
	defer svc.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Output.JSONL.Enable {
		w, err := jsonl.Append(cfg.Output.JSONL.Path)
		if err != nil {
			return err
		}
		sub := svc.Subscribe(0)
		g.Go(func() error {
			defer w.Close()
			return w.Consume(sub)
		})
	}

	if cfg.Output.UDP.Enable {
		b, err := udp.NewBroadcaster(cfg.Output.UDP.Dest)
		if err != nil {
			return fmt.Errorf("udp broadcaster init failed: %w", err)
		}
		fwd, err := udp.NewForwarder(b, cfg.Output.UDP.Format, logger)
		if err != nil {
			_ = b.Close()
			return err
		}
		sub := svc.Subscribe(0)
		g.Go(func() error {
			defer b.Close()
			return fwd.Run(sub)
		})
		logger.Info().Str("dest", b.Dest()).Str("format", cfg.Output.UDP.Format).Msg("udp forwarding enabled")
	}

	if cfg.Web.Enable {
		h := web.Handler(web.Deps{
			Status:  status,
			Logs:    logs,
			Events:  svc,
			Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			Logger:  logger,
		})
		g.Go(func() error {
			logger.Info().Str("listen", cfg.Web.Listen).Msg("web listening")
			return web.Serve(gctx, cfg.Web.Listen, h)
		})
	}

	if err := svc.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			svc.Stop()
			<-svc.Done()
			return nil
		case <-svc.Done():
			// The session is over; take the web server down with it.
			cancel()
			return svc.Err()
		}
	})

	return g.Wait()
}
