package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"cztelemetry/internal/link"
	"cztelemetry/internal/monitor"
)

func newMonitorCmd(g *globalOptions) *cobra.Command {
	var (
		fields  []string
		logFile string
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Show the latest readings in a terminal value grid",
		Example: `  cztelemetry monitor --port /dev/ttyACM0
  cztelemetry monitor --fake --fields temperature,altitude`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			selected, err := monitor.ParseFields(fields)
			if err != nil {
				return err
			}

			// The grid owns the terminal, so logs go to a file or nowhere.
			var logOut io.Writer = io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				logOut = f
			}
			logger, err := newLogger(cfg, logOut, nil)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			lc := linkConfig(cfg)
			svc := link.New(lc, link.WithLogger(logger))
			sub := svc.Subscribe(0)
			if err := svc.Start(ctx); err != nil {
				return err
			}
			defer func() {
				svc.Stop()
				<-svc.Done()
			}()

			err = monitor.Run(ctx, sub, lc.Describe(), selected,
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
				tea.WithAltScreen(),
			)
			if err != nil {
				return err
			}
			return svc.Err()
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "readings to show (header, timestamp, temperature, pressure, altitude, checksum)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "append logs to this file while the grid is up")
	return cmd
}
