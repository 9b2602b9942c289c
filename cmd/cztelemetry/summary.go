package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cztelemetry/internal/decoder"
	"cztelemetry/internal/replay"
	"cztelemetry/internal/source"
)

type captureSummary struct {
	Segments    int
	Chunks      int
	Bytes       int
	MaxDuration time.Duration
	Decoded     decoder.Stats
}

// summarizeCapture counts segments and bytes, then runs the decoder over the
// concatenated data, ignoring timing. It is a quick health check, not a
// faithful replay: gaps never turn into timeouts here.
func summarizeCapture(chunks []replay.Chunk) captureSummary {
	var s captureSummary
	if len(chunks) == 0 {
		return s
	}

	origin := time.Duration(0)
	hasData := false
	var data bytes.Buffer

	for _, c := range chunks {
		if c.IsStart() {
			s.Segments++
			origin = c.At
			continue
		}
		hasData = true

		s.Chunks++
		s.Bytes += len(c.Data)
		data.Write(c.Data)

		at := c.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}
	}
	if s.Segments == 0 && hasData {
		s.Segments = 1
	}

	d := decoder.New(source.NewReaderSource(&data, time.Second))
	d.Run(context.Background(), func(decoder.Outcome) {})
	s.Decoded = d.Stats()
	return s
}

func printCaptureSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	chunks, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeCapture(chunks)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "chunks: %d\n", s.Chunks)
	fmt.Fprintf(w, "bytes: %d\n", s.Bytes)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	fmt.Fprintf(w, "frames: %d\n", s.Decoded.Frames)
	fmt.Fprintf(w, "checksum_errors: %d\n", s.Decoded.ChecksumErrors)
	fmt.Fprintf(w, "framing_errors: %d\n", s.Decoded.FramingErrors)
	fmt.Fprintf(w, "bytes_skipped: %d\n", s.Decoded.BytesSkipped)
	return nil
}

func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <capture>",
		Short: "Print segment, byte and frame counts for a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printCaptureSummary(cmd.OutOrStdout(), args[0])
		},
	}
}
