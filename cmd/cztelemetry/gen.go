package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cztelemetry/internal/replay"
	"cztelemetry/internal/sim"
)

type genOptions struct {
	out     string
	raw     bool
	count   int
	rateHz  float64
	mode    string
	seed    int64
	script  string
	noise   float64
	corrupt float64
}

func newGenCmd() *cobra.Command {
	o := &genOptions{}
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Write a synthetic frame stream as a capture or raw bytes",
		Example: `  cztelemetry gen -o clean.cap --count 200
  cztelemetry gen -o noisy.bin --raw --noise 0.2 --corrupt 0.05 --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.out == "" {
				return errors.New("--output is required")
			}
			var w io.Writer = cmd.OutOrStdout()
			if o.out != "-" {
				f, err := os.Create(o.out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			stats, err := generate(w, o, time.Now())
			if err != nil {
				return err
			}
			b, _ := json.Marshal(stats)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", b)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.out, "output", "o", "", `output file, "-" for stdout`)
	f.BoolVar(&o.raw, "raw", false, "write raw wire bytes instead of a timed capture")
	f.IntVar(&o.count, "count", 100, "number of frames")
	f.Float64Var(&o.rateHz, "rate", 20, "frame rate used for timestamps and capture timing")
	f.StringVar(&o.mode, "mode", sim.ModeUniform, "generator mode: uniform, walk or script")
	f.Int64Var(&o.seed, "seed", 1, "random seed; 0 seeds from the clock")
	f.StringVar(&o.script, "script", "", "scenario file for --mode script")
	f.Float64Var(&o.noise, "noise", 0, "probability of line noise before a frame")
	f.Float64Var(&o.corrupt, "corrupt", 0, "probability of a damaged frame")
	return cmd
}

// generate writes o.count frames to w, timed on a virtual clock starting at
// start so the output does not depend on how fast it is produced.
func generate(w io.Writer, o *genOptions, start time.Time) (sim.FrameStats, error) {
	if o.count <= 0 {
		return sim.FrameStats{}, fmt.Errorf("count must be > 0")
	}
	if o.rateHz <= 0 {
		return sim.FrameStats{}, fmt.Errorf("rate must be > 0")
	}
	gc := sim.Config{Mode: o.mode, Seed: o.seed}
	if o.mode == sim.ModeScript {
		scn, err := sim.LoadScenario(o.script)
		if err != nil {
			return sim.FrameStats{}, err
		}
		gc.Scenario = scn
	}

	clock := newVirtualClock(start)
	src, err := sim.NewFrameSource(sim.FrameConfig{
		Generator:   gc,
		Count:       o.count,
		NoiseRate:   o.noise,
		CorruptRate: o.corrupt,
		Now:         clock.Now,
	})
	if err != nil {
		return sim.FrameStats{}, err
	}
	defer src.Close()

	var capture *replay.Writer
	if !o.raw {
		capture, err = replay.NewWriter(w, start)
		if err != nil {
			return sim.FrameStats{}, err
		}
		_ = capture.Comment(fmt.Sprintf("generated mode=%s seed=%d rate=%gHz noise=%g corrupt=%g", o.mode, o.seed, o.rateHz, o.noise, o.corrupt))
	}

	interval := time.Duration(float64(time.Second) / o.rateHz)
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return src.Stats(), err
		}
		if n == 0 {
			continue
		}
		if capture != nil {
			err = capture.WriteChunk(clock.Now(), buf[:n])
		} else {
			_, err = w.Write(buf[:n])
		}
		if err != nil {
			return src.Stats(), err
		}
		clock.Sleep(interval, nil)
	}

	if capture != nil {
		// Flush only; the caller owns w.
		if err := capture.Flush(); err != nil {
			return src.Stats(), err
		}
	}
	return src.Stats(), nil
}
