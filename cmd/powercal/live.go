package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/sampler"
	"github.com/powercal/powercal/pkg/types"
)

// liveLine renders samples on one updating line when out is a terminal, and
// one line per sample otherwise.
type liveLine struct {
	out     io.Writer
	inPlace bool
	dirty   bool
}

func newLiveLine(out io.Writer) *liveLine {
	inPlace := false
	if f, ok := out.(*os.File); ok {
		inPlace = term.IsTerminal(int(f.Fd()))
	}
	return &liveLine{out: out, inPlace: inPlace}
}

func (l *liveLine) ReportLiveSample(s types.Sample) {
	text := fmt.Sprintf("%s  %s  %s",
		s.Timestamp.Format("15:04:05.0"),
		color.New(color.Bold, color.FgYellow).Sprintf("%7.2f V", s.Voltage),
		color.New(color.Bold, color.FgCyan).Sprintf("%7.2f A", s.Current),
	)
	if l.inPlace {
		fmt.Fprintf(l.out, "\r\033[K%s", text)
		l.dirty = true
		return
	}
	fmt.Fprintln(l.out, text)
}

// Done ends an in-place line.
func (l *liveLine) Done() {
	if l.dirty {
		fmt.Fprintln(l.out)
		l.dirty = false
	}
}

func NewLiveCommand() *cobra.Command {
	var seconds int

	cmd := &cobra.Command{
		Use:     "live",
		Short:   "Show live voltage and current readings",
		GroupID: gBasic,
		Long: `Show live voltage and current readings.

Readings are shown as reported by the flight controller, with its current
calibration applied. Press Ctrl-C to stop; an interrupted run exits with
status 1, a run that reaches --duration with 0.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if seconds < 0 {
				return usageErrorf("duration must not be negative, got %d", seconds)
			}

			h, err := openHandle()
			if err != nil {
				return err
			}
			defer closeHandle(h)

			line := newLiveLine(cmd.OutOrStdout())
			defer line.Done()

			var deadline <-chan time.Time
			if seconds > 0 {
				timer := time.NewTimer(time.Duration(seconds) * time.Second)
				defer timer.Stop()
				deadline = timer.C
			}
			return watchLive(cmd.Context(), h, conf.Interval(), deadline, line.ReportLiveSample)
		},
	}

	cmd.Flags().IntVarP(&seconds, "duration", "d", 0, "seconds to run, 0 runs until interrupted")

	return cmd
}

// watchLive samples src every interval until ctx ends or deadline fires.
// Unlike sampler.Collect it keeps nothing, so it can run indefinitely.
// An interrupt is reported as fcerr.Cancelled; reaching the deadline is not.
func watchLive(ctx context.Context, src sampler.Source, interval time.Duration, deadline <-chan time.Time, fn func(types.Sample)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s, err := sampler.One(src)
		if err != nil {
			return err
		}
		fn(s)

		select {
		case <-ctx.Done():
			return fcerr.Wrap(fcerr.Cancelled, "live", ctx.Err())
		case <-deadline:
			return nil
		case <-ticker.C:
		}
	}
}
