package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/powercal/powercal/pkg/calibration"
	"github.com/powercal/powercal/pkg/fc"
	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/types"
)

func NewCalibrateCommand() *cobra.Command {
	var (
		seconds   int
		assumeYes bool
		reference float64
	)

	cmd := &cobra.Command{
		Use:     "calibrate <voltage|current>",
		Short:   "Calibrate the voltage or current sensor",
		GroupID: gBasic,
		Long: `Calibrate the voltage or current sensor against an independent meter.

Connect a steady load, for example a resistor or a constant current load, and a
multimeter or a clamp meter. powercal samples the board for the given duration,
asks for the value the meter shows and writes the corrected scale.

The new scale builds on the current one, so repeated runs converge.`,
		Example: `  powercal calibrate voltage
  powercal calibrate current -d 20
  powercal calibrate voltage --reference 16.42 --yes`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseSensorArg(args[0])
			if err != nil {
				return err
			}
			if reference < 0 {
				return usageErrorf("reference must be positive, got %g", reference)
			}
			duration := conf.Duration()
			if cmd.Flags().Changed("duration") {
				if seconds <= 0 {
					return usageErrorf("duration must be positive, got %d", seconds)
				}
				duration = time.Duration(seconds) * time.Second
			}

			h, err := openHandle()
			if err != nil {
				return err
			}
			defer closeHandle(h)

			out := cmd.OutOrStdout()
			prompter := newTerminalPrompter(cmd.Context(), cmd.InOrStdin(), out, assumeYes)
			line := newLiveLine(out)

			fmt.Fprintf(out, "Connected to %s on %s.\n", bold(h.Dialect()), h.Device())

			c := &calibration.Calibrator{
				Device:    h,
				Kind:      kind,
				Duration:  duration,
				Interval:  conf.Interval(),
				Options:   conf.CalibrationOptions(),
				Prompter:  prompter,
				Reporter:  line,
				Reference: reference,
			}
			res, err := c.Run(cmd.Context())
			line.Done()
			if err != nil {
				return err
			}
			if res == nil {
				fmt.Fprintf(out, "The %s sensor was left disabled. Nothing was written.\n", kind)
				return nil
			}

			printResult(out, res)
			return finishChanges(h, prompter, out)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&seconds, "duration", "d", 0, "sampling window in seconds (default from config, 5)")
	f.BoolVarP(&assumeYes, "yes", "y", false, "answer yes to every question")
	f.Float64Var(&reference, "reference", 0, "value shown by the reference meter, asked for when unset")

	return cmd
}

func printResult(w io.Writer, res *calibration.Result) {
	unit := res.Kind.Unit()
	fmt.Fprintf(w, "Samples:     %d\n", res.Count)
	fmt.Fprintf(w, "Average:     %.3f %s (spread %.2f%%)\n", res.Mean, unit, res.RelativeSpread*100)
	fmt.Fprintf(w, "Reference:   %.3f %s\n", res.Reference, unit)
	fmt.Fprintf(w, "Correction:  x%.4f\n", res.Correction)
	fmt.Fprintf(w, "Scale:       %.4f -> %s\n", res.ExistingScale, color.GreenString("%.4f", res.Scale))
}

// finishChanges offers to persist pending changes. Settings take effect only
// after the board saves them and reboots.
func finishChanges(h *fc.Handle, p *terminalPrompter, out io.Writer) error {
	if !h.NeedsReboot() {
		return nil
	}

	yes, err := p.AskYesNo("Save settings and reboot the flight controller?", true)
	if err != nil {
		return err
	}
	if !yes {
		logrus.Warn("settings were not saved, they are lost when the board powers off")
		return nil
	}

	if err := p.ctx.Err(); err != nil {
		return fcerr.Wrap(fcerr.Cancelled, "save settings", err)
	}
	if err := h.SaveSettings(); err != nil {
		return err
	}
	if err := p.ctx.Err(); err != nil {
		return fcerr.Wrap(fcerr.Cancelled, "reboot", err)
	}
	if err := h.Reboot(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Settings saved. The flight controller is rebooting.")
	return nil
}

func parseSensorArg(s string) (types.SensorKind, error) {
	kind, err := types.ParseSensorKind(s)
	if err != nil {
		return "", usageError{err}
	}
	return kind, nil
}

func bold(s string) string {
	return color.New(color.Bold).Sprint(s)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("yes")
	}
	return color.New(color.Bold, color.FgRed).Sprint("no")
}
