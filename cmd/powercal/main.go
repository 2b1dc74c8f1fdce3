package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/powercal/powercal/pkg/client"
	"github.com/powercal/powercal/pkg/config"
	"github.com/powercal/powercal/pkg/fcerr"
)

var (
	logLevel   = "info"
	configPath = defaultConfigPath()
	debug      = false

	// Overrides for the current run only.
	portFlag    string
	baudFlag    int
	dialectFlag string
	timeoutFlag time.Duration

	conf *config.File
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	gMonitor      = "Monitoring:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
		gMonitor,
	}
)

const (
	exitOK      = 0
	exitUsage   = 1
	exitFailure = 2
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "powercal.json"
	}
	return filepath.Join(home, ".config", "powercal.json")
}

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return usageErrorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) error {
	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		conf.SetPort(portFlag)
	}
	if flags.Changed("baud") {
		if baudFlag <= 0 {
			return usageErrorf("baud rate must be positive, got %d", baudFlag)
		}
		conf.SetBaudRate(baudFlag)
	}
	if flags.Changed("dialect") {
		conf.SetDialect(dialectFlag)
	}
	if flags.Changed("timeout") {
		if timeoutFlag <= 0 {
			return usageErrorf("timeout must be positive, got %s", timeoutFlag)
		}
		conf.SetTimeout(timeoutFlag)
	}

	logrus.WithFields(conf.LogrusFields()).Debug("config loaded")
	return nil
}

// usageError marks errors caused by how the command was invoked.
type usageError struct{ error }

func usageErrorf(format string, a ...interface{}) error {
	return usageError{fmt.Errorf(format, a...)}
}

// usageArgs marks positional argument errors as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var ue usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		return exitUsage
	}
	if fcerr.Of(err) == fcerr.Cancelled || errors.Is(err, context.Canceled) {
		return exitUsage
	}
	return exitFailure
}

func handleCmdError(w io.Writer, err error) {
	if debug {
		fmt.Fprintf(w, "Error: %+v\n", err)
	} else {
		fmt.Fprintf(w, "Error: %v\n", err)
	}

	if errors.Is(err, client.ErrMonitorNotRunning) {
		fmt.Fprintln(w, "Is the monitor running? Start it with 'powercal monitor'.")
		return
	}

	switch fcerr.Of(err) {
	case fcerr.DeviceBusy:
		fmt.Fprintln(w, "The serial port is in use. Close the configurator or any other program using it.")
	case fcerr.IOError:
		fmt.Fprintln(w, "Check the cable and the --port setting. 'powercal ports' lists serial ports.")
	case fcerr.IOTimeout:
		fmt.Fprintln(w, "The flight controller did not answer in time. Try a longer --timeout.")
	case fcerr.AutodetectFailed:
		fmt.Fprintln(w, "No supported firmware answered. Check --baud, or force one with --dialect.")
	case fcerr.ProtocolViolation:
		fmt.Fprintln(w, "The flight controller sent an unexpected reply. Is --dialect right? Rerun with --debug for details.")
	case fcerr.InvalidResults:
		fmt.Fprintln(w, "Nothing was written. Steady the load and run the calibration again.")
	case fcerr.SensorMissing:
		fmt.Fprintln(w, "This board has no such sensor configured.")
	case fcerr.Cancelled:
		fmt.Fprintln(w, "Interrupted.")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cmd := NewCommand()
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		handleCmdError(os.Stderr, err)
	}
	os.Exit(exitCodeFor(err))
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "powercal",
		Short: "powercal calibrates flight controller voltage and current sensors",
		Long: `powercal calibrates the voltage and current sensors of a Betaflight or INAV
flight controller over its USB serial port.

It samples the board while a steady load is connected, compares the average
reading with a value measured by an independent meter, and writes the
corrected scale back to the board.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}
			return loadConfig(cmd)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVarP(&portFlag, "port", "p", "", "serial device of the flight controller (default from config, /dev/ttyACM0)")
	globalFlags.IntVarP(&baudFlag, "baud", "b", 0, "serial baud rate (default from config, 115200)")
	globalFlags.StringVar(&dialectFlag, "dialect", "", "firmware dialect: auto, betaflight or inav (default from config, auto)")
	globalFlags.DurationVar(&timeoutFlag, "timeout", 0, "response timeout per request (default from config, 1s)")
	globalFlags.BoolVar(&debug, "debug", false, "print full error details")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewVersionCommand(),
		NewCalibrateCommand(),
		NewStatusCommand(),
		NewLiveCommand(),
		NewEnableCommand(),
		NewRebootCommand(),
		NewPortsCommand(),
		NewConfigCommand(),
		NewMonitorCommand(),
		NewWatchCommand(),
	)

	return cmd
}
