package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/powercal/powercal/pkg/config"
	"github.com/powercal/powercal/pkg/fc"
	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/transport"
	"github.com/powercal/powercal/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  usageArgs(cobra.NoArgs),
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// A broken config must not hide the version.
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewEnableCommand() *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:     "enable <voltage|current>",
		Short:   "Enable the voltage or current sensor",
		GroupID: gAdvanced,
		Args:    usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseSensorArg(args[0])
			if err != nil {
				return err
			}

			h, err := openHandle()
			if err != nil {
				return err
			}
			defer closeHandle(h)

			out := cmd.OutOrStdout()
			st, err := h.SensorState(kind)
			if err != nil {
				return err
			}
			if !st.Present {
				return fcerr.New(fcerr.SensorMissing, "enable", "the board has no %s sensor", kind)
			}
			if st.Enabled {
				fmt.Fprintf(out, "The %s sensor is already enabled.\n", kind)
				return nil
			}

			if err := h.EnableSensor(kind); err != nil {
				return err
			}
			fmt.Fprintf(out, "The %s sensor is enabled.\n", kind)
			return finishChanges(h, newTerminalPrompter(cmd.Context(), cmd.InOrStdin(), out, assumeYes), out)
		},
	}

	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "save and reboot without asking")

	return cmd
}

func NewRebootCommand() *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:     "reboot",
		Short:   "Reboot the flight controller",
		GroupID: gAdvanced,
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := openHandle()
			if err != nil {
				return err
			}
			defer closeHandle(h)

			if save {
				if err := h.SaveSettings(); err != nil {
					return err
				}
			}
			if err := h.Reboot(); err != nil {
				return err
			}
			cmd.Println("The flight controller is rebooting.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "save settings to EEPROM first")

	return cmd
}

func NewPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ports",
		Short:   "List serial ports",
		GroupID: gAdvanced,
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := transport.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				cmd.Println("No serial ports found.")
				return nil
			}
			for _, p := range ports {
				marker := " "
				if p == conf.Port() {
					marker = "*"
				}
				cmd.Printf("%s %s\n", marker, p)
			}
			return nil
		},
	}
}

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Show or save settings",
		GroupID: gAdvanced,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective settings as JSON",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, _ []string) error {
				raw, err := config.NewRawFileConfigFromConfig(conf)
				if err != nil {
					return err
				}
				b, err := json.MarshalIndent(raw, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			},
		},
		&cobra.Command{
			Use:     "save",
			Short:   "Write the effective settings, including flag overrides, to the config file",
			Example: `  powercal config save --port /dev/ttyUSB0 --dialect inav`,
			Args:    usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, _ []string) error {
				raw, err := config.NewRawFileConfigFromConfig(conf)
				if err != nil {
					return err
				}
				if err := config.NewFileFromConfig(raw, conf.Path()).Save(); err != nil {
					return err
				}
				cmd.Printf("Saved to %s.\n", conf.Path())
				return nil
			},
		},
		&cobra.Command{
			Use:   "dialects",
			Short: "List supported firmware dialects",
			Args:  usageArgs(cobra.NoArgs),
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Println(fc.DialectAuto)
				for _, name := range fc.DialectNames() {
					cmd.Println(name)
				}
			},
		},
	)

	return cmd
}
