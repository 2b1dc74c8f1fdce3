package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/powercal/powercal/pkg/sampler"
	"github.com/powercal/powercal/pkg/types"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show the sensor configuration of the flight controller",
		GroupID: gBasic,
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := openHandle()
			if err != nil {
				return err
			}
			defer closeHandle(h)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Firmware: %s\n", bold(h.Dialect()))
			fmt.Fprintf(out, "Port:     %s\n", h.Device())

			for _, kind := range types.SensorKinds {
				st, err := h.SensorState(kind)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n%s sensor\n", bold(string(kind)))
				fmt.Fprintf(out, "  Present: %s\n", bool2Text(st.Present))
				if !st.Present {
					continue
				}
				fmt.Fprintf(out, "  Enabled: %s\n", bool2Text(st.Enabled))
				fmt.Fprintf(out, "  Scale:   %.4f\n", st.Scale)
				if kind == types.Current {
					fmt.Fprintf(out, "  Offset:  %.3f %s\n", st.Offset, kind.Unit())
				}
			}

			s, err := sampler.One(h)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nReading:  %.2f V  %.2f A\n", s.Voltage, s.Current)
			return nil
		},
	}
}
