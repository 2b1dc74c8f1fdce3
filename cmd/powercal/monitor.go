package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/powercal/powercal/pkg/client"
	"github.com/powercal/powercal/pkg/events"
	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/monitor"
	"github.com/powercal/powercal/pkg/types"
)

func NewMonitorCommand() *cobra.Command {
	var (
		listen     string
		mqttBroker string
		mqttTopic  string
	)

	cmd := &cobra.Command{
		Use:     "monitor",
		Short:   "Serve live readings over HTTP",
		GroupID: gMonitor,
		Long: `Serve live readings of the flight controller over HTTP.

Endpoints:
  GET /sample   latest reading as JSON
  GET /sensors  sensor configuration
  GET /events   readings as server-sent events
  GET /ws       readings over a websocket, used by 'powercal watch'

With --mqtt-broker, every reading is also published to an MQTT topic.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := openHandle()
			if err != nil {
				return err
			}
			defer closeHandle(h)

			srv := monitor.New(h, events.NewEventHub(), conf.Interval())

			if mqttBroker != "" {
				host, _ := os.Hostname()
				pub, err := monitor.DialMQTT(mqttBroker, fmt.Sprintf("powercal-%s-%d", host, os.Getpid()), mqttTopic)
				if err != nil {
					return err
				}
				defer pub.Close()
				go pub.Run(cmd.Context(), srv.Hub())
			}

			logrus.WithFields(logrus.Fields{
				"dialect": h.Dialect(),
				"port":    h.Device(),
			}).Info("monitor starting")
			return srv.Run(cmd.Context(), listen)
		},
	}

	f := cmd.Flags()
	f.StringVar(&listen, "listen", monitor.DefaultListen, "address to listen on")
	f.StringVar(&mqttBroker, "mqtt-broker", "", "MQTT broker to publish readings to, e.g. tcp://localhost:1883")
	f.StringVar(&mqttTopic, "mqtt-topic", monitor.DefaultMQTTTopic, "MQTT topic for readings")

	return cmd
}

func NewWatchCommand() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Show readings from a running monitor",
		GroupID: gMonitor,
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			line := newLiveLine(out)
			defer line.Done()

			c := client.NewClient(server)
			err := c.Watch(cmd.Context(), func(e events.Event) {
				switch e.Name {
				case events.Sample:
					s, err := events.DecodeAs[events.SampleEvent](e)
					if err != nil {
						logrus.Warnf("bad sample event: %v", err)
						return
					}
					line.ReportLiveSample(types.Sample{
						Voltage:   s.Voltage,
						Current:   s.Current,
						Timestamp: time.UnixMilli(s.Ts),
					})
				case events.CalibrationPhase:
					p, err := events.DecodeAs[events.CalibrationPhaseEvent](e)
					if err != nil {
						logrus.Warnf("bad phase event: %v", err)
						return
					}
					line.Done()
					fmt.Fprintf(out, "%s: %s -> %s %s\n", p.Sensor, p.From, p.To, p.Message)
				}
			})
			if err == nil && cmd.Context().Err() != nil {
				return fcerr.Wrap(fcerr.Cancelled, "watch", cmd.Context().Err())
			}
			return err
		},
	}

	cmd.Flags().StringVar(&server, "server", client.DefaultServer, "monitor address")

	return cmd
}
