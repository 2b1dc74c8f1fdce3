package monitor

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/powercal/powercal/pkg/events"
)

// DefaultMQTTTopic is where samples are published unless told otherwise.
const DefaultMQTTTopic = "powercal/sample"

const (
	mqttPublishTimeout = 2 * time.Second
	mqttBuffer         = 64
)

// publisher is the part of mqtt.Client the publisher needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher republishes sample events from a hub to an MQTT topic.
type MQTTPublisher struct {
	client publisher
	topic  string
	close  func()
}

// DialMQTT connects to broker, e.g. "tcp://localhost:1883".
func DialMQTT(broker, clientID, topic string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "failed to connect to mqtt broker %s", broker)
	}
	logrus.WithFields(logrus.Fields{
		"broker": broker,
		"topic":  topic,
	}).Info("connected to mqtt broker")

	return &MQTTPublisher{
		client: client,
		topic:  topic,
		close:  func() { client.Disconnect(250) },
	}, nil
}

// Run publishes every sample event from hub until ctx is done or the hub
// closes.
func (p *MQTTPublisher) Run(ctx context.Context, hub *events.EventHub) {
	// A slow broker should not cost samples while a publish is in flight.
	ch := hub.Subscribe(events.WithNames(events.Sample), events.WithBuffer(mqttBuffer))
	defer hub.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := p.publish(ev.Data); err != nil {
				logrus.WithError(err).Warn("failed to publish sample")
			}
		}
	}
}

func (p *MQTTPublisher) publish(payload []byte) error {
	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return errors.Errorf("publish to %s timed out", p.topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}
