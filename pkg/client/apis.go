package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"

	"github.com/powercal/powercal/pkg/events"
	"github.com/powercal/powercal/pkg/monitor"
	"github.com/powercal/powercal/pkg/types"
)

func (c *Client) GetSample() (*types.Sample, error) {
	ret, err := c.Get("/sample")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get sample")
	}

	var s types.Sample
	if err := json.Unmarshal([]byte(ret), &s); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal sample")
	}
	return &s, nil
}

func (c *Client) GetSensors() (*monitor.SensorsResponse, error) {
	ret, err := c.Get("/sensors")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get sensors")
	}

	var resp monitor.SensorsResponse
	if err := json.Unmarshal([]byte(ret), &resp); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal sensors")
	}
	return &resp, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}

	var v string
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return v, nil
}

// Watch streams monitor events to fn until ctx is done or the monitor goes
// away. It returns nil when ctx ends the stream.
func (c *Client) Watch(ctx context.Context, fn func(events.Event)) error {
	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return ErrMonitorNotRunning
		}
		return pkgerrors.Wrapf(err, "failed to connect to %s", url)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var msg monitor.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return pkgerrors.Wrap(err, "failed to read event")
		}
		fn(events.Event{Name: msg.Type, Data: msg.Data})
	}
}
