package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powercal/powercal/pkg/events"
	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/types"
)

type fakeDevice struct {
	mu  sync.Mutex
	err error
}

func (d *fakeDevice) Sample() (float64, float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return 0, 0, d.err
	}
	return 12.6, 0.8, nil
}

func (d *fakeDevice) SensorState(kind types.SensorKind) (types.SensorState, error) {
	return types.SensorState{Kind: kind, Present: true, Enabled: kind == types.Voltage, Scale: 110}, nil
}

func (d *fakeDevice) Dialect() string { return "betaflight" }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestSampleEndpoint(t *testing.T) {
	dev := &fakeDevice{}
	s := New(dev, nil, time.Second)
	router := s.Router()

	w := get(t, router, "/sample")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s.sampleOnce()
	w = get(t, router, "/sample")
	require.Equal(t, http.StatusOK, w.Code)
	var sample types.Sample
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sample))
	assert.Equal(t, 12.6, sample.Voltage)
	assert.Equal(t, 0.8, sample.Current)

	// A failed sample keeps the last good one.
	dev.mu.Lock()
	dev.err = fcerr.IOTimeout
	dev.mu.Unlock()
	s.sampleOnce()
	latest, err := s.Latest()
	assert.Equal(t, fcerr.IOTimeout, fcerr.Of(err))
	assert.Equal(t, 12.6, latest.Voltage)
}

func TestSensorsEndpoint(t *testing.T) {
	s := New(&fakeDevice{}, nil, time.Second)

	w := get(t, s.Router(), "/sensors")
	require.Equal(t, http.StatusOK, w.Code)

	var resp SensorsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "betaflight", resp.Dialect)
	require.Len(t, resp.Sensors, 2)
	assert.Equal(t, types.Voltage, resp.Sensors[0].Kind)
	assert.False(t, resp.Sensors[1].Enabled)
}

func TestVersionEndpoint(t *testing.T) {
	w := get(t, New(&fakeDevice{}, nil, time.Second).Router(), "/version")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEventsStream(t *testing.T) {
	s := New(&fakeDevice{}, nil, time.Second)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	// Headers are only flushed with the first event, so keep publishing
	// while the request is in flight.
	go func() {
		for i := 0; i < 100; i++ {
			s.sampleOnce()
			time.Sleep(10 * time.Millisecond)
		}
	}()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event:") {
			assert.Equal(t, "sample", strings.TrimSpace(strings.TrimPrefix(line, "event:")))
			return
		}
	}
}

func TestWebsocketStream(t *testing.T) {
	s := New(&fakeDevice{}, nil, time.Second)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	go func() {
		for i := 0; i < 50; i++ {
			s.sampleOnce()
			time.Sleep(10 * time.Millisecond)
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.Sample, msg.Type)

	ev, err := events.DecodeAs[events.SampleEvent](events.Event{Name: msg.Type, Data: msg.Data})
	require.NoError(t, err)
	assert.Equal(t, 12.6, ev.Voltage)
}

func TestWebsocketEventFilter(t *testing.T) {
	s := New(&fakeDevice{}, nil, time.Second)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?event=" + events.CalibrationPhase
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	go func() {
		for i := 0; i < 50; i++ {
			s.sampleOnce()
			s.Hub().Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{Sensor: "voltage", To: "Sampled"})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < 3; i++ {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, events.CalibrationPhase, msg.Type)
	}
}

func TestServeShutsDown(t *testing.T) {
	s := New(&fakeDevice{}, nil, 10*time.Millisecond)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l) }()

	require.Eventually(t, func() bool {
		sample, _ := s.Latest()
		return sample != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeBroker struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, payload.([]byte))
	return &fakeToken{}
}

func (b *fakeBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payloads)
}

func TestMQTTPublisher(t *testing.T) {
	broker := &fakeBroker{}
	p := &MQTTPublisher{client: broker, topic: DefaultMQTTTopic}
	hub := events.NewEventHub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, hub)
		close(done)
	}()

	require.Eventually(t, func() bool {
		hub.Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{To: "Sampled"})
		hub.Publish(events.Sample, events.SampleEvent{Voltage: 16.2, Current: 3})
		return broker.count() > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, DefaultMQTTTopic, broker.topics[0])
	var ev events.SampleEvent
	require.NoError(t, json.Unmarshal(broker.payloads[0], &ev))
	assert.Equal(t, 16.2, ev.Voltage)
	// Only samples are forwarded.
	for _, b := range broker.payloads {
		assert.NotContains(t, string(b), "Sampled")
	}
}
