// Package monitor serves live readings of a connected flight controller over
// HTTP, and optionally republishes them to an MQTT broker.
package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/powercal/powercal/pkg/events"
	"github.com/powercal/powercal/pkg/sampler"
	"github.com/powercal/powercal/pkg/types"
)

// DefaultListen is where the monitor listens unless told otherwise.
const DefaultListen = "127.0.0.1:8787"

const shutdownTimeout = 5 * time.Second

// Device is what the monitor reads from. *fc.Handle satisfies it.
type Device interface {
	sampler.Source
	SensorState(kind types.SensorKind) (types.SensorState, error)
	Dialect() string
}

// Server samples a device at a fixed interval and serves the readings.
type Server struct {
	device   Device
	hub      *events.EventHub
	interval time.Duration

	// devMu serializes device access between the sampling loop and handlers.
	devMu sync.Mutex

	mu      sync.RWMutex
	latest  *types.Sample
	lastErr error
}

func New(device Device, hub *events.EventHub, interval time.Duration) *Server {
	if interval <= 0 {
		interval = sampler.DefaultInterval
	}
	if hub == nil {
		hub = events.NewEventHub()
	}
	return &Server{
		device:   device,
		hub:      hub,
		interval: interval,
	}
}

// Hub returns the hub samples are published to.
func (s *Server) Hub() *events.EventHub {
	return s.hub
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/sample", s.getSample)
	router.GET("/sensors", s.getSensors)
	router.GET("/events", s.getEvents)
	router.GET("/ws", s.getWebsocket)
	router.GET("/version", getVersion)

	return router
}

// Run serves on listen until ctx is done.
func (s *Server) Run(ctx context.Context, listen string) error {
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler: s.Router(),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		logrus.Debugln("sampling loop starts")
		s.sampleLoop(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("monitor listening on http://%s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	cancel()
	logrus.Info("shutting down http server")
	// Streaming handlers return once their subscription closes.
	s.hub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logrus.Errorf("failed to shutdown http server: %v", shutdownErr)
	}
	<-loopDone

	return err
}

func (s *Server) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sampleOnce()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) sampleOnce() {
	s.devMu.Lock()
	sample, err := sampler.One(s.device)
	s.devMu.Unlock()

	s.mu.Lock()
	s.lastErr = err
	if err == nil {
		s.latest = &sample
	}
	s.mu.Unlock()

	if err != nil {
		logrus.WithError(err).Warn("failed to sample")
		return
	}
	s.hub.Publish(events.Sample, events.SampleEvent{
		Voltage: sample.Voltage,
		Current: sample.Current,
		Ts:      sample.Timestamp.UnixMilli(),
	})
}

// Latest returns the most recent sample, if any.
func (s *Server) Latest() (*types.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.lastErr
}

// SensorsResponse is the body of GET /sensors.
type SensorsResponse struct {
	Dialect string              `json:"dialect"`
	Sensors []types.SensorState `json:"sensors"`
}

func (s *Server) sensors() (*SensorsResponse, error) {
	s.devMu.Lock()
	defer s.devMu.Unlock()

	ret := &SensorsResponse{Dialect: s.device.Dialect()}
	for _, kind := range types.SensorKinds {
		st, err := s.device.SensorState(kind)
		if err != nil {
			return nil, err
		}
		ret.Sensors = append(ret.Sensors, st)
	}
	return ret, nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the monitor is a local tool
	},
}
