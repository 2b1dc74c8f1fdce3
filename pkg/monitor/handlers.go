package monitor

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/powercal/powercal/pkg/events"
	"github.com/powercal/powercal/pkg/version"
)

var errNoSample = errors.New("no sample yet")

func (s *Server) getSample(c *gin.Context) {
	sample, err := s.Latest()
	if sample == nil {
		if err == nil {
			err = errNoSample
		}
		c.IndentedJSON(http.StatusServiceUnavailable, err.Error())
		_ = c.AbortWithError(http.StatusServiceUnavailable, err)
		return
	}
	c.IndentedJSON(http.StatusOK, sample)
}

func (s *Server) getSensors(c *gin.Context) {
	resp, err := s.sensors()
	if err != nil {
		c.IndentedJSON(http.StatusBadGateway, err.Error())
		_ = c.AbortWithError(http.StatusBadGateway, err)
		return
	}
	c.IndentedJSON(http.StatusOK, resp)
}

// subscribe honours repeated ?event=<name> filters.
func (s *Server) subscribe(c *gin.Context) chan events.Event {
	return s.hub.Subscribe(events.WithNames(c.QueryArray("event")...))
}

// getEvents streams hub events as server-sent events.
func (s *Server) getEvents(c *gin.Context) {
	ch := s.subscribe(c)
	defer s.hub.Unsubscribe(ch)

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})
}

// WSMessage is one event sent over /ws.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// getWebsocket streams hub events as JSON websocket messages.
func (s *Server) getWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := s.subscribe(c)
	defer s.hub.Unsubscribe(ch)

	// Drain reads so close frames from the peer are seen.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor stopping"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(WSMessage{Type: ev.Name, Data: ev.Data}); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logrus.Debugf("websocket write failed: %v", err)
				}
				return
			}
		}
	}
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
