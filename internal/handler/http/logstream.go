package http

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/joluben/sigsim/internal/domain"
	"github.com/joluben/sigsim/pkg/logger"
)

// Socket timing for the log stream. Writes that do not finish within
// writeWait abandon the client; clients must answer pings within pongWait.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// subscriberBuffer is how far a slow client may lag behind the live
	// fan-out before it is dropped.
	subscriberBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The stream is read-only and carries no credentials, so dashboards on
	// other origins may subscribe directly.
	CheckOrigin: func(*http.Request) bool { return true },
}

var errSubscriberGone = errors.New("log subscriber gone")

// wsSubscriber adapts a websocket connection to the engine's subscriber
// interface. Deliver queues entries on a buffered channel drained by the
// write loop so the project's fan-out never blocks; a full buffer marks the
// client dead and the project removes it.
type wsSubscriber struct {
	send chan domain.LogEntry
	done chan struct{}
	once sync.Once
}

func newWSSubscriber() *wsSubscriber {
	return &wsSubscriber{
		send: make(chan domain.LogEntry, subscriberBuffer),
		done: make(chan struct{}),
	}
}

// Deliver implements engine.Subscriber.
func (s *wsSubscriber) Deliver(entry domain.LogEntry) error {
	select {
	case <-s.done:
		return errSubscriberGone
	default:
	}
	select {
	case s.send <- entry:
		return nil
	default:
		s.shutdown()
		return errSubscriberGone
	}
}

func (s *wsSubscriber) shutdown() {
	s.once.Do(func() { close(s.done) })
}

// streamLogs upgrades the request to a websocket and serves the project's
// log feed: an acknowledgement frame, a replay of recent entries oldest
// first, then live events until either side disconnects.
func (h *SimulationHandler) streamLogs(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		logger.FromContext(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := newWSSubscriber()
	replay, err := h.service.SubscribeLogs(projectID, sub)
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(map[string]string{"error": "Project not running"})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return
	}
	defer h.service.UnsubscribeLogs(projectID, sub)

	ack := domain.LogEntry{
		Timestamp:  time.Now().UTC(),
		DeviceID:   domain.SystemDeviceID,
		DeviceName: domain.SystemDeviceName,
		EventType:  domain.EventConnectionEstablished,
		Message:    "Connected to log stream",
		ProjectID:  projectID,
	}
	if err := writeEntry(conn, ack); err != nil {
		return
	}

	// The replay goes out before the write loop starts draining; live
	// entries arriving meanwhile wait in the subscriber buffer, so a client
	// never sees an entry out of order or twice.
	for _, entry := range replay {
		if err := writeEntry(conn, entry); err != nil {
			return
		}
	}

	go readLoop(conn, sub)
	writeLoop(conn, sub, logger.FromContext(r.Context()))
}

func writeEntry(conn *websocket.Conn, entry domain.LogEntry) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(entry)
}

// readLoop discards inbound frames; it exists so pong and close frames are
// processed. When the client goes away it marks the subscriber done, which
// stops the write loop.
func readLoop(conn *websocket.Conn, sub *wsSubscriber) {
	defer sub.shutdown()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeLoop(conn *websocket.Conn, sub *wsSubscriber, log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case entry := <-sub.send:
			if err := writeEntry(conn, entry); err != nil {
				log.Debug("log stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
