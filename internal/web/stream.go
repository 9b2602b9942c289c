package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cztelemetry/internal/hub"
	"cztelemetry/internal/link"
)

// Subscriber is the part of link.Service the stream needs.
type Subscriber interface {
	Subscribe(size int) *hub.Subscription[link.Event]
	Unsubscribe(sub *hub.Subscription[link.Event])
}

const (
	streamBuffer     = 64
	streamWriteWait  = 5 * time.Second
	streamPingPeriod = 20 * time.Second
	streamPongWait   = 2 * streamPingPeriod
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Local dashboards are served from anywhere on the LAN.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StreamHandler upgrades to a websocket and sends one JSON text message per
// link event, starting with a {"type":"status"} snapshot. A client that
// cannot keep up loses its oldest queued events. The socket is closed
// normally after the Done event.
func StreamHandler(events Subscriber, status *Status, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied with an HTTP error.
			logger.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		sub := events.Subscribe(streamBuffer)
		defer events.Unsubscribe(sub)

		l := logger.With().Str("remote", r.RemoteAddr).Logger()
		l.Debug().Msg("stream client connected")

		gone := make(chan struct{})
		go readPump(conn, gone)

		if status != nil {
			hello := struct {
				Type   string         `json:"type"`
				Status StatusSnapshot `json:"status"`
			}{"status", status.Snapshot(time.Now().UTC())}
			if err := writeMessage(conn, hello); err != nil {
				return
			}
		}

		ping := time.NewTicker(streamPingPeriod)
		defer ping.Stop()

		for {
			select {
			case ev, ok := <-sub.C():
				if !ok {
					_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
					return
				}
				if err := writeMessage(conn, ev); err != nil {
					l.Debug().Err(err).Msg("stream write failed")
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-gone:
				l.Debug().Uint64("dropped", sub.Dropped()).Msg("stream client left")
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}

func writeMessage(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// readPump discards client messages and closes gone when the peer goes away.
func readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
