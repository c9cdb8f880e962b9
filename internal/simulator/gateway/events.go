package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/hypervideo/client-simulator/pkg/api"
)

const (
	socketWriteTimeout = 10 * time.Second
	socketPingInterval = 20 * time.Second
	socketPongTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Workers are internal infrastructure; access control happens at the
	// network layer.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents upgrades to a websocket and streams events as JSON text
// frames, optionally filtered to the participant named in the query.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("Failed to upgrade an event subscription: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := g.Subscribe(r.URL.Query().Get("participant"))
	defer cancel()

	closed := make(chan struct{})
	go discardIncoming(conn, closed)
	g.writeEvents(conn, events, closed)
}

// writeEvents pushes events until the stream or the connection ends,
// interleaving pings so dead peers are detected.
func (g *Gateway) writeEvents(conn *websocket.Conn, events <-chan api.Event, closed <-chan struct{}) {
	ticker := time.NewTicker(socketPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
				_ = conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// discardIncoming drains the connection so close frames and pongs are
// processed, and reports when the peer goes away.
func discardIncoming(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadDeadline(time.Now().Add(socketPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
