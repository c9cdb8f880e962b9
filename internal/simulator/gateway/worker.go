package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/pkg/api"
)

// handleWorkerSocket serves the driver-compatible worker endpoint: one
// websocket connection owns one participant for as long as it stays open.
// The participant spec arrives base64-encoded in the payload query
// parameter, commands arrive as inbound text frames, and state changes and
// log lines are pushed back as they happen.
func (g *Gateway) handleWorkerSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	spec, err := api.DecodeSpecPayload(r.URL.Query().Get("payload"))
	if err != nil {
		writeError(w, &simerrors.ErrInvalidArgument{Name: "payload", Value: "", Message: err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("Failed to upgrade a worker connection: %v", err)
		return
	}
	defer conn.Close()

	state, err := g.Spawn(r.Context(), spec)
	if err != nil {
		conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		_ = conn.WriteJSON(api.WorkerResponse{Error: err.Error()})
		return
	}
	id := state.Id

	// The participant is tied to the connection: once the peer goes away,
	// it has no controller left and is closed.
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.deps.Config.CloseGrace+5*time.Second)
		defer cancel()
		if err := g.Close(ctx, id); err != nil {
			log.WithField("participant", id).Warnf("Failed to close participant with its worker connection: %v", err)
		}
	}()

	events, cancel := g.Subscribe(id)
	defer cancel()

	commands := make(chan api.Command, 16)
	closed := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)
	go readWorkerCommands(conn, commands, closed, stop)

	ticker := time.NewTicker(socketPingInterval)
	defer ticker.Stop()

	// The initial snapshot lets the peer render the participant before the
	// first transition happens.
	conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	if err := conn.WriteJSON(api.WorkerResponse{State: &state}); err != nil {
		return
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			response, final := workerResponseFromEvent(event)
			if response == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := conn.WriteJSON(response); err != nil {
				return
			}
			if final {
				return
			}
		case cmd := <-commands:
			if err := g.Send(r.Context(), id, cmd); err != nil {
				conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
				if err := conn.WriteJSON(api.WorkerResponse{Error: err.Error()}); err != nil {
					return
				}
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

// workerResponseFromEvent maps a participant event to its outbound frame.
// final is set once the participant reached a terminal stage, after which
// the connection has nothing left to say.
func workerResponseFromEvent(event api.Event) (response *api.WorkerResponse, final bool) {
	switch event.Kind {
	case api.EventKindStateChanged:
		return &api.WorkerResponse{State: event.State}, event.State.Stage.Terminal()
	case api.EventKindLog:
		return &api.WorkerResponse{Log: &api.WorkerLog{Level: event.Level, Message: event.Message}}, false
	case api.EventKindError:
		return &api.WorkerResponse{Log: &api.WorkerLog{Level: "error", Message: event.Message}}, false
	default:
		return nil, false
	}
}

// readWorkerCommands parses inbound frames into commands until the peer
// disconnects.
func readWorkerCommands(conn *websocket.Conn, commands chan<- api.Command, closed chan<- struct{}, stop <-chan struct{}) {
	defer close(closed)
	conn.SetReadDeadline(time.Now().Add(socketPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongTimeout))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(socketPongTimeout))
		var cmd api.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Warnf("Ignoring an unparseable worker command: %v", err)
			continue
		}
		select {
		case commands <- cmd:
		case <-stop:
			return
		}
	}
}
