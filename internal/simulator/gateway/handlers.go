package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/pkg/api"
)

const participantsPath = "/api/v1/participants"

// Routes mounts the gateway API on mux:
//
//	POST   /api/v1/participants              spawn a participant
//	GET    /api/v1/participants              list participant snapshots
//	GET    /api/v1/participants/{id}         one participant snapshot
//	DELETE /api/v1/participants/{id}         close a participant (idempotent)
//	POST   /api/v1/participants/{id}/command send a command
//	GET    /api/v1/events?participant={id}   websocket event stream
//	GET    /                                 websocket worker endpoint
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc(participantsPath, g.handleParticipants)
	mux.HandleFunc(participantsPath+"/", g.handleParticipant)
	mux.HandleFunc("/api/v1/events", g.handleEvents)
	mux.HandleFunc("/", g.handleWorkerSocket)
}

func (g *Gateway) handleParticipants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var spec api.ParticipantSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			writeError(w, &simerrors.ErrInvalidArgument{Name: "body", Value: "", Message: err.Error()})
			return
		}
		state, err := g.Spawn(r.Context(), spec)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJson(w, http.StatusCreated, state)
	case http.MethodGet:
		writeJson(w, http.StatusOK, g.List())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleParticipant(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, participantsPath+"/")
	id, action := rest, ""
	if idx := strings.IndexByte(rest, '/'); idx != -1 {
		id, action = rest[:idx], rest[idx+1:]
	}
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		state, err := g.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJson(w, http.StatusOK, state)
	case action == "" && r.Method == http.MethodDelete:
		if err := g.Close(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case action == "command" && r.Method == http.MethodPost:
		var cmd api.Command
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			writeError(w, &simerrors.ErrInvalidArgument{Name: "body", Value: "", Message: err.Error()})
			return
		}
		if err := g.Send(r.Context(), id, cmd); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := simerrors.StatusFromError(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("Gateway request failed: %v", err)
	}
	writeJson(w, status, errorResponse{Error: err.Error()})
}

func writeJson(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("Failed to write gateway response: %v", err)
	}
}
