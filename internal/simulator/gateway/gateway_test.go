package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypervideo/client-simulator/internal/simulator/configuration"
	"github.com/hypervideo/client-simulator/internal/simulator/credentials"
	"github.com/hypervideo/client-simulator/internal/simulator/participant"
	"github.com/hypervideo/client-simulator/internal/simulator/registry"
	"github.com/hypervideo/client-simulator/pkg/api"
)

func TestSpawnAndGetParticipant(t *testing.T) {
	f := newFixture(t)

	state := f.spawn(t, "alice")
	assert.NotEmpty(t, state.Id)
	assert.Equal(t, "alice", state.Username)

	response := f.request(t, http.MethodGet, "/api/v1/participants/"+state.Id, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var fetched api.ParticipantState
	decode(t, response, &fetched)
	assert.Equal(t, state.Id, fetched.Id)
}

func TestSpawnValidatesSpec(t *testing.T) {
	f := newFixture(t)

	response := f.request(t, http.MethodPost, "/api/v1/participants", api.ParticipantSpec{Username: "alice"})
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)

	response = f.request(t, http.MethodPost, "/api/v1/participants", api.ParticipantSpec{
		Username: "alice",
		SpaceUrl: "https://meet.example.com/spaces/standup",
		Strategy: "teleport",
	})
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}

func TestSpawnFillsSettingsFromWorkerDefaults(t *testing.T) {
	f := newFixture(t)

	state := f.spawn(t, "alice")
	assert.Equal(t, api.Resolution720p, state.Resolution, "unset fields take the worker default")
	assert.Equal(t, api.TransportWebTransport, state.Transport)
}

func TestCommandRouting(t *testing.T) {
	f := newFixture(t)
	state := f.spawn(t, "alice")
	f.waitForStage(t, state.Id, api.StageAuthenticated)

	response := f.request(t, http.MethodPost, commandPath(state.Id), api.Command{Kind: api.CommandJoin})
	assert.Equal(t, http.StatusNoContent, response.StatusCode)
	f.waitForStage(t, state.Id, api.StageActive)

	// Media toggle before join on a second participant is an invalid-state
	// conflict, not a server fault.
	second := f.spawn(t, "bob")
	f.waitForStage(t, second.Id, api.StageAuthenticated)
	response = f.request(t, http.MethodPost, commandPath(second.Id), api.Command{Kind: api.CommandToggleAudio})
	assert.Equal(t, http.StatusConflict, response.StatusCode)

	response = f.request(t, http.MethodPost, commandPath("01unknown"), api.Command{Kind: api.CommandJoin})
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
}

func TestCommandToTerminalParticipantIsGone(t *testing.T) {
	f := newFixture(t)
	state := f.spawn(t, "alice")

	response := f.request(t, http.MethodDelete, "/api/v1/participants/"+state.Id, nil)
	assert.Equal(t, http.StatusNoContent, response.StatusCode)
	f.waitForStage(t, state.Id, api.StageClosed)

	response = f.request(t, http.MethodPost, commandPath(state.Id), api.Command{Kind: api.CommandJoin})
	assert.Equal(t, http.StatusGone, response.StatusCode)

	// Closing again, and closing an id that never existed, are no-ops.
	response = f.request(t, http.MethodDelete, "/api/v1/participants/"+state.Id, nil)
	assert.Equal(t, http.StatusNoContent, response.StatusCode)
	response = f.request(t, http.MethodDelete, "/api/v1/participants/01unknown", nil)
	assert.Equal(t, http.StatusNoContent, response.StatusCode)
}

func TestListParticipants(t *testing.T) {
	f := newFixture(t)
	f.spawn(t, "alice")
	f.spawn(t, "bob")

	response := f.request(t, http.MethodGet, "/api/v1/participants", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var states []api.ParticipantState
	decode(t, response, &states)
	assert.Len(t, states, 2)
}

func TestCommandsForDifferentParticipantsDoNotBlockEachOther(t *testing.T) {
	f := newFixture(t)
	// alice's strategy hangs in join; bob must still make progress.
	f.strategies.delayFor("alice", 10*time.Second)

	alice := f.spawn(t, "alice")
	bob := f.spawn(t, "bob")
	f.waitForStage(t, alice.Id, api.StageAuthenticated)
	f.waitForStage(t, bob.Id, api.StageAuthenticated)

	require.Equal(t, http.StatusNoContent,
		f.request(t, http.MethodPost, commandPath(alice.Id), api.Command{Kind: api.CommandJoin}).StatusCode)
	require.Equal(t, http.StatusNoContent,
		f.request(t, http.MethodPost, commandPath(bob.Id), api.Command{Kind: api.CommandJoin}).StatusCode)

	f.waitForStage(t, bob.Id, api.StageActive)
	assert.NotEqual(t, api.StageActive, f.get(t, alice.Id).Stage)
}

func TestEventStreamOverWebsocket(t *testing.T) {
	f := newFixture(t)
	state := f.spawn(t, "alice")

	conn := f.dial(t, "/api/v1/events?participant="+state.Id)
	defer conn.Close()

	require.Equal(t, http.StatusNoContent,
		f.request(t, http.MethodPost, commandPath(state.Id), api.Command{Kind: api.CommandJoin}).StatusCode)

	stages := []api.Stage{}
	deadline := time.Now().Add(5 * time.Second)
	for len(stages) < 2 && time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		var event api.Event
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("event stream ended early: %v", err)
		}
		if event.Kind == api.EventKindStateChanged {
			require.Equal(t, state.Id, event.ParticipantId)
			stages = append(stages, event.State.Stage)
		}
	}
	assert.Contains(t, stages, api.StageJoined)
}

func TestEventStreamFilterExcludesOtherParticipants(t *testing.T) {
	f := newFixture(t)
	alice := f.spawn(t, "alice")

	conn := f.dial(t, "/api/v1/events?participant="+alice.Id)
	defer conn.Close()

	bob := f.spawn(t, "bob")
	require.Equal(t, http.StatusNoContent,
		f.request(t, http.MethodPost, commandPath(bob.Id), api.Command{Kind: api.CommandJoin}).StatusCode)
	require.Equal(t, http.StatusNoContent,
		f.request(t, http.MethodPost, commandPath(alice.Id), api.Command{Kind: api.CommandJoin}).StatusCode)

	f.waitForStage(t, alice.Id, api.StageActive)
	f.waitForStage(t, bob.Id, api.StageActive)

	for i := 0; i < 3; i++ {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var event api.Event
		require.NoError(t, conn.ReadJSON(&event))
		assert.Equal(t, alice.Id, event.ParticipantId)
	}
}

func TestWorkerSocketLifecycle(t *testing.T) {
	f := newFixture(t)

	payload, err := api.EncodeSpecPayload(api.ParticipantSpec{
		Username: "alice",
		SpaceUrl: "https://meet.example.com/spaces/standup",
		Settings: api.ParticipantSettings{Audio: true},
	})
	require.NoError(t, err)

	conn := f.dial(t, "/?payload="+payload)
	defer conn.Close()

	// Initial snapshot arrives before any command.
	first := readWorkerResponse(t, conn)
	require.NotNil(t, first.State)
	id := first.State.Id

	require.NoError(t, conn.WriteJSON(api.Command{Kind: api.CommandJoin}))

	var stages []api.Stage
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		response := readWorkerResponse(t, conn)
		if response.State != nil {
			stages = append(stages, response.State.Stage)
			if response.State.Stage == api.StageActive {
				break
			}
		}
	}
	assert.Contains(t, stages, api.StageActive)

	// Dropping the connection closes the participant.
	conn.Close()
	require.Eventually(t, func() bool {
		return f.get(t, id).Stage.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorkerSocketRejectsBadPayload(t *testing.T) {
	f := newFixture(t)
	response := f.request(t, http.MethodGet, "/?payload=not-base64!!", nil)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}

// fixture

type fixture struct {
	gateway    *Gateway
	server     *httptest.Server
	strategies *fakeStrategies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	strategies := &fakeStrategies{delays: map[string]time.Duration{}}

	config := configuration.ParticipantConfig{
		DefaultSettings: api.ParticipantSettings{
			Resolution: api.Resolution720p,
		},
		JoinTimeout:    2 * time.Second,
		CommandTimeout: time.Second,
		CloseGrace:     300 * time.Millisecond,
	}
	g := New(ctx, registry.New(configuration.RegistryConfig{}), credentialsStub{}, config, strategies.factory)

	mux := http.NewServeMux()
	g.Routes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = g.Shutdown(shutdownCtx)
		cancel()
	})
	return &fixture{gateway: g, server: server, strategies: strategies}
}

func (f *fixture) request(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	response, err := f.server.Client().Do(request)
	require.NoError(t, err)
	t.Cleanup(func() { response.Body.Close() })
	return response
}

func (f *fixture) spawn(t *testing.T, username string) api.ParticipantState {
	t.Helper()
	response := f.request(t, http.MethodPost, "/api/v1/participants", api.ParticipantSpec{
		Username: username,
		SpaceUrl: "https://meet.example.com/spaces/standup",
		Settings: api.ParticipantSettings{Audio: true},
	})
	require.Equal(t, http.StatusCreated, response.StatusCode)
	var state api.ParticipantState
	decode(t, response, &state)
	return state
}

func (f *fixture) get(t *testing.T, id string) api.ParticipantState {
	t.Helper()
	state, err := f.gateway.Get(id)
	require.NoError(t, err)
	return state
}

func (f *fixture) waitForStage(t *testing.T, id string, stage api.Stage) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, err := f.gateway.Get(id)
		return err == nil && state.Stage == stage
	}, 5*time.Second, 5*time.Millisecond, "participant %s never reached stage %s", id, stage)
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func commandPath(id string) string {
	return fmt.Sprintf("/api/v1/participants/%s/command", id)
}

func decode(t *testing.T, response *http.Response, into interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(response.Body).Decode(into))
}

func readWorkerResponse(t *testing.T, conn *websocket.Conn) api.WorkerResponse {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var response api.WorkerResponse
	require.NoError(t, conn.ReadJSON(&response))
	return response
}

type credentialsStub struct{}

func (credentialsStub) Get(ctx context.Context, username string) (*credentials.Credential, error) {
	return &credentials.Credential{Username: username, SessionCookie: "session-abc", Created: time.Now()}, nil
}

// fakeStrategies builds inert strategies, optionally stalling joins of
// specific usernames.
type fakeStrategies struct {
	mu     sync.Mutex
	delays map[string]time.Duration
}

func (f *fakeStrategies) delayFor(username string, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[username] = delay
}

func (f *fakeStrategies) factory(spec api.ParticipantSpec) (participant.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &inertStrategy{joinDelay: f.delays[spec.Username]}, nil
}

type inertStrategy struct {
	joinDelay time.Duration
}

func (s *inertStrategy) Authenticate(context.Context, *credentials.Credential) error { return nil }

func (s *inertStrategy) Join(ctx context.Context, spec api.ParticipantSpec) error {
	if s.joinDelay > 0 {
		select {
		case <-time.After(s.joinDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *inertStrategy) Leave(context.Context) error                                     { return nil }
func (s *inertStrategy) SetAudio(context.Context, bool) error                            { return nil }
func (s *inertStrategy) SetVideo(context.Context, bool) error                            { return nil }
func (s *inertStrategy) SetScreenshare(context.Context, bool) error                      { return nil }
func (s *inertStrategy) SetNoiseSuppression(context.Context, api.NoiseSuppression) error { return nil }
func (s *inertStrategy) SetResolution(context.Context, api.Resolution) error             { return nil }
func (s *inertStrategy) SetBackgroundBlur(context.Context, bool) error                   { return nil }
func (s *inertStrategy) Close(context.Context) error                                     { return nil }
