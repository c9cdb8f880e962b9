package participant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/internal/common/util"
	"github.com/hypervideo/client-simulator/internal/simulator/configuration"
	"github.com/hypervideo/client-simulator/internal/simulator/credentials"
	"github.com/hypervideo/client-simulator/pkg/api"
)

var legalTransitions = map[api.Stage][]api.Stage{
	api.StageSpawned:       {api.StageAuthenticated, api.StageClosed, api.StageFailed},
	api.StageAuthenticated: {api.StageJoined, api.StageClosed, api.StageFailed},
	api.StageJoined:        {api.StageActive, api.StageClosed, api.StageFailed},
	api.StageActive:        {api.StageActive, api.StageJoined, api.StageClosed, api.StageFailed},
}

func TestJoinLifecycle(t *testing.T) {
	p := spawnTestParticipant(t, nil)

	require.NoError(t, p.handle.Send(context.Background(), api.Command{Kind: api.CommandJoin}))

	assert.Equal(t, api.StageAuthenticated, nextState(t, p.events).Stage)
	assert.Equal(t, api.StageJoined, nextState(t, p.events).Stage)

	state := nextState(t, p.events)
	assert.Equal(t, api.StageActive, state.Stage)
	assert.False(t, state.Muted)
	assert.False(t, state.VideoOn)
	assert.Equal(t, []string{"authenticate", "join"}, p.strategy.callNames())
}

func TestStateSequencesFollowTheLifecycleGraph(t *testing.T) {
	p := spawnTestParticipant(t, nil)
	ctx := context.Background()

	var observed []api.Stage
	record := func(state api.ParticipantState) api.ParticipantState {
		observed = append(observed, state.Stage)
		return state
	}

	record(nextState(t, p.events)) // Authenticated

	require.NoError(t, p.handle.Send(ctx, api.Command{Kind: api.CommandJoin}))
	record(nextState(t, p.events)) // Joined
	record(nextState(t, p.events)) // Active

	require.NoError(t, p.handle.Send(ctx, api.Command{Kind: api.CommandToggleVideo}))
	state := record(nextState(t, p.events))
	assert.True(t, state.VideoOn)

	require.NoError(t, p.handle.Send(ctx, api.Command{Kind: api.CommandToggleAudio}))
	state = record(nextState(t, p.events))
	assert.True(t, state.Muted)

	require.NoError(t, p.handle.Send(ctx, api.Command{Kind: api.CommandSetResolution, Resolution: api.Resolution720p}))
	state = record(nextState(t, p.events))
	assert.Equal(t, api.Resolution720p, state.Resolution)

	require.NoError(t, p.handle.Send(ctx, api.Command{Kind: api.CommandLeave}))
	state = record(nextState(t, p.events))
	assert.Equal(t, api.StageJoined, state.Stage)
	assert.True(t, state.Muted)
	assert.False(t, state.VideoOn)

	require.NoError(t, p.handle.Close(ctx))
	record(nextState(t, p.events))

	previous := api.StageSpawned
	for _, stage := range observed {
		assert.Containsf(t, legalTransitions[previous], stage,
			"illegal transition %s -> %s in %v", previous, stage, observed)
		previous = stage
	}
	assert.Equal(t, api.StageClosed, previous)
}

func TestCredentialFailureIsTerminal(t *testing.T) {
	p := spawnTestParticipant(t, func(s *fakeStrategy, c *fakeCredentials) {
		c.err = &simerrors.ErrCredential{Username: "alice", Message: "login flow failed"}
	})

	waitForStage(t, p.handle, api.StageFailed)

	state := p.handle.State()
	assert.Equal(t, api.StageSpawned, state.LastStage)
	assert.False(t, state.Forced)
	assert.Contains(t, state.FailureReason, "alice")
	assert.Empty(t, p.strategy.callNames(), "no strategy call should happen without credentials")
}

func TestCloseDuringAuthenticatedSkipsJoin(t *testing.T) {
	p := spawnTestParticipant(t, nil)
	waitForStage(t, p.handle, api.StageAuthenticated)

	require.NoError(t, p.handle.Close(context.Background()))
	assert.Equal(t, api.StageClosed, p.handle.State().Stage)

	stages := drainStages(p.events)
	assert.NotContains(t, stages, api.StageJoined)
	assert.Contains(t, stages, api.StageClosed)
	assert.NotContains(t, p.strategy.callNames(), "join")
	assert.NotContains(t, p.strategy.callNames(), "leave")
}

func TestCloseIsIdempotent(t *testing.T) {
	p := spawnTestParticipant(t, nil)
	ctx := context.Background()

	require.NoError(t, p.handle.Close(ctx))
	require.NoError(t, p.handle.Close(ctx))
	require.NoError(t, p.handle.Send(ctx, api.Command{Kind: api.CommandClose}))

	closedEvents := 0
	for _, stage := range drainStages(p.events) {
		if stage == api.StageClosed {
			closedEvents++
		}
	}
	assert.Equal(t, 1, closedEvents)
}

func TestMediaToggleBeforeJoinIsRejected(t *testing.T) {
	p := spawnTestParticipant(t, nil)
	waitForStage(t, p.handle, api.StageAuthenticated)

	err := p.handle.Send(context.Background(), api.Command{Kind: api.CommandToggleAudio})
	var invalidState *simerrors.ErrInvalidState
	require.True(t, errors.As(err, &invalidState))
	assert.False(t, invalidState.Terminal)
}

func TestJoinAfterJoinedIsRejected(t *testing.T) {
	p := spawnTestParticipant(t, nil)
	ctx := context.Background()

	require.NoError(t, p.handle.Send(ctx, api.Command{Kind: api.CommandJoin}))
	waitForStage(t, p.handle, api.StageActive)

	err := p.handle.Send(ctx, api.Command{Kind: api.CommandJoin})
	var invalidState *simerrors.ErrInvalidState
	assert.True(t, errors.As(err, &invalidState))
}

func TestJoinFailureIsTerminal(t *testing.T) {
	p := spawnTestParticipant(t, func(s *fakeStrategy, c *fakeCredentials) {
		s.joinErr = &simerrors.ErrTimeout{Op: "join", Timeout: time.Second}
	})
	require.NoError(t, p.handle.Send(context.Background(), api.Command{Kind: api.CommandJoin}))

	waitForStage(t, p.handle, api.StageFailed)
	state := p.handle.State()
	assert.Equal(t, api.StageAuthenticated, state.LastStage)
	assert.False(t, state.Forced)
}

func TestCloseForcesTerminationWhenStrategyHangs(t *testing.T) {
	p := spawnTestParticipant(t, func(s *fakeStrategy, c *fakeCredentials) {
		s.joinDelay = 10 * time.Second
	})
	ctx := context.Background()

	require.NoError(t, p.handle.Send(ctx, api.Command{Kind: api.CommandJoin}))
	p.strategy.waitForCall(t, "join")

	require.NoError(t, p.handle.Close(ctx))

	state := p.handle.State()
	assert.Equal(t, api.StageFailed, state.Stage)
	assert.True(t, state.Forced)
	assert.GreaterOrEqual(t, p.strategy.closeCalls(), 1, "resources must be released on forced close")
}

func TestTerminalParticipantRejectsCommands(t *testing.T) {
	p := spawnTestParticipant(t, nil)
	ctx := context.Background()
	require.NoError(t, p.handle.Close(ctx))

	err := p.handle.Send(ctx, api.Command{Kind: api.CommandJoin})
	var invalidState *simerrors.ErrInvalidState
	require.True(t, errors.As(err, &invalidState))
	assert.True(t, invalidState.Terminal)
}

func TestSendValidatesCommandArguments(t *testing.T) {
	p := spawnTestParticipant(t, nil)
	ctx := context.Background()

	var invalidArg *simerrors.ErrInvalidArgument
	err := p.handle.Send(ctx, api.Command{Kind: api.CommandSetNoiseSuppression})
	assert.True(t, errors.As(err, &invalidArg))

	err = p.handle.Send(ctx, api.Command{Kind: api.CommandSetResolution})
	assert.True(t, errors.As(err, &invalidArg))

	err = p.handle.Send(ctx, api.Command{})
	assert.True(t, errors.As(err, &invalidArg))
}

func TestSpawnValidatesIdentity(t *testing.T) {
	deps := Dependencies{Credentials: &fakeCredentials{}}
	var invalidArg *simerrors.ErrInvalidArgument

	_, err := Spawn(context.Background(), util.NewULID(), api.ParticipantSpec{SpaceUrl: "https://x"}, &fakeStrategy{}, deps)
	assert.True(t, errors.As(err, &invalidArg))

	_, err = Spawn(context.Background(), util.NewULID(), api.ParticipantSpec{Username: "alice"}, &fakeStrategy{}, deps)
	assert.True(t, errors.As(err, &invalidArg))
}

// helpers

type testParticipant struct {
	handle   *Handle
	strategy *fakeStrategy
	creds    *fakeCredentials
	events   <-chan api.Event
}

func spawnTestParticipant(t *testing.T, mutate func(*fakeStrategy, *fakeCredentials)) *testParticipant {
	t.Helper()

	strategy := &fakeStrategy{calls: make(chan string, 64)}
	creds := &fakeCredentials{release: make(chan struct{})}
	if mutate != nil {
		mutate(strategy, creds)
	}

	handle, err := Spawn(context.Background(), util.NewULID(), api.ParticipantSpec{
		Username: "alice",
		SpaceUrl: "https://meet.example.com/spaces/standup",
		Strategy: api.StrategyProtocol,
		Settings: api.ParticipantSettings{Audio: true},
	}, strategy, Dependencies{
		Credentials: creds,
		Config: configuration.ParticipantConfig{
			JoinTimeout:    2 * time.Second,
			CommandTimeout: time.Second,
			CloseGrace:     300 * time.Millisecond,
		},
	})
	require.NoError(t, err)

	events := handle.Events(context.Background())
	close(creds.release)
	t.Cleanup(func() { _ = handle.Close(context.Background()) })

	return &testParticipant{handle: handle, strategy: strategy, creds: creds, events: events}
}

func nextState(t *testing.T, events <-chan api.Event) api.ParticipantState {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-events:
			require.True(t, ok, "event stream closed while waiting for a state event")
			if event.Kind == api.EventKindStateChanged {
				return *event.State
			}
		case <-deadline:
			t.Fatal("timed out waiting for a state event")
		}
	}
}

// drainStages reads the stream to the end, which requires the participant to
// have terminated.
func drainStages(events <-chan api.Event) []api.Stage {
	var stages []api.Stage
	for event := range events {
		if event.Kind == api.EventKindStateChanged {
			stages = append(stages, event.State.Stage)
		}
	}
	return stages
}

func waitForStage(t *testing.T, handle *Handle, stage api.Stage) {
	t.Helper()
	require.Eventually(t, func() bool {
		return handle.State().Stage == stage
	}, 5*time.Second, 5*time.Millisecond, "participant never reached stage %s", stage)
}

type fakeCredentials struct {
	mu      sync.Mutex
	gets    int
	err     error
	release chan struct{}
}

func (f *fakeCredentials) Get(ctx context.Context, username string) (*credentials.Credential, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.gets++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &credentials.Credential{Username: username, SessionCookie: "session-abc", Created: time.Now()}, nil
}

type fakeStrategy struct {
	mu        sync.Mutex
	names     []string
	calls     chan string
	closed    int
	joinErr   error
	leaveErr  error
	mediaErr  error
	joinDelay time.Duration
}

func (f *fakeStrategy) record(name string) {
	f.mu.Lock()
	f.names = append(f.names, name)
	f.mu.Unlock()
	if f.calls != nil {
		select {
		case f.calls <- name:
		default:
		}
	}
}

func (f *fakeStrategy) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.names))
	copy(names, f.names)
	return names
}

func (f *fakeStrategy) closeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeStrategy) waitForCall(t *testing.T, name string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case called := <-f.calls:
			if called == name {
				return
			}
		case <-deadline:
			t.Fatalf("strategy call %s never happened", name)
		}
	}
}

func (f *fakeStrategy) Authenticate(ctx context.Context, credential *credentials.Credential) error {
	f.record("authenticate")
	return nil
}

func (f *fakeStrategy) Join(ctx context.Context, spec api.ParticipantSpec) error {
	f.record("join")
	if f.joinDelay > 0 {
		select {
		case <-time.After(f.joinDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.joinErr
}

func (f *fakeStrategy) Leave(ctx context.Context) error {
	f.record("leave")
	return f.leaveErr
}

func (f *fakeStrategy) SetAudio(ctx context.Context, enabled bool) error {
	f.record("audio")
	return f.mediaErr
}

func (f *fakeStrategy) SetVideo(ctx context.Context, enabled bool) error {
	f.record("video")
	return f.mediaErr
}

func (f *fakeStrategy) SetScreenshare(ctx context.Context, enabled bool) error {
	f.record("screenshare")
	return f.mediaErr
}

func (f *fakeStrategy) SetNoiseSuppression(ctx context.Context, level api.NoiseSuppression) error {
	f.record("noise-suppression")
	return f.mediaErr
}

func (f *fakeStrategy) SetResolution(ctx context.Context, resolution api.Resolution) error {
	f.record("resolution")
	return f.mediaErr
}

func (f *fakeStrategy) SetBackgroundBlur(ctx context.Context, enabled bool) error {
	f.record("blur")
	return f.mediaErr
}

func (f *fakeStrategy) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}
