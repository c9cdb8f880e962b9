package participant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/hypervideo/client-simulator/internal/common/logging"
	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/internal/simulator/configuration"
	"github.com/hypervideo/client-simulator/internal/simulator/metrics"
	"github.com/hypervideo/client-simulator/pkg/api"
)

type Dependencies struct {
	Credentials CredentialSource
	Config      configuration.ParticipantConfig
}

// Handle is the only way to interact with a participant actor. One goroutine
// owns all participant state; commands are handed over by channel and applied
// in arrival order, so callers never contend on anything but the snapshot
// lock.
type Handle struct {
	id       string
	spec     api.ParticipantSpec
	strategy Strategy

	credentials CredentialSource
	config      configuration.ParticipantConfig

	mu    sync.RWMutex
	state api.ParticipantState

	commands  chan api.Command
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	broker *broker
}

// Spawn allocates the participant in the Spawned stage and starts its run
// loop. Authentication begins immediately; a credential failure surfaces as
// a terminal Failed stage without any join attempt.
func Spawn(ctx context.Context, id string, spec api.ParticipantSpec, strategy Strategy, deps Dependencies) (*Handle, error) {
	if spec.Username == "" {
		return nil, &simerrors.ErrInvalidArgument{Name: "username", Value: spec.Username, Message: "cannot be empty"}
	}
	if spec.SpaceUrl == "" {
		return nil, &simerrors.ErrInvalidArgument{Name: "spaceUrl", Value: spec.SpaceUrl, Message: "cannot be empty"}
	}
	if deps.Credentials == nil {
		return nil, &simerrors.ErrInternal{Message: "participant spawned without a credential source"}
	}

	config := normalizeConfig(deps.Config)
	actorCtx, cancel := context.WithCancel(ctx)
	settings := spec.Settings.WithDefaults()
	spec.Settings = settings

	h := &Handle{
		id:          id,
		spec:        spec,
		strategy:    strategy,
		credentials: deps.Credentials,
		config:      config,
		commands:    make(chan api.Command, config.CommandBuffer),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
		ctx:         actorCtx,
		cancel:      cancel,
		broker:      newBroker(config.EventBuffer),
		state: api.ParticipantState{
			Id:               id,
			Username:         spec.Username,
			Stage:            api.StageSpawned,
			Muted:            !settings.Audio,
			VideoOn:          settings.Video,
			ScreensharingOn:  settings.Screenshare,
			NoiseSuppression: settings.NoiseSuppression,
			Resolution:       settings.Resolution,
			Transport:        settings.Transport,
			BackgroundBlur:   settings.BackgroundBlur,
		},
	}

	metrics.RecordSpawned(string(spec.Strategy))
	go h.run()
	return h, nil
}

func (h *Handle) Id() string {
	return h.id
}

// State returns the current snapshot of stage and media flags.
func (h *Handle) State() api.ParticipantState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Send enqueues a command. It fails fast with ErrInvalidState when the
// command is illegal for the current stage; the actor checks again at
// execution time and reports late violations as error events. Closing an
// already closed participant is a no-op.
func (h *Handle) Send(ctx context.Context, cmd api.Command) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	state := h.State()
	if state.Stage.Terminal() {
		if cmd.Kind == api.CommandClose {
			return nil
		}
		return &simerrors.ErrInvalidState{
			Id: h.id, Stage: string(state.Stage), Command: string(cmd.Kind), Terminal: true,
		}
	}
	if !commandAllowed(cmd.Kind, state.Stage) {
		return &simerrors.ErrInvalidState{
			Id: h.id, Stage: string(state.Stage), Command: string(cmd.Kind),
		}
	}

	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		if cmd.Kind == api.CommandClose {
			return nil
		}
		return &simerrors.ErrInvalidState{
			Id: h.id, Stage: string(h.State().Stage), Command: string(cmd.Kind), Terminal: true,
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events subscribes to the participant's event stream from now on. The
// channel closes when ctx is cancelled or the participant terminates.
func (h *Handle) Events(ctx context.Context) <-chan api.Event {
	ch, cancel := h.broker.subscribe()
	go func() {
		select {
		case <-ctx.Done():
		case <-h.done:
		}
		cancel()
	}()
	return ch
}

// Close asks the actor to leave gracefully and waits for it to terminate.
// If the actor does not finish within the close grace period it is torn
// down forcefully. Safe to call any number of times.
func (h *Handle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() { close(h.closing) })

	timer := time.NewTimer(h.config.CloseGrace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
		h.cancel()
		<-h.done
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done closes once the actor has terminated and all resources are released.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) run() {
	defer close(h.done)
	defer h.teardown()

	if err := h.authenticate(); err != nil {
		h.fail(err, false)
		return
	}

	for {
		select {
		case <-h.ctx.Done():
			h.fail(errors.New("participant context cancelled"), true)
			return
		case <-h.closing:
			h.close()
			return
		case cmd := <-h.commands:
			if terminal := h.execute(cmd); terminal {
				return
			}
		}
	}
}

func (h *Handle) authenticate() error {
	credential, err := h.credentials.Get(h.ctx, h.spec.Username)
	if err != nil {
		return err
	}
	if err := h.strategy.Authenticate(h.ctx, credential); err != nil {
		return err
	}
	h.setStage(api.StageAuthenticated)
	h.logEventf("info", "authenticated as %s", h.spec.Username)
	return nil
}

func (h *Handle) execute(cmd api.Command) (terminal bool) {
	stage := h.State().Stage
	if !commandAllowed(cmd.Kind, stage) {
		metrics.RecordCommandRejected(string(cmd.Kind))
		h.publishError(&simerrors.ErrInvalidState{
			Id: h.id, Stage: string(stage), Command: string(cmd.Kind),
		})
		return false
	}

	if cmd.Kind == api.CommandClose {
		h.close()
		return true
	}

	start := time.Now()
	err := h.apply(cmd)
	metrics.RecordCommand(string(cmd.Kind), err, time.Since(start))
	if err == nil {
		return false
	}

	if h.ctx.Err() != nil {
		h.fail(errors.Errorf("closed forcefully during %s", cmd.Kind), true)
		return true
	}
	var invalidState *simerrors.ErrInvalidState
	if errors.As(err, &invalidState) {
		// The strategy cannot do this, e.g. background blur over the
		// protocol connection. Not fatal.
		h.publishError(err)
		return false
	}
	if cmd.Kind == api.CommandJoin || cmd.Kind == api.CommandLeave {
		h.fail(err, false)
		return true
	}
	h.publishError(err)
	return false
}

func (h *Handle) apply(cmd api.Command) error {
	switch cmd.Kind {
	case api.CommandJoin:
		return h.join()
	case api.CommandLeave:
		return h.leave()
	case api.CommandToggleAudio:
		return h.toggleAudio()
	case api.CommandToggleVideo:
		return h.toggleVideo()
	case api.CommandToggleScreenshare:
		return h.toggleScreenshare()
	case api.CommandSetNoiseSuppression:
		return h.setNoiseSuppression(cmd.NoiseSuppression)
	case api.CommandSetResolution:
		return h.setResolution(cmd.Resolution)
	case api.CommandToggleBackgroundBlur:
		return h.toggleBackgroundBlur()
	default:
		return &simerrors.ErrInvalidArgument{Name: "kind", Value: string(cmd.Kind), Message: "unknown command"}
	}
}

func (h *Handle) join() error {
	ctx, cancel := context.WithTimeout(h.ctx, h.config.JoinTimeout)
	defer cancel()
	h.logEventf("info", "joining %s", h.spec.SpaceUrl)
	if err := h.strategy.Join(ctx, h.spec); err != nil {
		return err
	}
	h.setStage(api.StageJoined)
	h.setStage(api.StageActive)
	return nil
}

// leave exits the call but keeps the session, landing back in Joined.
func (h *Handle) leave() error {
	ctx, cancel := context.WithTimeout(h.ctx, h.config.JoinTimeout)
	defer cancel()
	if err := h.strategy.Leave(ctx); err != nil {
		return err
	}
	log.WithField("participant", h.id).Infof("Participant %s entered stage %s", h.spec.Username, api.StageJoined)
	h.transition(func(state *api.ParticipantState) {
		state.Stage = api.StageJoined
		state.Muted = true
		state.VideoOn = false
		state.ScreensharingOn = false
	})
	return nil
}

func (h *Handle) toggleAudio() error {
	ctx, cancel := h.commandContext()
	defer cancel()
	enable := h.State().Muted
	if err := h.strategy.SetAudio(ctx, enable); err != nil {
		return err
	}
	h.transition(func(state *api.ParticipantState) { state.Muted = !enable })
	return nil
}

func (h *Handle) toggleVideo() error {
	ctx, cancel := h.commandContext()
	defer cancel()
	enable := !h.State().VideoOn
	if err := h.strategy.SetVideo(ctx, enable); err != nil {
		return err
	}
	h.transition(func(state *api.ParticipantState) { state.VideoOn = enable })
	return nil
}

func (h *Handle) toggleScreenshare() error {
	ctx, cancel := h.commandContext()
	defer cancel()
	enable := !h.State().ScreensharingOn
	if err := h.strategy.SetScreenshare(ctx, enable); err != nil {
		return err
	}
	h.transition(func(state *api.ParticipantState) { state.ScreensharingOn = enable })
	return nil
}

func (h *Handle) setNoiseSuppression(level api.NoiseSuppression) error {
	ctx, cancel := h.commandContext()
	defer cancel()
	if err := h.strategy.SetNoiseSuppression(ctx, level); err != nil {
		return err
	}
	h.transition(func(state *api.ParticipantState) { state.NoiseSuppression = level })
	return nil
}

func (h *Handle) setResolution(resolution api.Resolution) error {
	ctx, cancel := h.commandContext()
	defer cancel()
	if err := h.strategy.SetResolution(ctx, resolution); err != nil {
		return err
	}
	h.transition(func(state *api.ParticipantState) { state.Resolution = resolution })
	return nil
}

func (h *Handle) toggleBackgroundBlur() error {
	ctx, cancel := h.commandContext()
	defer cancel()
	enable := !h.State().BackgroundBlur
	if err := h.strategy.SetBackgroundBlur(ctx, enable); err != nil {
		return err
	}
	h.transition(func(state *api.ParticipantState) { state.BackgroundBlur = enable })
	return nil
}

// close performs the graceful half of teardown: one leave attempt within
// the grace period. Resource release happens unconditionally in teardown.
func (h *Handle) close() {
	ctx, cancel := context.WithTimeout(h.ctx, h.config.CloseGrace)
	defer cancel()

	if h.State().Stage == api.StageActive {
		if err := h.strategy.Leave(ctx); err != nil {
			if h.ctx.Err() != nil {
				h.fail(errors.New("close was forced before the participant could leave"), true)
				return
			}
			h.publishError(errors.Wrap(err, "graceful leave during close failed"))
		}
	}
	h.setStage(api.StageClosed)
}

func (h *Handle) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.strategy.Close(ctx); err != nil {
		log.WithField("participant", h.id).Warnf("Error releasing participant resources: %v", err)
	}
	if !h.State().Stage.Terminal() {
		h.fail(errors.New("participant run loop exited unexpectedly"), true)
	}
	h.broker.shutdown()
	metrics.RecordTerminated()
}

func (h *Handle) fail(cause error, forced bool) {
	h.mu.Lock()
	if h.state.Stage.Terminal() {
		h.mu.Unlock()
		return
	}
	h.state.LastStage = h.state.Stage
	h.state.Stage = api.StageFailed
	h.state.FailureReason = cause.Error()
	h.state.Forced = forced
	snapshot := h.state
	h.mu.Unlock()

	logging.WithStacktrace(log.WithField("participant", h.id), cause).Error("Participant failed")
	metrics.RecordFailure(string(snapshot.LastStage))
	h.broker.publish(api.NewErrorEvent(h.id, cause.Error()))
	h.broker.publish(api.NewStateChangedEvent(h.id, &snapshot))
}

func (h *Handle) setStage(stage api.Stage) {
	log.WithField("participant", h.id).Infof("Participant %s entered stage %s", h.spec.Username, stage)
	h.transition(func(state *api.ParticipantState) { state.Stage = stage })
}

func (h *Handle) transition(mutate func(state *api.ParticipantState)) {
	h.mu.Lock()
	mutate(&h.state)
	snapshot := h.state
	h.mu.Unlock()
	h.broker.publish(api.NewStateChangedEvent(h.id, &snapshot))
}

func (h *Handle) publishError(err error) {
	log.WithField("participant", h.id).Warnf("Participant command error: %v", err)
	h.broker.publish(api.NewErrorEvent(h.id, err.Error()))
}

func (h *Handle) logEventf(level string, format string, args ...interface{}) {
	h.broker.publish(api.NewLogEvent(h.id, level, fmt.Sprintf(format, args...)))
}

func validateCommand(cmd api.Command) error {
	switch cmd.Kind {
	case "":
		return &simerrors.ErrInvalidArgument{Name: "kind", Value: "", Message: "command kind is required"}
	case api.CommandSetNoiseSuppression:
		if cmd.NoiseSuppression == "" {
			return &simerrors.ErrInvalidArgument{Name: "noiseSuppression", Value: "", Message: "set-noise-suppression requires a level"}
		}
	case api.CommandSetResolution:
		if cmd.Resolution == "" {
			return &simerrors.ErrInvalidArgument{Name: "resolution", Value: "", Message: "set-resolution requires a resolution"}
		}
	}
	return nil
}

func normalizeConfig(config configuration.ParticipantConfig) configuration.ParticipantConfig {
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = 30 * time.Second
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = 10 * time.Second
	}
	if config.CloseGrace <= 0 {
		config.CloseGrace = 10 * time.Second
	}
	if config.SurfaceAttempts == 0 {
		config.SurfaceAttempts = 5
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 20 * time.Second
	}
	if config.CommandBuffer <= 0 {
		config.CommandBuffer = 16
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 256
	}
	return config
}

func (h *Handle) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.ctx, h.config.CommandTimeout)
}
