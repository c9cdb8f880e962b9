package gateway

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/internal/common/util"
	"github.com/hypervideo/client-simulator/internal/simulator/configuration"
	"github.com/hypervideo/client-simulator/internal/simulator/participant"
	"github.com/hypervideo/client-simulator/internal/simulator/participant/protocol"
	"github.com/hypervideo/client-simulator/internal/simulator/participant/surface"
	"github.com/hypervideo/client-simulator/internal/simulator/registry"
	"github.com/hypervideo/client-simulator/pkg/api"
)

// StrategyFactory produces the strategy backing a new participant.
type StrategyFactory func(spec api.ParticipantSpec) (participant.Strategy, error)

// Gateway is the process boundary of one worker: it spawns participants into
// the local registry, routes commands to them by their external ids and
// aggregates their events for external subscribers. Callers on different
// participants never block each other; the per-actor command channels do all
// the serialization.
type Gateway struct {
	ctx        context.Context
	registry   *registry.Registry
	strategies StrategyFactory
	deps       participant.Dependencies
	hub        *hub
}

func New(
	ctx context.Context,
	reg *registry.Registry,
	credentials participant.CredentialSource,
	config configuration.ParticipantConfig,
	strategies StrategyFactory,
) *Gateway {
	return &Gateway{
		ctx:        ctx,
		registry:   reg,
		strategies: strategies,
		deps: participant.Dependencies{
			Credentials: credentials,
			Config:      config,
		},
		hub: newHub(config.EventBuffer),
	}
}

// DefaultStrategyFactory wires the two built-in strategies. surfaceFactory
// may be nil on deployments without a rendering surface; requesting the
// surface strategy then fails at spawn time.
func DefaultStrategyFactory(config configuration.ParticipantConfig, surfaceFactory surface.Factory) StrategyFactory {
	return func(spec api.ParticipantSpec) (participant.Strategy, error) {
		switch spec.Strategy {
		case api.StrategyProtocol, "":
			return protocol.New(spec.SpaceUrl, config.HeartbeatInterval), nil
		case api.StrategySurface:
			if surfaceFactory == nil {
				return nil, errors.WithStack(&simerrors.ErrInvalidArgument{
					Name: "strategy", Value: string(spec.Strategy),
					Message: "this worker has no rendering surface configured",
				})
			}
			return surface.New(surfaceFactory, config.SurfaceAttempts), nil
		default:
			return nil, errors.WithStack(&simerrors.ErrInvalidArgument{
				Name: "strategy", Value: string(spec.Strategy), Message: "unknown strategy",
			})
		}
	}
}

// Spawn creates a participant and registers it under a fresh id. The spec's
// unset media settings are filled from the worker's defaults.
func (g *Gateway) Spawn(ctx context.Context, spec api.ParticipantSpec) (api.ParticipantState, error) {
	spec.Settings = mergeSettings(g.deps.Config.DefaultSettings, spec.Settings)

	strategy, err := g.strategies(spec)
	if err != nil {
		return api.ParticipantState{}, err
	}

	// The actor is bound to the gateway context, not the request context:
	// it outlives the spawn call.
	handle, err := participant.Spawn(g.ctx, util.NewULID(), spec, strategy, g.deps)
	if err != nil {
		return api.ParticipantState{}, err
	}
	if err := g.registry.Add(handle); err != nil {
		_ = handle.Close(ctx)
		return api.ParticipantState{}, err
	}
	go g.pipe(handle)

	log.WithField("participant", handle.Id()).Infof("Spawned participant %s for %s", handle.Id(), spec.Username)
	return handle.State(), nil
}

// Send routes a command to one participant.
func (g *Gateway) Send(ctx context.Context, id string, cmd api.Command) error {
	handle, err := g.registry.Lookup(id)
	if err != nil {
		return err
	}
	return handle.Send(ctx, cmd)
}

// Close closes one participant. Unknown ids are treated as already closed,
// so closing is idempotent from the caller's point of view.
func (g *Gateway) Close(ctx context.Context, id string) error {
	handle, err := g.registry.Lookup(id)
	if err != nil {
		var notFound *simerrors.ErrNotFound
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return handle.Close(ctx)
}

// Get returns the snapshot of one participant.
func (g *Gateway) Get(id string) (api.ParticipantState, error) {
	handle, err := g.registry.Lookup(id)
	if err != nil {
		return api.ParticipantState{}, err
	}
	return handle.State(), nil
}

// List returns a snapshot of every participant on this worker, terminal
// ones included.
func (g *Gateway) List() []api.ParticipantState {
	return g.registry.States()
}

// Subscribe follows the aggregated event stream, optionally filtered down
// to one participant.
func (g *Gateway) Subscribe(participantId string) (<-chan api.Event, func()) {
	return g.hub.subscribe(participantId)
}

// Shutdown closes every participant and ends all event subscriptions.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.registry.CloseAll(ctx)
	g.hub.shutdown()
	return err
}

// pipe forwards one participant's events into the aggregated hub until the
// participant terminates.
func (g *Gateway) pipe(handle *participant.Handle) {
	for event := range handle.Events(g.ctx) {
		g.hub.publish(event)
	}
}

// mergeSettings fills the unset enum fields of overrides from the worker
// defaults. Boolean media flags are taken from overrides as-is; a spawn
// request always states them explicitly.
func mergeSettings(defaults, overrides api.ParticipantSettings) api.ParticipantSettings {
	if overrides.FakeMedia == "" {
		overrides.FakeMedia = defaults.FakeMedia
	}
	if overrides.Resolution == "" {
		overrides.Resolution = defaults.Resolution
	}
	if overrides.NoiseSuppression == "" {
		overrides.NoiseSuppression = defaults.NoiseSuppression
	}
	if overrides.Transport == "" {
		overrides.Transport = defaults.Transport
	}
	return overrides.WithDefaults()
}
