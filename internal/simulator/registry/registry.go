package registry

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/internal/simulator/configuration"
	"github.com/hypervideo/client-simulator/internal/simulator/participant"
	"github.com/hypervideo/client-simulator/pkg/api"
)

// Registry is the process-local table of live participant actors. Only the
// id-to-handle mapping is guarded here; the handles themselves own all
// participant state. Ids are ULIDs assigned at spawn time and are never
// handed out twice within process lifetime, so a command addressed to a
// removed participant can only ever miss, not reach a newer one.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*participant.Handle
	limit        int
}

func New(config configuration.RegistryConfig) *Registry {
	return &Registry{
		participants: map[string]*participant.Handle{},
		limit:        config.MaxParticipants,
	}
}

// Add registers a spawned participant under its id.
func (r *Registry) Add(handle *participant.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.participants) >= r.limit {
		return errors.WithStack(&simerrors.ErrInvalidArgument{
			Name: "maxParticipants", Value: r.limit, Message: "this worker is at its participant limit",
		})
	}
	if _, exists := r.participants[handle.Id()]; exists {
		return errors.WithStack(&simerrors.ErrAlreadyExists{Type: "participant", Value: handle.Id()})
	}
	r.participants[handle.Id()] = handle
	return nil
}

func (r *Registry) Lookup(id string) (*participant.Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.participants[id]
	if !ok {
		return nil, errors.WithStack(&simerrors.ErrNotFound{Type: "participant", Value: id})
	}
	return handle, nil
}

// Remove forgets the participant. The id stays burnt.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, id)
}

// List returns the registered handles in no particular order.
func (r *Registry) List() []*participant.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]*participant.Handle, 0, len(r.participants))
	for _, handle := range r.participants {
		handles = append(handles, handle)
	}
	return handles
}

// States returns a snapshot of every registered participant.
func (r *Registry) States() []api.ParticipantState {
	handles := r.List()
	states := make([]api.ParticipantState, 0, len(handles))
	for _, handle := range handles {
		states = append(states, handle.State())
	}
	return states
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// CloseAll closes every registered participant concurrently and waits for
// all of them, bounded by ctx.
func (r *Registry) CloseAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, handle := range r.List() {
		handle := handle
		g.Go(func() error {
			return handle.Close(ctx)
		})
	}
	return g.Wait()
}
