package participant

import (
	"context"

	"github.com/hypervideo/client-simulator/internal/simulator/credentials"
	"github.com/hypervideo/client-simulator/pkg/api"
)

// Strategy is the mechanism a participant uses to take part in a session,
// either a full remote-controlled rendering surface or a direct protocol
// connection. One strategy instance belongs to exactly one actor, which
// serializes all calls onto it.
//
// Join carries out the complete entry flow including the initial media
// state from the spec settings. Close releases all resources and must be
// safe to call more than once and after failures.
type Strategy interface {
	Authenticate(ctx context.Context, credential *credentials.Credential) error
	Join(ctx context.Context, spec api.ParticipantSpec) error
	Leave(ctx context.Context) error
	SetAudio(ctx context.Context, enabled bool) error
	SetVideo(ctx context.Context, enabled bool) error
	SetScreenshare(ctx context.Context, enabled bool) error
	SetNoiseSuppression(ctx context.Context, level api.NoiseSuppression) error
	SetResolution(ctx context.Context, resolution api.Resolution) error
	SetBackgroundBlur(ctx context.Context, enabled bool) error
	Close(ctx context.Context) error
}

// CredentialSource yields working session credentials for a username.
// *credentials.Store is the production implementation.
type CredentialSource interface {
	Get(ctx context.Context, username string) (*credentials.Credential, error)
}

// commandAllowed is the legality table of the participant state machine.
// Close is legal from every non-terminal stage; terminal stages are handled
// before this table is consulted.
func commandAllowed(kind api.CommandKind, stage api.Stage) bool {
	switch kind {
	case api.CommandJoin:
		return stage == api.StageSpawned || stage == api.StageAuthenticated
	case api.CommandLeave:
		return stage == api.StageActive
	case api.CommandToggleAudio,
		api.CommandToggleVideo,
		api.CommandToggleScreenshare,
		api.CommandSetNoiseSuppression,
		api.CommandSetResolution,
		api.CommandToggleBackgroundBlur:
		return stage == api.StageActive
	case api.CommandClose:
		return true
	}
	return false
}
