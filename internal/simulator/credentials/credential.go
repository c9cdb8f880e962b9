package credentials

import (
	"context"
	"time"
)

// Credential is an authenticated guest session for one username. The session
// cookie is all the conferencing service needs to recognise the participant
// again, so records survive simulator restarts via the stash.
type Credential struct {
	Username      string    `json:"username"`
	SessionCookie string    `json:"sessionCookie"`
	Created       time.Time `json:"created"`
}

// Stash is the durable backend behind the credential store. Implementations
// must be safe for concurrent use. A record that cannot be decoded is
// reported as absent, not as an error.
type Stash interface {
	Get(ctx context.Context, username string) (*Credential, bool, error)
	Put(ctx context.Context, credential *Credential) error
	Delete(ctx context.Context, username string) error
	Close() error
}
