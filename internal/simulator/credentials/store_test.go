package credentials

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/internal/simulator/configuration"
)

func TestStoreCachesCredentials(t *testing.T) {
	auth := &fakeAuthClient{}
	store := newTestStore(t, auth)
	ctx := context.Background()

	first, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	second, err := store.Get(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, first.SessionCookie, second.SessionCookie)
	assert.Equal(t, 1, auth.loginCount())
}

func TestStoreCollapsesConcurrentLogins(t *testing.T) {
	auth := &fakeAuthClient{loginDelay: 50 * time.Millisecond}
	store := newTestStore(t, auth)
	ctx := context.Background()

	var wg sync.WaitGroup
	cookies := make([]string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			credential, err := store.Get(ctx, "alice")
			require.NoError(t, err)
			cookies[i] = credential.SessionCookie
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, auth.loginCount())
	for _, cookie := range cookies {
		assert.Equal(t, cookies[0], cookie)
	}
}

func TestStoreReusesStashedSession(t *testing.T) {
	auth := &fakeAuthClient{valid: true}
	stash := newTestFileStash(t)
	ctx := context.Background()
	require.NoError(t, stash.Put(ctx, &Credential{Username: "alice", SessionCookie: "stashed-cookie"}))

	store := NewStore(auth, stash, configuration.CredentialsConfig{})
	credential, err := store.Get(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, "stashed-cookie", credential.SessionCookie)
	assert.Equal(t, 0, auth.loginCount())
	assert.Equal(t, 1, auth.validateCount())
}

func TestStoreReplacesRejectedSession(t *testing.T) {
	auth := &fakeAuthClient{valid: false}
	stash := newTestFileStash(t)
	ctx := context.Background()
	require.NoError(t, stash.Put(ctx, &Credential{Username: "alice", SessionCookie: "stale-cookie"}))

	store := NewStore(auth, stash, configuration.CredentialsConfig{})
	credential, err := store.Get(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, auth.loginCount())
	assert.NotEqual(t, "stale-cookie", credential.SessionCookie)

	stashed, ok, err := stash.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, credential.SessionCookie, stashed.SessionCookie)
}

func TestStoreRetriesWhenServiceUnreachable(t *testing.T) {
	auth := &fakeAuthClient{
		loginErrs: []error{&simerrors.ErrUnreachable{Endpoint: "http://example.com", Message: "connection refused"}},
	}
	store := newTestStore(t, auth)

	credential, err := store.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, credential.SessionCookie)
	assert.Equal(t, 2, auth.loginCount())
}

func TestStoreDoesNotRetryRejectedLogin(t *testing.T) {
	auth := &fakeAuthClient{
		loginErrs: []error{&simerrors.ErrCredential{Username: "alice", Message: "guest login returned status 429"}},
	}
	store := newTestStore(t, auth)

	_, err := store.Get(context.Background(), "alice")
	var credErr *simerrors.ErrCredential
	assert.True(t, errors.As(err, &credErr))
	assert.Equal(t, 1, auth.loginCount())
}

func TestStoreInvalidate(t *testing.T) {
	auth := &fakeAuthClient{}
	store := newTestStore(t, auth)
	ctx := context.Background()

	_, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, store.Invalidate(ctx, "alice"))

	_, err = store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, auth.loginCount())
}

func TestStoreSurvivesBrokenStash(t *testing.T) {
	auth := &fakeAuthClient{}
	store := NewStore(auth, erroringStash{}, configuration.CredentialsConfig{})

	credential, err := store.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, credential.SessionCookie)
}

func newTestStore(t *testing.T, auth AuthClient) *Store {
	t.Helper()
	stash, err := NewFileStash(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	return NewStore(auth, stash, configuration.CredentialsConfig{})
}

type fakeAuthClient struct {
	mu         sync.Mutex
	logins     int
	validates  int
	loginErrs  []error
	valid      bool
	loginDelay time.Duration
}

func (f *fakeAuthClient) GuestLogin(ctx context.Context, username string) (*Credential, error) {
	f.mu.Lock()
	n := f.logins
	f.logins++
	f.mu.Unlock()

	if f.loginDelay > 0 {
		time.Sleep(f.loginDelay)
	}
	if n < len(f.loginErrs) && f.loginErrs[n] != nil {
		return nil, f.loginErrs[n]
	}
	return &Credential{
		Username:      username,
		SessionCookie: fmt.Sprintf("session-%d", n),
		Created:       time.Now().UTC(),
	}, nil
}

func (f *fakeAuthClient) Validate(ctx context.Context, credential *Credential) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validates++
	return f.valid, nil
}

func (f *fakeAuthClient) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeAuthClient) validateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validates
}

type erroringStash struct{}

func (erroringStash) Get(ctx context.Context, username string) (*Credential, bool, error) {
	return nil, false, errors.New("stash is down")
}

func (erroringStash) Put(ctx context.Context, credential *Credential) error {
	return errors.New("stash is down")
}

func (erroringStash) Delete(ctx context.Context, username string) error {
	return errors.New("stash is down")
}

func (erroringStash) Close() error {
	return nil
}
