package credentials

import (
	"context"
	"time"

	retry "github.com/avast/retry-go"
	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/internal/simulator/configuration"
	"github.com/hypervideo/client-simulator/internal/simulator/metrics"
)

// Store hands out working credentials, creating guest sessions on demand.
// Lookups go memory cache, then stash, then a fresh login. Concurrent
// requests for the same username collapse into a single login, so a batch
// of participants starting at once produces one session per user rather
// than a thundering herd.
type Store struct {
	auth  AuthClient
	stash Stash
	cache *cache.Cache
	group singleflight.Group
}

func NewStore(auth AuthClient, stash Stash, config configuration.CredentialsConfig) *Store {
	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	cleanup := config.CleanupInterval
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &Store{
		auth:  auth,
		stash: stash,
		cache: cache.New(ttl, cleanup),
	}
}

func (s *Store) Get(ctx context.Context, username string) (*Credential, error) {
	if cached, ok := s.cache.Get(username); ok {
		return cached.(*Credential), nil
	}

	result, err, _ := s.group.Do(username, func() (interface{}, error) {
		return s.fetch(ctx, username)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Credential), nil
}

// Invalidate drops the credential from cache and stash. The next Get will
// log in again.
func (s *Store) Invalidate(ctx context.Context, username string) error {
	s.cache.Delete(username)
	return s.stash.Delete(ctx, username)
}

func (s *Store) fetch(ctx context.Context, username string) (*Credential, error) {
	credential, ok, err := s.stash.Get(ctx, username)
	if err != nil {
		// A broken stash should not stop the load test, fresh logins still work.
		log.Warnf("Failed to read credential stash for %s: %v", username, err)
	}
	if ok {
		valid, err := s.auth.Validate(ctx, credential)
		if err == nil && valid {
			s.cache.SetDefault(username, credential)
			return credential, nil
		}
		if err == nil {
			log.Infof("Stashed session for %s is no longer accepted, logging in again", username)
			if err := s.stash.Delete(ctx, username); err != nil {
				log.Warnf("Failed to drop stale credential for %s: %v", username, err)
			}
		}
	}

	credential, err = s.login(ctx, username)
	if err != nil {
		return nil, err
	}

	s.cache.SetDefault(username, credential)
	if err := s.stash.Put(ctx, credential); err != nil {
		log.Warnf("Failed to stash credential for %s: %v", username, err)
	}
	return credential, nil
}

// login attempts a guest login, retrying once if the service could not be
// reached. Rejections are not retried.
func (s *Store) login(ctx context.Context, username string) (*Credential, error) {
	var credential *Credential
	err := retry.Do(
		func() error {
			var err error
			credential, err = s.auth.GuestLogin(ctx, username)
			return err
		},
		retry.Attempts(2),
		retry.Delay(500*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			var unreachable *simerrors.ErrUnreachable
			return errors.As(err, &unreachable)
		}),
		retry.LastErrorOnly(true),
	)
	metrics.RecordLogin(err)
	if err != nil {
		return nil, err
	}
	return credential, nil
}
