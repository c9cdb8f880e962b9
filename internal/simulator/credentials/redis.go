package credentials

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const credentialPrefix = "Credential:"

// RedisStash keeps one JSON record per username so several simulator
// instances can share sessions.
type RedisStash struct {
	db redis.UniversalClient
}

func NewRedisStash(db redis.UniversalClient) *RedisStash {
	return &RedisStash{db: db}
}

func (s *RedisStash) Get(ctx context.Context, username string) (*Credential, bool, error) {
	data, err := s.db.Get(credentialPrefix + username).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WithStack(err)
	}

	var credential Credential
	if err := json.Unmarshal([]byte(data), &credential); err != nil {
		log.Warnf("Dropping corrupt credential record for %s: %v", username, err)
		s.db.Del(credentialPrefix + username)
		return nil, false, nil
	}
	return &credential, true, nil
}

func (s *RedisStash) Put(ctx context.Context, credential *Credential) error {
	data, err := json.Marshal(credential)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(s.db.Set(credentialPrefix+credential.Username, data, 0).Err())
}

func (s *RedisStash) Delete(ctx context.Context, username string) error {
	return errors.WithStack(s.db.Del(credentialPrefix + username).Err())
}

func (s *RedisStash) Close() error {
	return s.db.Close()
}

type RedisHealth struct {
	db redis.UniversalClient
}

func NewRedisHealth(db redis.UniversalClient) *RedisHealth {
	return &RedisHealth{db: db}
}

func (r *RedisHealth) Check() error {
	_, err := r.db.Ping().Result()
	if err != nil {
		return errors.Wrap(err, "redis health check failed")
	}
	return nil
}
