package configuration

import (
	"time"

	"github.com/go-redis/redis"

	"github.com/hypervideo/client-simulator/pkg/api"
)

type SimulatorConfiguration struct {
	// Port the participant REST and websocket gateway listens on.
	HttpPort    uint16 `validate:"required"`
	MetricsPort uint16 `validate:"required"`

	Auth        AuthConfig
	Credentials CredentialsConfig
	Participant ParticipantConfig
	Registry    RegistryConfig
}

type AuthConfig struct {
	// Base URL of the conferencing deployment, e.g. https://meet.example.com.
	// Guest sessions are created against its HTTP API.
	BaseUrl        string `validate:"required"`
	RequestTimeout time.Duration
}

type CredentialsConfig struct {
	// How long credentials are kept in the in-memory cache before the stash
	// is consulted again.
	CacheTTL        time.Duration
	CleanupInterval time.Duration
	Stash           StashConfig
}

// StashConfig selects the durable credential backend. Kind is one of
// "file", "redis" or "postgres"; only the matching section is read.
type StashConfig struct {
	Kind     string `validate:"required,oneof=file redis postgres"`
	File     FileStashConfig
	Redis    redis.UniversalOptions
	Postgres PostgresConfig
}

type FileStashConfig struct {
	Path string
}

type PostgresConfig struct {
	Connection map[string]string
}

type ParticipantConfig struct {
	// Default media settings applied to participants that do not specify
	// their own.
	DefaultSettings api.ParticipantSettings

	// How long join and leave are allowed to take before the attempt is
	// abandoned and the participant is marked failed.
	JoinTimeout time.Duration

	// Bound on a single media command round trip.
	CommandTimeout time.Duration

	// How long a closing participant may spend on a graceful leave before
	// it is torn down forcefully.
	CloseGrace time.Duration

	// Number of times the page surface is re-scanned for a control before
	// giving up on it.
	SurfaceAttempts uint

	// Interval between protocol-level pings on signalling connections.
	HeartbeatInterval time.Duration

	CommandBuffer int
	EventBuffer   int
}

type RegistryConfig struct {
	// Upper bound on simultaneously registered participants, 0 means
	// unlimited.
	MaxParticipants int
}
