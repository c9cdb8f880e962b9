package simulator

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/hypervideo/client-simulator/internal/common"
	commonconfig "github.com/hypervideo/client-simulator/internal/common/config"
	"github.com/hypervideo/client-simulator/internal/common/database"
	"github.com/hypervideo/client-simulator/internal/common/health"
	"github.com/hypervideo/client-simulator/internal/common/util"
	"github.com/hypervideo/client-simulator/internal/simulator/configuration"
	"github.com/hypervideo/client-simulator/internal/simulator/credentials"
	"github.com/hypervideo/client-simulator/internal/simulator/gateway"
	"github.com/hypervideo/client-simulator/internal/simulator/registry"
)

const shutdownGrace = 30 * time.Second

// Serve runs one worker: the participant gateway with its registry and
// credential store, listening on the configured HTTP port. It blocks until
// ctx is cancelled, then closes every participant before returning.
func Serve(ctx context.Context, config *configuration.SimulatorConfiguration, healthChecks *health.MultiChecker) error {
	err := commonconfig.Validate(config)
	if err != nil {
		commonconfig.LogValidationErrors(err)
		return errors.WithMessage(err, "config validation failed")
	}

	stash, err := openStash(ctx, config.Credentials.Stash, healthChecks)
	if err != nil {
		return err
	}
	defer util.CloseResource("credential stash", stash)

	store := credentials.NewStore(credentials.NewHttpAuthClient(config.Auth), stash, config.Credentials)
	reg := registry.New(config.Registry)

	// Workers without a rendering surface serve the protocol strategy only;
	// surface participants are rejected at spawn.
	g := gateway.New(ctx, reg, store, config.Participant,
		gateway.DefaultStrategyFactory(config.Participant, nil))

	mux := http.NewServeMux()
	g.Routes(mux)
	health.SetupHttpMux(mux, healthChecks)

	shutdownHttp := common.ServeHttp(config.HttpPort, mux)
	defer shutdownHttp()

	log.Infof("Gateway listening on %d, authenticating against %s", config.HttpPort, config.Auth.BaseUrl)

	<-ctx.Done()
	log.Info("Shutting down, closing all participants")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return g.Shutdown(shutdownCtx)
}

// openStash builds the configured durable credential backend and registers
// its health check where the backend has one.
func openStash(
	ctx context.Context,
	config configuration.StashConfig,
	healthChecks *health.MultiChecker,
) (credentials.Stash, error) {
	switch config.Kind {
	case "file":
		return credentials.NewFileStash(config.File.Path)
	case "redis":
		db := redis.NewUniversalClient(&config.Redis)
		healthChecks.Add(credentials.NewRedisHealth(db))
		return credentials.NewRedisStash(db), nil
	case "postgres":
		// The worker may come up before its database does; keep trying until
		// the pool connects or startup is aborted.
		var pool *pgxpool.Pool
		util.RetryUntilSuccess(ctx,
			func() error {
				var err error
				pool, err = database.OpenPgxPool(ctx, config.Postgres)
				return err
			},
			func(err error) {
				log.WithError(err).Warn("Failed to connect to the credential database, retrying")
				time.Sleep(time.Second)
			},
		)
		if pool == nil {
			return nil, errors.Wrap(ctx.Err(), "gave up connecting to the credential database")
		}
		return credentials.NewPostgresStash(ctx, pool)
	default:
		return nil, errors.Errorf("unknown credential stash kind %q", config.Kind)
	}
}
