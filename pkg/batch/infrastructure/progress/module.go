package progress

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// NewProgressStore selects the backend named by progress.backend.
func NewProgressStore(lc fx.Lifecycle, cfg *config.Config) port.ProgressStore {
	pc := cfg.Caseflow.Progress
	if !strings.EqualFold(pc.Backend, "redis") {
		logger.Infof("Using in-memory progress store.")
		return NewMemoryStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     pc.Redis.Address,
		Password: pc.Redis.Password,
		DB:       pc.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				logger.Warnf("Redis progress store at %s is not reachable yet: %v", pc.Redis.Address, err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	logger.Infof("Using Redis progress store at %s (prefix %q).", pc.Redis.Address, pc.Redis.KeyPrefix)
	return NewRedisStore(client, pc.Redis.KeyPrefix)
}

// Module provides the configured port.ProgressStore.
var Module = fx.Options(
	fx.Provide(NewProgressStore),
)
