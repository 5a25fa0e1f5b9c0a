package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the claim register configuration
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
	Required  bool
}

// Store is the shared, TTL-bounded claim register. Claim is the only
// cross-process synchronization primitive in the pipeline, so the store must
// be safe for concurrent use by multiple process instances; the Redis client
// provides that.
type Store interface {
	// Claim atomically reserves (scope, identity) for the TTL window.
	// It returns true iff this call performed the first successful set.
	Claim(ctx context.Context, scope, identity string) (bool, error)

	// Release drops an existing claim so the identity can be reprocessed
	// before the TTL lapses. Releasing an absent claim is not an error.
	Release(ctx context.Context, scope, identity string) error

	Close() error
}

type redisStore struct {
	client *redis.Client
	config *Config
	logger *slog.Logger
}

// NewStore connects to Redis and returns the claim register. When the store
// is required and Redis is unreachable the call fails; when optional, a
// claim-everything stub is returned and idempotency is effectively disabled.
func NewStore(config *Config, logger *slog.Logger) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()

		if config.Required {
			logger.Error("Failed to connect to Redis",
				slog.String("addr", config.Addr),
				slog.Any("error", err),
			)
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}

		logger.Warn("Redis unavailable; idempotency disabled, every claim will succeed",
			slog.String("addr", config.Addr),
			slog.Any("error", err),
		)
		return &noopStore{}, nil
	}

	logger.Info("Idempotency store connected",
		slog.String("addr", config.Addr),
		slog.String("key_prefix", config.KeyPrefix),
		slog.Duration("ttl", config.TTL),
	)

	return &redisStore{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

func (s *redisStore) key(scope, identity string) string {
	return fmt.Sprintf("%s:%s:%s", s.config.KeyPrefix, scope, identity)
}

// Claim performs an atomic set-if-not-exists with TTL; first claimant wins.
func (s *redisStore) Claim(ctx context.Context, scope, identity string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(scope, identity), "1", s.config.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s/%s: %w", scope, identity, err)
	}

	return ok, nil
}

func (s *redisStore) Release(ctx context.Context, scope, identity string) error {
	if err := s.client.Del(ctx, s.key(scope, identity)).Err(); err != nil {
		return fmt.Errorf("failed to release %s/%s: %w", scope, identity, err)
	}

	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

// noopStore accepts every claim. Used when the backing store is optional and
// unavailable.
type noopStore struct{}

func (*noopStore) Claim(context.Context, string, string) (bool, error) { return true, nil }
func (*noopStore) Release(context.Context, string, string) error       { return nil }
func (*noopStore) Close() error                                        { return nil }

// NewNoop returns a store that accepts every claim. Exposed for tests and
// degraded-mode wiring.
func NewNoop() Store {
	return &noopStore{}
}
