package mappings

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis mapping backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to the mapping key (e.g., "spikeflow:mappings:")
	Prefix string

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:  address,
		Prefix:   "spikeflow:mappings:",
		Timeout:  5 * time.Second,
		PoolSize: 10,
	}
}

// RedisBackend stores the mapping as one Redis hash so multiple server
// instances share label associations.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects and verifies the server is reachable.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBackend{cfg: cfg, client: client}, nil
}

func (b *RedisBackend) key() string {
	return b.cfg.Prefix + "datasets"
}

func (b *RedisBackend) Load(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	m, err := b.client.HGetAll(ctx, b.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings from Redis: %w", err)
	}
	return m, nil
}

func (b *RedisBackend) Save(ctx context.Context, m map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	// Replace the hash atomically: clear then repopulate in one pipeline.
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.key())
	if len(m) > 0 {
		flat := make([]interface{}, 0, len(m)*2)
		for k, v := range m {
			flat = append(flat, k, v)
		}
		pipe.HSet(ctx, b.key(), flat...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save mappings to Redis: %w", err)
	}
	return nil
}

func (b *RedisBackend) Name() string {
	return "redis"
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}
