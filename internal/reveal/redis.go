package reveal

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"conversation-console/internal/models"
)

// RedisStore persists reveal flags as plain keys so they survive restarts
// and are shared by every console instance of the same viewer.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore parses url, pings the server and returns a store whose keys
// are prefixed with namespace (typically the viewer's email).
func NewRedisStore(ctx context.Context, url, namespace string) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("reveal: redis url is empty")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("reveal: parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("reveal: redis ping: %w", err)
	}
	return &RedisStore{client: client, namespace: namespace}, nil
}

func (s *RedisStore) key(id models.MessageID) string {
	if s.namespace == "" {
		return Key(id)
	}
	return s.namespace + ":" + Key(id)
}

func (s *RedisStore) IsRevealed(ctx context.Context, id models.MessageID) (bool, error) {
	if id == "" {
		return false, nil
	}
	val, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "true", nil
}

func (s *RedisStore) MarkRevealed(ctx context.Context, id models.MessageID) error {
	if id == "" {
		return nil
	}
	return s.client.Set(ctx, s.key(id), "true", 0).Err()
}

// Close releases the redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
