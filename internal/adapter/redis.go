package adapter

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisClient defines an interface for Redis operations to enable mocking
//
//go:generate mockgen -source=redis.go -destination=../mocks/redis.go -package=mocks -mock_names=RedisClient=MockRedisClient
type RedisClient interface {
	// Del removes the given keys
	Del(ctx context.Context, keys ...string) error

	// Publish publishes a message on a channel
	Publish(ctx context.Context, channel string, message []byte) error

	// Ping checks the connection
	Ping(ctx context.Context) error

	// Close closes the client
	Close() error
}

// RealRedisClient wraps a redis.Client
type RealRedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a Redis client from a URL
func NewRedisClient(url string) (RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RealRedisClient{client: redis.NewClient(opts)}, nil
}

func (a *RealRedisClient) Del(ctx context.Context, keys ...string) error {
	return a.client.Del(ctx, keys...).Err()
}

func (a *RealRedisClient) Publish(ctx context.Context, channel string, message []byte) error {
	return a.client.Publish(ctx, channel, message).Err()
}

func (a *RealRedisClient) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *RealRedisClient) Close() error {
	return a.client.Close()
}
