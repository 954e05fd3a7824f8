package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paperlens/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(ctx context.Context, host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client) *Client {
	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("state:%s", key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load state: %w", err)
	}

	logger.Debug("State loaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return data, true, nil
}

func (c *Client) Save(ctx context.Context, key string, data []byte) error {
	err := c.client.Set(ctx, fmt.Sprintf("state:%s", key), data, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	logger.Debug("State saved", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

func (c *Client) AppendRecord(ctx context.Context, list string, data []byte) error {
	err := c.client.RPush(ctx, fmt.Sprintf("records:%s", list), data).Err()
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (c *Client) Records(ctx context.Context, list string) ([][]byte, error) {
	values, err := c.client.LRange(ctx, fmt.Sprintf("records:%s", list), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out, nil
}

// Clear removes the state key and the records list.
func (c *Client) Clear(ctx context.Context, key, list string) error {
	err := c.client.Del(ctx, fmt.Sprintf("state:%s", key), fmt.Sprintf("records:%s", list)).Err()
	if err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}

	logger.Info("Persisted state cleared", zap.String("key", key))
	return nil
}
