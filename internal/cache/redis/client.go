// Package redis caches retrieval responses keyed by query hash. Keys are
// scoped per namespace so ingesting new documents invalidates only the
// namespace whose graph actually changed.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kgforge/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func retrievalKey(namespace, queryHash string) string {
	return fmt.Sprintf("retrieval:%s:%s", namespace, queryHash)
}

// SetRetrieval caches a retrieval response under its query hash.
func (c *Client) SetRetrieval(ctx context.Context, namespace, queryHash string, response interface{}, ttl time.Duration) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := c.client.Set(ctx, retrievalKey(namespace, queryHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set retrieval cache: %w", err)
	}

	logger.Debug("retrieval response cached",
		zap.String("namespace", namespace),
		zap.String("query_hash", queryHash),
		zap.Duration("ttl", ttl))
	return nil
}

// GetRetrieval loads a cached response. The bool reports whether the key
// existed; a miss is not an error.
func (c *Client) GetRetrieval(ctx context.Context, namespace, queryHash string, response interface{}) (bool, error) {
	data, err := c.client.Get(ctx, retrievalKey(namespace, queryHash)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get retrieval cache: %w", err)
	}

	if err := json.Unmarshal(data, response); err != nil {
		return false, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	logger.Debug("retrieval cache hit",
		zap.String("namespace", namespace),
		zap.String("query_hash", queryHash))
	return true, nil
}

// InvalidateNamespace drops every cached retrieval response for the
// namespace. Called after a document is persisted into it.
func (c *Client) InvalidateNamespace(ctx context.Context, namespace string) error {
	pattern := fmt.Sprintf("retrieval:%s:*", namespace)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("failed to delete cache key", zap.Error(err))
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("retrieval cache invalidated",
		zap.String("namespace", namespace),
		zap.Int("keys", deleted))
	return nil
}
