package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/extract"
	"github.com/web-chatbot/backend/internal/metrics"
	"github.com/web-chatbot/backend/pkg/logger"
)

const (
	pagePrefix      = "page:"
	summaryPrefix   = "summary:"
	embeddingPrefix = "embedding:"
)

// Client caches extracted pages, summaries and embeddings. Keys are content
// hashes computed by the caller.
type Client struct {
	client *redis.Client
	ttl    time.Duration
	owned  bool
}

func NewClient(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis cache initialized", zap.String("addr", addr), zap.Duration("ttl", ttl))

	return &Client{client: client, ttl: ttl, owned: true}, nil
}

// Wrap uses an existing client. Close leaves it open.
func Wrap(client *redis.Client, ttl time.Duration) *Client {
	return &Client{client: client, ttl: ttl}
}

func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}

func (c *Client) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, kind, key string, v any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues(kind).Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	metrics.CacheHits.WithLabelValues(kind).Inc()
	logger.Debug("Cache hit", zap.String("key", key))
	return true, nil
}

func (c *Client) SetPage(ctx context.Context, urlHash string, page *extract.Page) error {
	return c.set(ctx, pagePrefix+urlHash, page)
}

func (c *Client) GetPage(ctx context.Context, urlHash string) (*extract.Page, bool, error) {
	var page extract.Page
	ok, err := c.get(ctx, "page", pagePrefix+urlHash, &page)
	if !ok || err != nil {
		return nil, false, err
	}
	return &page, true, nil
}

func (c *Client) SetSummary(ctx context.Context, key, summary string) error {
	return c.set(ctx, summaryPrefix+key, summary)
}

func (c *Client) GetSummary(ctx context.Context, key string) (string, bool, error) {
	var summary string
	ok, err := c.get(ctx, "summary", summaryPrefix+key, &summary)
	return summary, ok, err
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32) error {
	return c.set(ctx, embeddingPrefix+textHash, embedding)
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	var embedding []float32
	ok, err := c.get(ctx, "embedding", embeddingPrefix+textHash, &embedding)
	if !ok || err != nil {
		return nil, false, err
	}
	return embedding, true, nil
}

// Invalidate deletes every cached entry for one URL hash.
func (c *Client) Invalidate(ctx context.Context, urlHash string) error {
	err := c.client.Del(ctx, pagePrefix+urlHash).Err()
	if err != nil {
		return fmt.Errorf("failed to delete page cache: %w", err)
	}

	iter := c.client.Scan(ctx, 0, summaryPrefix+urlHash+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Page cache invalidated", zap.String("url_hash", urlHash))
	return nil
}
