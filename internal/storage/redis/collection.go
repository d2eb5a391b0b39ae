package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/storage/docstore"
	"github.com/web-chatbot/backend/pkg/logger"
)

// Documents are hashes {body, cas}. Every write goes through a Lua script
// so the CAS check and the write happen atomically on the server.
var (
	insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'body', ARGV[1], 'cas', 1)
return 1
`)

	replaceScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'cas')
if not cur then
	return -1
end
if ARGV[2] ~= '0' and cur ~= ARGV[2] then
	return -2
end
local nxt = tonumber(cur) + 1
redis.call('HSET', KEYS[1], 'body', ARGV[1], 'cas', nxt)
return nxt
`)

	upsertScript = redis.NewScript(`
local nxt = redis.call('HINCRBY', KEYS[1], 'cas', 1)
redis.call('HSET', KEYS[1], 'body', ARGV[1])
return nxt
`)
)

type Collection struct {
	client *redis.Client
	bucket string
	owned  bool
}

// Open dials p.Host and verifies the session with PING.
func Open(ctx context.Context, p docstore.Params) (docstore.Collection, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     p.Host,
		Username: p.User,
		Password: p.Password,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis document collection opened",
		zap.String("addr", p.Host),
		zap.String("bucket", p.Bucket),
	)

	return &Collection{client: client, bucket: p.Bucket, owned: true}, nil
}

// NewCollection wraps an existing client. Close leaves the client open.
func NewCollection(client *redis.Client, bucket string) *Collection {
	return &Collection{client: client, bucket: bucket}
}

func (c *Collection) key(id string) string {
	if c.bucket == "" {
		return "doc:" + id
	}
	return fmt.Sprintf("doc:%s:%s", c.bucket, id)
}

func (c *Collection) Get(ctx context.Context, id string) (*docstore.Document, error) {
	vals, err := c.client.HMGet(ctx, c.key(id), "body", "cas").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, docstore.ErrDocumentNotFound
	}

	body, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected body type %T", vals[0])
	}
	casStr, ok := vals[1].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected cas type %T", vals[1])
	}
	cas, err := strconv.ParseUint(casStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cas: %w", err)
	}

	return &docstore.Document{ID: id, Body: []byte(body), CAS: cas}, nil
}

func (c *Collection) Insert(ctx context.Context, id string, body []byte) (uint64, error) {
	res, err := insertScript.Run(ctx, c.client, []string{c.key(id)}, string(body)).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}
	if res == 0 {
		return 0, docstore.ErrDocumentExists
	}

	logger.Debug("Document inserted", zap.String("key", c.key(id)))
	return 1, nil
}

func (c *Collection) Replace(ctx context.Context, id string, body []byte, cas uint64) (uint64, error) {
	res, err := replaceScript.Run(ctx, c.client, []string{c.key(id)}, string(body), strconv.FormatUint(cas, 10)).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to replace document: %w", err)
	}

	switch res {
	case -1:
		return 0, docstore.ErrDocumentNotFound
	case -2:
		return 0, docstore.ErrCASMismatch
	}

	logger.Debug("Document replaced", zap.String("key", c.key(id)), zap.Int64("cas", res))
	return uint64(res), nil
}

func (c *Collection) Upsert(ctx context.Context, id string, body []byte) (uint64, error) {
	res, err := upsertScript.Run(ctx, c.client, []string{c.key(id)}, string(body)).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to upsert document: %w", err)
	}
	return uint64(res), nil
}

func (c *Collection) Close() error {
	if !c.owned {
		return nil
	}
	if err := c.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
