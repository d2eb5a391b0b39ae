package app

import (
	"context"
	"fmt"

	"github.com/web-chatbot/backend/internal/storage/docstore"
	"github.com/web-chatbot/backend/internal/storage/redis"
	"github.com/web-chatbot/backend/internal/storage/sqlite"
	"github.com/web-chatbot/backend/pkg/config"
)

// OpenCollection dispatches on p.Driver.
func OpenCollection(ctx context.Context, p docstore.Params) (docstore.Collection, error) {
	switch p.Driver {
	case "redis":
		return redis.Open(ctx, p)
	case "sqlite":
		return sqlite.Open(ctx, p)
	case "memory":
		return docstore.NewMemoryCollection(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", p.Driver)
	}
}

func storeParams(c config.StoreConfig) docstore.Params {
	return docstore.Params{
		Driver:   c.Driver,
		Host:     c.Host,
		User:     c.User,
		Password: c.Password,
		Bucket:   c.Bucket,
		Document: c.Document,
	}
}
