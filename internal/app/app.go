// Package app wires configuration into the running service: document
// stores, model clients, the vector index and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	cacheredis "github.com/web-chatbot/backend/internal/cache/redis"
	"github.com/web-chatbot/backend/internal/evaluation"
	"github.com/web-chatbot/backend/internal/experiment"
	"github.com/web-chatbot/backend/internal/extract"
	"github.com/web-chatbot/backend/internal/ingestion"
	"github.com/web-chatbot/backend/internal/llm"
	"github.com/web-chatbot/backend/internal/metrics"
	"github.com/web-chatbot/backend/internal/middleware/ratelimit"
	"github.com/web-chatbot/backend/internal/query"
	"github.com/web-chatbot/backend/internal/registry"
	"github.com/web-chatbot/backend/internal/session"
	"github.com/web-chatbot/backend/internal/storage/docstore"
	"github.com/web-chatbot/backend/internal/vector"
	"github.com/web-chatbot/backend/internal/vector/memory"
	"github.com/web-chatbot/backend/internal/vector/pgvector"
	"github.com/web-chatbot/backend/internal/vector/zilliz"
	"github.com/web-chatbot/backend/pkg/config"
	"github.com/web-chatbot/backend/pkg/logger"
)

const sessionTTL = 2 * time.Hour

// Stores holds the two document stores. Each is connected once per process.
type Stores struct {
	Experiments *experiment.Store
	Ledger      *experiment.Ledger

	experiments *docstore.Manager
	ledger      *docstore.Manager
}

// OpenStores connects the experiment store and the ledger.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{
		experiments: docstore.NewManager(OpenCollection, docstore.EnsureDocument),
		ledger:      docstore.NewManager(OpenCollection, experiment.EnsureLedger),
	}

	expConn, err := s.experiments.Connect(ctx, storeParams(cfg.Stores.Experiments))
	if err != nil {
		return nil, err
	}

	ledgerConn, err := s.ledger.Connect(ctx, storeParams(cfg.Stores.Ledger))
	if err != nil {
		_ = s.experiments.Close()
		return nil, err
	}

	s.Experiments = experiment.NewStore(expConn, experiment.WithMaxRetries(cfg.Stores.MaxRetries))
	s.Ledger = experiment.NewLedger(ledgerConn)
	return s, nil
}

func (s *Stores) Close() error {
	return errors.Join(s.experiments.Close(), s.ledger.Close())
}

// App is the assembled service.
type App struct {
	Config    *config.Config
	Fiber     *fiber.App
	Stores    *Stores
	Registry  *registry.Registry
	Sessions  *session.Manager
	Engine    *query.Engine
	Evaluator *evaluation.Evaluator
	Extractor *extract.Extractor
	Processor *ingestion.Processor

	invoker *llm.Invoker
	limiter *ratelimit.RateLimiter
	closers []func() error
}

// New builds every component from cfg. Stores that cannot be reached are
// reported as a *docstore.ConnectionError.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	metrics.Init()

	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Stores = stores
	a.closers = append(a.closers, stores.Close)

	reg, err := registry.Load(cfg.Models.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load model registry: %w", err)
	}
	a.Registry = reg
	logger.Info("Model registry loaded", zap.Strings("models", reg.List()))

	timeout := time.Duration(cfg.LLM.TimeoutSec) * time.Second

	embedder, err := newEmbedder(ctx, cfg, timeout)
	if err != nil {
		return nil, err
	}

	store, err := a.newVectorStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var (
		pageCache      extract.Cache
		embeddingCache ingestion.EmbeddingCache
		summaryCache   query.SummaryCache
	)
	if cfg.Cache.Enabled {
		cache, err := cacheredis.NewClient(ctx,
			fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Cache.TTLSec)*time.Second,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect result cache: %w", err)
		}
		a.closers = append(a.closers, cache.Close)
		pageCache, embeddingCache, summaryCache = cache, cache, cache
	}

	a.Extractor = extract.New(extract.Options{
		Timeout:   time.Duration(cfg.Extract.TimeoutSec) * time.Second,
		MaxChars:  cfg.Extract.MaxChars,
		UserAgent: cfg.Extract.UserAgent,
	}, pageCache)

	a.Processor = ingestion.NewProcessor(store, embedder, embeddingCache, cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)
	a.Evaluator = evaluation.NewEvaluator(embedder)

	a.invoker = llm.NewInvoker(llm.NewFactory(cfg.LLM.MaxTokens, timeout))
	a.closers = append(a.closers, a.invoker.Close)

	a.Engine = query.NewEngine(query.Deps{
		Models:            reg,
		Invoker:           a.invoker,
		Retriever:         a.Processor,
		Results:           stores.Experiments,
		Ledger:            stores.Ledger,
		Scorer:            a.Evaluator,
		Summaries:         summaryCache,
		TopK:              cfg.Ingestion.TopK,
		SummaryInputChars: cfg.Extract.MaxChars,
	})

	a.Sessions = session.NewManager(sessionTTL)

	a.limiter = ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               logger.Named("ratelimit"),
	})
	a.closers = append(a.closers, func() error {
		a.limiter.Stop()
		return nil
	})

	a.Fiber = a.newServer()

	ok = true
	return a, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config, timeout time.Duration) (llm.Embedder, error) {
	var apiKey string
	if cfg.Embedding.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.Embedding.APIKeyEnv)
	}
	embedder, err := llm.NewEmbedder(ctx,
		registry.Provider(cfg.Embedding.Provider),
		cfg.Embedding.Model,
		cfg.Embedding.BaseURL,
		apiKey,
		timeout,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

func (a *App) newVectorStore(ctx context.Context, cfg *config.Config) (vector.Store, error) {
	switch cfg.Vector.Type {
	case "", "memory":
		return memory.New(cfg.Embedding.Dim), nil
	case "milvus", "zilliz":
		z, err := zilliz.NewClient(ctx,
			cfg.Vector.Milvus.Endpoint,
			cfg.Vector.Milvus.APIKey,
			cfg.Vector.Milvus.CollectionName,
			cfg.Embedding.Dim,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create vector client: %w", err)
		}
		a.closers = append(a.closers, z.Close)
		if err := z.CreateCollection(ctx); err != nil {
			return nil, fmt.Errorf("failed to create vector collection: %w", err)
		}
		return z, nil
	case "pgvector":
		pg, err := pgvector.NewStore(ctx, cfg.Vector.Postgres.DSN, cfg.Vector.Postgres.Table, cfg.Embedding.Dim)
		if err != nil {
			return nil, fmt.Errorf("failed to create vector client: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to create vector table: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported vector store %q", cfg.Vector.Type)
	}
}

// Close releases components in reverse order of construction.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
