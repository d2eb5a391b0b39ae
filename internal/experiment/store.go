// Package experiment persists experiments and their per-model answers in a
// single root document mapping experiment keys to experiments.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/storage/docstore"
	"github.com/web-chatbot/backend/internal/storage/models"
	"github.com/web-chatbot/backend/pkg/logger"
	"github.com/web-chatbot/backend/pkg/retry"
)

type Store struct {
	doc *casDocument
	now func() time.Time
}

// Entry is an experiment together with its key.
type Entry struct {
	Key        string
	Experiment models.Experiment
}

type Option func(*Store)

// WithClock replaces time.Now for key generation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxRetries bounds optimistic retries of one write.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.doc.retry.MaxAttempts = n
		}
	}
}

func WithRetryConfig(cfg retry.Config) Option {
	return func(s *Store) {
		retryIf := s.doc.retry.RetryIf
		s.doc.retry = cfg
		s.doc.retry.RetryIf = retryIf
	}
}

func NewStore(conn *docstore.Connection, opts ...Option) *Store {
	return New(conn.Collection(), conn.DocumentID(), opts...)
}

func New(coll docstore.Collection, documentID string, opts ...Option) *Store {
	s := &Store{
		doc: &casDocument{
			coll:  coll,
			id:    documentID,
			empty: []byte("{}"),
			retry: defaultRetryConfig(),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitExperiment creates an empty experiment for url and question and
// returns its key. On failure the key is "".
func (s *Store) InitExperiment(ctx context.Context, url, question string) (string, error) {
	createdAt := s.now()
	key := models.ExperimentKey(createdAt)

	shell, err := encode(models.NewExperiment(url, question, createdAt))
	if err != nil {
		return "", fmt.Errorf("failed to encode experiment: %w", err)
	}

	err = s.doc.update(ctx, "init_experiment", func(body []byte) ([]byte, error) {
		root, err := decodeRoot(body)
		if err != nil {
			return nil, err
		}
		if _, exists := root[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrKeyCollision, key)
		}
		root[key] = shell
		return encode(root)
	})
	if err != nil {
		logger.Error("Failed to initialize experiment", zap.String("key", key), zap.Error(err))
		return "", err
	}

	logger.Info("Experiment initialized", zap.String("key", key), zap.String("url", url))
	return key, nil
}

// InsertResult appends one answer to the experiment at key. The four
// result arrays grow together in one write; nothing is written on error.
// A nil score is stored as null.
func (s *Store) InsertResult(ctx context.Context, key, modelName, answer string, minutes float64, score *float64) error {
	err := s.doc.update(ctx, "insert_result", func(body []byte) ([]byte, error) {
		root, err := decodeRoot(body)
		if err != nil {
			return nil, err
		}

		raw, ok := root[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, key)
		}

		exp, err := decodeExperiment(key, raw)
		if err != nil {
			return nil, err
		}
		exp.Append(modelName, answer, minutes, score)

		merged, err := mergeExperiment(raw, exp)
		if err != nil {
			return nil, fmt.Errorf("failed to encode experiment %q: %w", key, err)
		}
		root[key] = merged
		return encode(root)
	})

	if errors.Is(err, ErrExperimentNotFound) {
		logger.Warn("Experiment not found", zap.String("key", key))
		return err
	}
	if err != nil {
		logger.Error("Failed to insert result", zap.String("key", key), zap.String("model", modelName), zap.Error(err))
		return err
	}

	logger.Info("Result inserted", zap.String("key", key), zap.String("model", modelName), zap.Float64("minutes", minutes))
	return nil
}

// ReadAll returns every experiment. A missing root document reads as empty.
func (s *Store) ReadAll(ctx context.Context) (map[string]models.Experiment, error) {
	body, err := s.doc.read(ctx, "read_all")
	if err != nil {
		logger.Error("Failed to read experiments", zap.Error(err))
		return nil, err
	}

	root, err := decodeRoot(body)
	if err != nil {
		return nil, err
	}

	all := make(map[string]models.Experiment, len(root))
	for key, raw := range root {
		exp, err := decodeExperiment(key, raw)
		if err != nil {
			return nil, err
		}
		all[key] = exp
	}
	return all, nil
}

// ReadMostRecent returns the experiment with the greatest key, or nil when
// there are none. Keys embed a zero padded timestamp, so the greatest key
// is the latest experiment.
func (s *Store) ReadMostRecent(ctx context.Context) (*Entry, error) {
	body, err := s.doc.read(ctx, "read_most_recent")
	if err != nil {
		return nil, err
	}

	root, err := decodeRoot(body)
	if err != nil {
		return nil, err
	}
	if len(root) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(root))
	for k := range root {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	last := keys[len(keys)-1]

	exp, err := decodeExperiment(last, root[last])
	if err != nil {
		return nil, err
	}
	return &Entry{Key: last, Experiment: exp}, nil
}

// Get returns one experiment.
func (s *Store) Get(ctx context.Context, key string) (*models.Experiment, error) {
	body, err := s.doc.read(ctx, "get")
	if err != nil {
		return nil, err
	}

	root, err := decodeRoot(body)
	if err != nil {
		return nil, err
	}
	raw, ok := root[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, key)
	}

	exp, err := decodeExperiment(key, raw)
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

// SortedKeys returns the keys of all in ascending (chronological) order.
func SortedKeys(all map[string]models.Experiment) []string {
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
