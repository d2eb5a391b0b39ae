package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/metrics"
	"github.com/web-chatbot/backend/internal/storage/docstore"
	"github.com/web-chatbot/backend/pkg/logger"
	"github.com/web-chatbot/backend/pkg/retry"
)

var errWriteConflict = errors.New("concurrent write")

func defaultRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    10,
		InitialDelay:   5 * time.Millisecond,
		MaxDelay:       250 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.5,
		RetryIf: func(err error) bool {
			return errors.Is(err, errWriteConflict)
		},
		Logger: logger.GetLogger(),
	}
}

// casDocument runs read-modify-write cycles against one document, retrying
// the whole cycle when another writer got in between the read and the write.
type casDocument struct {
	coll  docstore.Collection
	id    string
	empty []byte
	retry retry.Config
}

// update calls fn with the current body (empty when the document is
// missing) and writes what it returns. Errors from fn abort without writing.
func (d *casDocument) update(ctx context.Context, op string, fn func(body []byte) ([]byte, error)) error {
	start := time.Now()

	err := retry.Do(ctx, d.retry, func() error {
		var (
			body    []byte
			cas     uint64
			missing bool
		)

		doc, err := d.coll.Get(ctx, d.id)
		switch {
		case errors.Is(err, docstore.ErrDocumentNotFound):
			body, missing = d.empty, true
		case err != nil:
			return unavailable(op, err)
		default:
			body, cas = doc.Body, doc.CAS
		}

		next, err := fn(body)
		if err != nil {
			return err
		}

		if missing {
			_, err = d.coll.Insert(ctx, d.id, next)
		} else {
			_, err = d.coll.Replace(ctx, d.id, next, cas)
		}

		switch {
		case errors.Is(err, docstore.ErrCASMismatch),
			errors.Is(err, docstore.ErrDocumentExists),
			errors.Is(err, docstore.ErrDocumentNotFound):
			metrics.StoreConflicts.WithLabelValues(op).Inc()
			return fmt.Errorf("%s: %w", op, errWriteConflict)
		case err != nil:
			return unavailable(op, err)
		}
		return nil
	})

	if errors.Is(err, retry.ErrExhausted) && errors.Is(err, errWriteConflict) {
		err = fmt.Errorf("%s: %w", op, ErrConflict)
	}

	observe(op, start, err)
	return err
}

func (d *casDocument) read(ctx context.Context, op string) ([]byte, error) {
	start := time.Now()

	doc, err := d.coll.Get(ctx, d.id)
	if errors.Is(err, docstore.ErrDocumentNotFound) {
		logger.Warn("Root document missing, reading as empty", zap.String("document", d.id))
		observe(op, start, nil)
		return d.empty, nil
	}
	if err != nil {
		err = unavailable(op, err)
		observe(op, start, err)
		return nil, err
	}

	observe(op, start, nil)
	return doc.Body, nil
}

func observe(op string, start time.Time, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrExperimentNotFound):
		status = "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		status = "unavailable"
	case errors.Is(err, ErrConflict):
		status = "conflict"
	default:
		status = "error"
	}
	metrics.StoreOperations.WithLabelValues(op, status).Inc()
	metrics.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
