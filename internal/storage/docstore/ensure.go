package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/web-chatbot/backend/pkg/logger"
)

// Outcome says what EnsureDocument had to do to the document.
type Outcome int

const (
	// OutcomeClean means the document was read and left untouched.
	OutcomeClean Outcome = iota
	// OutcomeCreated means the document was absent and created empty.
	OutcomeCreated
	// OutcomeRepaired means missing fields were added; existing data kept.
	OutcomeRepaired
	// OutcomeReset means the document had the wrong shape and its content
	// was discarded.
	OutcomeReset
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeCreated:
		return "created"
	case OutcomeRepaired:
		return "repaired"
	case OutcomeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Repair inspects a stored body. It returns a replacement body and the
// outcome to report, or a nil body when the document is fine as is.
type Repair func(body []byte) ([]byte, Outcome)

var emptyObject = []byte("{}")

// EnsureDocument makes sure id holds a JSON object, creating or resetting it.
func EnsureDocument(ctx context.Context, coll Collection, id string) (Outcome, error) {
	return EnsureWith(ctx, coll, id, emptyObject, ObjectRepair)
}

// ObjectRepair resets anything that is not a JSON object to {}.
func ObjectRepair(body []byte) ([]byte, Outcome) {
	if IsObject(body) {
		return nil, OutcomeClean
	}
	return emptyObject, OutcomeReset
}

// IsObject reports whether body is a (non-null) JSON object.
func IsObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var probe map[string]json.RawMessage
	return json.Unmarshal(trimmed, &probe) == nil
}

// EnsureWith creates id with empty when absent and applies repair otherwise.
// Concurrent writers are tolerated: a lost race re-reads the document.
func EnsureWith(ctx context.Context, coll Collection, id string, empty []byte, repair Repair) (Outcome, error) {
	const attempts = 3

	for i := 0; i < attempts; i++ {
		doc, err := coll.Get(ctx, id)
		if errors.Is(err, ErrDocumentNotFound) {
			_, err = coll.Insert(ctx, id, empty)
			if errors.Is(err, ErrDocumentExists) {
				continue
			}
			if err != nil {
				return OutcomeClean, fmt.Errorf("failed to create document %q: %w", id, err)
			}
			logger.Info("Document created", zap.String("document", id))
			return OutcomeCreated, nil
		}
		if err != nil {
			return OutcomeClean, fmt.Errorf("failed to read document %q: %w", id, err)
		}

		fixed, outcome := repair(doc.Body)
		if fixed == nil {
			return OutcomeClean, nil
		}

		_, err = coll.Replace(ctx, id, fixed, doc.CAS)
		if errors.Is(err, ErrCASMismatch) || errors.Is(err, ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return OutcomeClean, fmt.Errorf("failed to repair document %q: %w", id, err)
		}

		if outcome == OutcomeReset {
			logger.Warn("Document had an unexpected shape and was reset",
				zap.String("document", id),
				zap.Int("discarded_bytes", len(doc.Body)),
			)
		} else {
			logger.Info("Document repaired", zap.String("document", id), zap.String("outcome", outcome.String()))
		}
		return outcome, nil
	}

	return OutcomeClean, fmt.Errorf("failed to ensure document %q: %w", id, ErrCASMismatch)
}
