package experiment

import (
	"bytes"
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/storage/docstore"
	"github.com/web-chatbot/backend/internal/storage/models"
	"github.com/web-chatbot/backend/pkg/logger"
)

// Ledger is the flat answer log: one document of parallel arrays holding
// every answer with the question that was actually asked.
type Ledger struct {
	doc *casDocument
}

var emptyLedger = []byte(`{"model_name":[],"question":[],"answer":[],"time":[],"score":[]}`)

func NewLedger(conn *docstore.Connection) *Ledger {
	return NewLedgerOn(conn.Collection(), conn.DocumentID())
}

func NewLedgerOn(coll docstore.Collection, documentID string) *Ledger {
	return &Ledger{doc: &casDocument{
		coll:  coll,
		id:    documentID,
		empty: emptyLedger,
		retry: defaultRetryConfig(),
	}}
}

// EnsureLedger is the docstore.Ensurer for ledger documents: it creates the
// document, adds missing array fields, and resets non-object bodies.
func EnsureLedger(ctx context.Context, coll docstore.Collection, id string) (docstore.Outcome, error) {
	return docstore.EnsureWith(ctx, coll, id, emptyLedger, repairLedger)
}

func repairLedger(body []byte) ([]byte, docstore.Outcome) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return emptyLedger, docstore.OutcomeReset
	}

	changed := false
	for _, name := range models.LedgerFields {
		if _, ok := fields[name]; !ok {
			fields[name] = json.RawMessage("[]")
			changed = true
		}
	}
	if !changed {
		return nil, docstore.OutcomeClean
	}

	fixed, err := encode(fields)
	if err != nil {
		return emptyLedger, docstore.OutcomeReset
	}
	return fixed, docstore.OutcomeRepaired
}

func decodeLedger(body []byte) (models.Ledger, error) {
	if string(bytes.TrimSpace(body)) == "null" {
		return models.Ledger{}, &DecodeError{Key: rootKey, Reason: "ledger is null"}
	}
	var l models.Ledger
	if err := json.Unmarshal(body, &l); err != nil {
		return models.Ledger{}, &DecodeError{Key: rootKey, Reason: "ledger is not a parallel-array object", Err: err}
	}
	if !l.Aligned() {
		return models.Ledger{}, &DecodeError{Key: rootKey, Reason: "ledger arrays have different lengths"}
	}
	return l, nil
}

func (l *Ledger) Append(ctx context.Context, row models.LedgerRow) error {
	err := l.doc.update(ctx, "ledger_append", func(body []byte) ([]byte, error) {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, &DecodeError{Key: rootKey, Reason: "ledger is not an object", Err: err}
		}
		if fields == nil {
			return nil, &DecodeError{Key: rootKey, Reason: "ledger is null"}
		}

		ledger, err := decodeLedger(body)
		if err != nil {
			return nil, err
		}
		ledger.Append(row)

		encoded, err := encode(ledger)
		if err != nil {
			return nil, err
		}
		var own map[string]json.RawMessage
		if err := json.Unmarshal(encoded, &own); err != nil {
			return nil, err
		}
		for k, v := range own {
			fields[k] = v
		}
		return encode(fields)
	})
	if err != nil {
		logger.Error("Failed to append ledger row", zap.String("model", row.ModelName), zap.Error(err))
		return err
	}

	logger.Debug("Ledger row appended", zap.String("model", row.ModelName))
	return nil
}

func (l *Ledger) Read(ctx context.Context) ([]models.LedgerRow, error) {
	body, err := l.doc.read(ctx, "ledger_read")
	if err != nil {
		return nil, err
	}

	ledger, err := decodeLedger(body)
	if err != nil {
		return nil, err
	}
	return ledger.Rows(), nil
}
