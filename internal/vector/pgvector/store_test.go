package pgvector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/web-chatbot/backend/internal/vector"
)

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements("page chunks", 768)
	if len(stmts) != 3 {
		t.Fatalf("got %d statements", len(stmts))
	}
	if !strings.Contains(stmts[1], `"page chunks"`) || !strings.Contains(stmts[1], "vector(768)") {
		t.Errorf("table statement = %s", stmts[1])
	}
	if !strings.Contains(stmts[2], `"page chunks_index_id"`) {
		t.Errorf("index statement = %s", stmts[2])
	}
}

// Validation happens before any query, so a store without a database is
// enough to exercise it.
func TestValidationBeforeQuery(t *testing.T) {
	s := &Store{table: defaultTable, dimension: 3}
	ctx := context.Background()

	if err := s.Insert(ctx, []vector.Chunk{{ID: "a"}}, nil); !errors.Is(err, vector.ErrLengthMismatch) {
		t.Errorf("Insert length error = %v", err)
	}
	if err := s.Insert(ctx, []vector.Chunk{{ID: "a"}}, [][]float32{{1, 2}}); !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Errorf("Insert dimension error = %v", err)
	}
	if err := s.Insert(ctx, nil, nil); err != nil {
		t.Errorf("empty Insert = %v", err)
	}
	if _, err := s.Search(ctx, "idx", []float32{1}, 5); !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Errorf("Search dimension error = %v", err)
	}
}
