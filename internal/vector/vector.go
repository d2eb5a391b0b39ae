// Package vector defines the similarity index that page chunks are stored
// in. Every chunk belongs to one index, identified by IndexID, and searches
// never cross indexes.
package vector

import (
	"context"
	"errors"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrLengthMismatch    = errors.New("chunks and vectors length mismatch")
)

type Chunk struct {
	ID       string
	IndexID  string
	URL      string
	Position int
	Text     string
}

type Hit struct {
	Chunk
	Score float32
}

type Store interface {
	Insert(ctx context.Context, chunks []Chunk, vectors [][]float32) error
	Search(ctx context.Context, indexID string, query []float32, topK int) ([]Hit, error)
	Close() error
}
