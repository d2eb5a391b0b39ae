package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/web-chatbot/backend/internal/vector"
)

type entry struct {
	chunk vector.Chunk
	vec   []float32
	norm  float64
}

// Store is an in-process index using brute-force cosine similarity.
type Store struct {
	mu        sync.RWMutex
	dimension int
	indexes   map[string][]entry
}

// New returns an empty store. dimension 0 accepts the first inserted size.
func New(dimension int) *Store {
	return &Store{
		dimension: dimension,
		indexes:   make(map[string][]entry),
	}
}

func (s *Store) Insert(ctx context.Context, chunks []vector.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return vector.ErrLengthMismatch
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range vectors {
		if s.dimension == 0 {
			s.dimension = len(v)
		}
		if len(v) != s.dimension {
			return vector.ErrDimensionMismatch
		}
	}
	for i, c := range chunks {
		v := append([]float32(nil), vectors[i]...)
		s.indexes[c.IndexID] = append(s.indexes[c.IndexID], entry{chunk: c, vec: v, norm: norm(v)})
	}
	return nil
}

func (s *Store) Search(ctx context.Context, indexID string, query []float32, topK int) ([]vector.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension != 0 && len(query) != s.dimension {
		return nil, vector.ErrDimensionMismatch
	}

	entries := s.indexes[indexID]
	hits := make([]vector.Hit, 0, len(entries))
	qn := norm(query)
	for _, e := range entries {
		hits = append(hits, vector.Hit{Chunk: e.chunk, Score: cosine(e.vec, e.norm, query, qn)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Drop removes every chunk of one index.
func (s *Store) Drop(indexID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, indexID)
}

func (s *Store) Close() error { return nil }

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float32 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (an * bn))
}
