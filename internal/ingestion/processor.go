package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/llm"
	"github.com/web-chatbot/backend/internal/metrics"
	"github.com/web-chatbot/backend/internal/vector"
	"github.com/web-chatbot/backend/pkg/logger"
	"github.com/web-chatbot/backend/pkg/utils"
)

var ErrEmptyText = errors.New("no text to index")

// Handle identifies a built index. Queries against it only see chunks of
// the page it was built from.
type Handle struct {
	IndexID string `json:"index_id"`
	URL     string `json:"url"`
	Chunks  int    `json:"chunks"`
}

// EmbeddingCache stores vectors by text hash.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32) error
}

type Processor struct {
	store        vector.Store
	embedder     llm.Embedder
	cache        EmbeddingCache
	chunkSize    int
	chunkOverlap int
}

func NewProcessor(store vector.Store, embedder llm.Embedder, cache EmbeddingCache, chunkSize, chunkOverlap int) *Processor {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	return &Processor{
		store:        store,
		embedder:     embedder,
		cache:        cache,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// BuildIndex chunks text, embeds every chunk and stores the vectors under a
// fresh index id.
func (p *Processor) BuildIndex(ctx context.Context, url, text string) (*Handle, error) {
	chunks := p.chunkText(text)
	if len(chunks) == 0 {
		return nil, ErrEmptyText
	}

	logger.Info("Building index", zap.String("url", url), zap.Int("chunks", len(chunks)))

	embeddings, err := p.embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	indexID := uuid.NewString()
	records := make([]vector.Chunk, len(chunks))
	for i, chunkText := range chunks {
		records[i] = vector.Chunk{
			ID:       fmt.Sprintf("%s_chunk_%d", indexID, i),
			IndexID:  indexID,
			URL:      url,
			Position: i,
			Text:     chunkText,
		}
	}

	if err := p.store.Insert(ctx, records, embeddings); err != nil {
		return nil, fmt.Errorf("failed to insert into vector DB: %w", err)
	}
	metrics.ChunksIndexed.Add(float64(len(records)))

	logger.Info("Index built",
		zap.String("index_id", indexID),
		zap.Int("chunks", len(records)),
	)

	return &Handle{IndexID: indexID, URL: url, Chunks: len(records)}, nil
}

// Query returns the k passages closest to question.
func (p *Processor) Query(ctx context.Context, h *Handle, question string, k int) ([]vector.Hit, error) {
	if h == nil {
		return nil, errors.New("no index built")
	}
	vecs, err := p.embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	return p.store.Search(ctx, h.IndexID, vecs[0], k)
}

// embed fills what it can from the cache and sends the rest in one batch.
func (p *Processor) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	hashes := make([]string, len(texts))
	var missing []int

	for i, t := range texts {
		if p.cache == nil {
			missing = append(missing, i)
			continue
		}
		hashes[i] = utils.HashString(t)
		v, ok, err := p.cache.GetEmbedding(ctx, hashes[i])
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
		if ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vecs, err := p.embedder.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vecs), len(batch))
	}

	for j, i := range missing {
		out[i] = vecs[j]
		if p.cache != nil {
			if err := p.cache.SetEmbedding(ctx, hashes[i], vecs[j]); err != nil {
				logger.Warn("Embedding cache write failed", zap.Error(err))
			}
		}
	}
	return out, nil
}

// chunkText splits on whitespace into chunks of at most chunkSize bytes.
// Each chunk after the first repeats roughly chunkOverlap bytes of trailing
// words from the previous one.
func (p *Processor) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	size := 0

	for _, word := range words {
		wordLen := len(word) + 1

		if size+wordLen > p.chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))

			overlap := 0
			start := len(current)
			for start > 0 && overlap+len(current[start-1])+1 <= p.chunkOverlap {
				start--
				overlap += len(current[start]) + 1
			}
			current = append([]string(nil), current[start:]...)
			size = overlap
		}

		current = append(current, word)
		size += wordLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// FormatContext joins retrieved passages into a prompt context block.
func FormatContext(hits []vector.Hit) string {
	if len(hits) == 0 {
		return "No relevant passages found."
	}

	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, h.Text)
	}
	return b.String()
}
