package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/llm"
	"github.com/web-chatbot/backend/internal/parse"
	"github.com/web-chatbot/backend/pkg/logger"
)

// Evaluator scores an answer by the cosine similarity of its embedding to
// the embedding of a reference answer.
type Evaluator struct {
	embedder llm.Embedder
}

type Dataset struct {
	URL   string        `json:"url"`
	Items []DatasetItem `json:"items"`
}

type DatasetItem struct {
	Question  string `json:"question"`
	Reference string `json:"reference"`
}

func NewEvaluator(embedder llm.Embedder) *Evaluator {
	return &Evaluator{embedder: embedder}
}

// Score compares the visible part of answer with reference. Reasoning
// segments are ignored. The result is in [0, 1] rounded to four places.
func (e *Evaluator) Score(ctx context.Context, answer, reference string) (float64, error) {
	if reference == "" {
		return 0, errors.New("empty reference answer")
	}

	main, _ := parse.Parse(answer)
	if main == "" {
		main = answer
	}

	vecs, err := e.embedder.Embed(ctx, []string{main, reference})
	if err != nil {
		return 0, fmt.Errorf("failed to embed for scoring: %w", err)
	}
	if len(vecs) != 2 {
		return 0, fmt.Errorf("embedding count mismatch: got %d, expected 2", len(vecs))
	}

	sim := CosineSimilarity(vecs[0], vecs[1])
	if sim < 0 {
		sim = 0
	}
	score := math.Round(sim*10000) / 10000

	logger.Debug("Answer scored", zap.Float64("score", score))
	return score, nil
}

func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var dataset Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	if dataset.URL == "" {
		return nil, errors.New("dataset has no url")
	}
	if len(dataset.Items) == 0 {
		return nil, errors.New("dataset has no items")
	}
	return &dataset, nil
}
