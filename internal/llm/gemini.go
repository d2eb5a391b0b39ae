package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/web-chatbot/backend/internal/metrics"
	"github.com/web-chatbot/backend/pkg/circuitbreaker"
	"github.com/web-chatbot/backend/pkg/logger"
	"github.com/web-chatbot/backend/pkg/retry"
)

// GeminiClient completes prompts with a Google Gemini model.
type GeminiClient struct {
	client         *genai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewGeminiClient(ctx context.Context, opts ClientOptions) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}

	logger.Info("Gemini client initialized", zap.String("model", opts.Model))

	return &GeminiClient{
		client:         client,
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		temperature:    opts.Temperature,
		maxTokens:      opts.MaxTokens,
		timeout:        opts.Timeout,
		cb: circuitbreaker.NewCircuitBreaker("llm:"+opts.Model, circuitbreaker.Config{
			MaxRequests:      5,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			StateGauge:       metrics.CircuitState,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}, nil
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func (g *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(req.SystemPrompt)},
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = g.temperature
	}
	model.SetTemperature(temperature)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.maxTokens
	}
	if maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}

	var result *CompletionResponse

	err := g.cb.Execute(ctx, func() error {
		return retry.Do(ctx, g.retryConfig, func() error {
			resp, err := model.GenerateContent(ctx, genai.Text(req.UserPrompt))
			if err != nil {
				return fmt.Errorf("gemini generate content failed: %w", err)
			}
			if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				return ErrEmptyResponse
			}

			var text strings.Builder
			for _, part := range resp.Candidates[0].Content.Parts {
				if txt, ok := part.(genai.Text); ok {
					text.WriteString(string(txt))
				}
			}

			result = &CompletionResponse{Content: text.String()}
			if u := resp.UsageMetadata; u != nil {
				result.Usage = Usage{
					PromptTokens:     int(u.PromptTokenCount),
					CompletionTokens: int(u.CandidatesTokenCount),
					TotalTokens:      int(u.TotalTokenCount),
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues(g.model, "prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(g.model, "completion").Add(float64(result.Usage.CompletionTokens))

	return result, nil
}

func (g *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	em := g.client.EmbeddingModel(g.embeddingModel)
	embeddings := make([][]float32, 0, len(texts))

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		err := g.cb.Execute(ctx, func() error {
			return retry.Do(ctx, g.retryConfig, func() error {
				batch := em.NewBatch()
				for _, t := range texts[i:end] {
					batch.AddContent(genai.Text(t))
				}
				res, err := em.BatchEmbedContents(ctx, batch)
				if err != nil {
					return fmt.Errorf("gemini embedding request failed: %w", err)
				}
				if len(res.Embeddings) != end-i {
					return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(res.Embeddings), end-i)
				}
				for _, e := range res.Embeddings {
					embeddings = append(embeddings, e.Values)
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	return embeddings, nil
}
