package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/registry"
	"github.com/web-chatbot/backend/pkg/logger"
)

// Factory builds a chat model for a resolved descriptor.
type Factory func(ctx context.Context, d registry.Descriptor) (ChatModel, error)

// NewFactory returns the Factory for real providers. Ollama and OpenAI use
// the OpenAI client; Gemini uses the genai client.
func NewFactory(maxTokens int, timeout time.Duration) Factory {
	return func(ctx context.Context, d registry.Descriptor) (ChatModel, error) {
		opts := ClientOptions{
			APIKey:      d.APIKey,
			BaseURL:     d.BaseURL,
			Model:       d.Model,
			Temperature: d.Temperature,
			MaxTokens:   maxTokens,
			Timeout:     timeout,
		}
		if d.MaxTokens > 0 {
			opts.MaxTokens = d.MaxTokens
		}

		switch d.Provider {
		case registry.ProviderOllama:
			opts.BaseURL = OllamaBaseURL(d.BaseURL)
			opts.APIKey = "ollama"
			return NewClient(opts), nil
		case registry.ProviderOpenAI:
			return NewClient(opts), nil
		case registry.ProviderGemini:
			g, err := NewGeminiClient(ctx, opts)
			if err != nil {
				return nil, err
			}
			return g, nil
		default:
			return nil, fmt.Errorf("unsupported provider %q", d.Provider)
		}
	}
}

// Invoker answers and summarizes with whichever model a descriptor names.
// Clients are built once per model name and reused.
type Invoker struct {
	factory Factory

	mu     sync.Mutex
	models map[string]ChatModel
}

func NewInvoker(factory Factory) *Invoker {
	return &Invoker{
		factory: factory,
		models:  make(map[string]ChatModel),
	}
}

func (i *Invoker) model(ctx context.Context, d registry.Descriptor) (ChatModel, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if m, ok := i.models[d.Name]; ok {
		return m, nil
	}
	m, err := i.factory(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to create model %q: %w", d.Name, err)
	}
	i.models[d.Name] = m
	return m, nil
}

// Answer asks the model a question grounded on the given context passages.
func (i *Invoker) Answer(ctx context.Context, d registry.Descriptor, question, passages string) (string, error) {
	m, err := i.model(ctx, d)
	if err != nil {
		return "", err
	}

	resp, err := m.Complete(ctx, CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   answerUserPrompt(question, passages),
		Temperature:  d.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	logger.Info("Answer generated",
		zap.String("model", d.Name),
		zap.Int("answer_length", len(resp.Content)),
	)
	return resp.Content, nil
}

// Summarize condenses page text with the given model.
func (i *Invoker) Summarize(ctx context.Context, d registry.Descriptor, text string) (string, error) {
	m, err := i.model(ctx, d)
	if err != nil {
		return "", err
	}

	resp, err := m.Complete(ctx, CompletionRequest{
		SystemPrompt: summarySystemPrompt,
		UserPrompt:   summaryUserPrompt(text),
		Temperature:  d.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}

	logger.Info("Document summarized", zap.String("model", d.Name), zap.Int("summary_length", len(resp.Content)))
	return resp.Content, nil
}

// Close releases clients that hold connections.
func (i *Invoker) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var firstErr error
	for name, m := range i.models {
		if c, ok := m.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(i.models, name)
	}
	return firstErr
}

// NewEmbedder builds the embedder used for indexing and scoring. Provider is
// one of the registry provider kinds.
func NewEmbedder(ctx context.Context, provider registry.Provider, model, baseURL, apiKey string, timeout time.Duration) (Embedder, error) {
	opts := ClientOptions{
		APIKey:         apiKey,
		BaseURL:        baseURL,
		EmbeddingModel: model,
		Model:          "embed:" + model,
		Timeout:        timeout,
	}

	switch provider {
	case registry.ProviderOllama:
		opts.BaseURL = OllamaBaseURL(baseURL)
		opts.APIKey = "ollama"
		return NewClient(opts), nil
	case registry.ProviderOpenAI:
		return NewClient(opts), nil
	case registry.ProviderGemini:
		g, err := NewGeminiClient(ctx, opts)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", provider)
	}
}
