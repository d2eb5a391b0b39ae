package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/web-chatbot/backend/internal/registry"
)

func TestOllamaBaseURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"", "http://localhost:11434/v1"},
		{"http://gpu-box:11434", "http://gpu-box:11434/v1"},
		{"http://gpu-box:11434/", "http://gpu-box:11434/v1"},
		{"http://gpu-box:11434/v1", "http://gpu-box:11434/v1"},
	}

	for _, tt := range tests {
		if got := OllamaBaseURL(tt.host); got != tt.want {
			t.Errorf("OllamaBaseURL(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, true},
		{"server error", fmt.Errorf("wrapped: %w", &openai.APIError{HTTPStatusCode: 503}), true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, false},
		{"unauthorized request", &openai.RequestError{HTTPStatusCode: 401}, false},
		{"gateway request", &openai.RequestError{HTTPStatusCode: 502}, true},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), false},
		{"network", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable = %v, want %v", got, tt.want)
			}
		})
	}
}

type recordingModel struct {
	reqs   []CompletionRequest
	reply  string
	err    error
	closed bool
}

func (m *recordingModel) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	return &CompletionResponse{Content: m.reply}, nil
}

func (m *recordingModel) Close() error {
	m.closed = true
	return nil
}

func TestInvokerReusesModels(t *testing.T) {
	model := &recordingModel{reply: "Paris."}
	var built int
	inv := NewInvoker(func(ctx context.Context, d registry.Descriptor) (ChatModel, error) {
		built++
		return model, nil
	})
	d := registry.Descriptor{Name: "Qwen", Temperature: 0.2}
	ctx := context.Background()

	answer, err := inv.Answer(ctx, d, "Capital?", "[1] Paris is the capital.")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer != "Paris." {
		t.Errorf("answer = %q", answer)
	}
	if _, err := inv.Summarize(ctx, d, "page text"); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if built != 1 {
		t.Errorf("factory called %d times, want 1", built)
	}
	if !strings.Contains(model.reqs[0].UserPrompt, "question: Capital?") ||
		!strings.Contains(model.reqs[0].UserPrompt, "[1] Paris is the capital.") {
		t.Errorf("answer prompt = %q", model.reqs[0].UserPrompt)
	}
	if model.reqs[0].Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", model.reqs[0].Temperature)
	}
	if model.reqs[1].SystemPrompt != summarySystemPrompt {
		t.Error("summary used the wrong system prompt")
	}

	if err := inv.Close(); err != nil {
		t.Fatal(err)
	}
	if !model.closed {
		t.Error("Close did not close the model")
	}
}

func TestInvokerErrors(t *testing.T) {
	boom := errors.New("boom")
	d := registry.Descriptor{Name: "Qwen"}

	failing := NewInvoker(func(ctx context.Context, d registry.Descriptor) (ChatModel, error) {
		return nil, boom
	})
	if _, err := failing.Answer(context.Background(), d, "q", "p"); !errors.Is(err, boom) {
		t.Errorf("factory error = %v", err)
	}

	broken := NewInvoker(func(ctx context.Context, d registry.Descriptor) (ChatModel, error) {
		return &recordingModel{err: boom}, nil
	})
	if _, err := broken.Summarize(context.Background(), d, "text"); !errors.Is(err, boom) {
		t.Errorf("completion error = %v", err)
	}
}

func TestFactoryRejectsUnknownProvider(t *testing.T) {
	f := NewFactory(512, time.Second)
	if _, err := f(context.Background(), registry.Descriptor{Name: "x", Provider: "bedrock"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := NewEmbedder(context.Background(), "bedrock", "m", "", "", time.Second); err == nil {
		t.Error("expected error for unknown embedding provider")
	}
}

func openAIServer(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
			return
		}

		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			var req openai.ChatCompletionRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"choices": []map[string]interface{}{
					{"index": 0, "message": map[string]string{"role": "assistant", "content": "echo " + req.Model}},
				},
				"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
			})
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			var req struct {
				Input []string `json:"input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			data := make([]map[string]interface{}, len(req.Input))
			for i, in := range req.Input {
				data[i] = map[string]interface{}{"object": "embedding", "index": i, "embedding": []float32{float32(len(in)), 1}}
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClientAgainstOllamaCompatibleServer(t *testing.T) {
	srv, _ := openAIServer(t, http.StatusOK)
	ctx := context.Background()

	c := NewClient(ClientOptions{BaseURL: OllamaBaseURL(srv.URL), Model: "qwen3:1.7b", EmbeddingModel: "nomic-embed-text", Timeout: 5 * time.Second})

	resp, err := c.Complete(ctx, CompletionRequest{SystemPrompt: "s", UserPrompt: "u"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "echo qwen3:1.7b" || resp.Usage.TotalTokens != 5 {
		t.Errorf("response = %+v", resp)
	}

	vecs, err := c.Embed(ctx, []string{"ab", "abcd"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 2 || vecs[1][0] != 4 {
		t.Errorf("embeddings = %v", vecs)
	}

	if vecs, err := c.Embed(ctx, nil); err != nil || vecs != nil {
		t.Errorf("Embed(nil) = %v, %v", vecs, err)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	srv, hits := openAIServer(t, http.StatusBadRequest)
	c := NewClient(ClientOptions{BaseURL: srv.URL + "/v1", Model: "gpt-4o", Timeout: 5 * time.Second})

	if _, err := c.Complete(context.Background(), CompletionRequest{UserPrompt: "u"}); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Errorf("server hit %d times, want 1", got)
	}
}
