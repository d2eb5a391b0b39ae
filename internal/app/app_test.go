package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/web-chatbot/backend/internal/storage/docstore"
	"github.com/web-chatbot/backend/pkg/config"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	models := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(models, []byte("Qwen:\n  provider: ollama\n  model: qwen3:1.7b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.Stores.Experiments = config.StoreConfig{Driver: "memory", Document: "experiments"}
	cfg.Stores.Ledger = config.StoreConfig{Driver: "memory", Document: "results"}
	cfg.Stores.MaxRetries = 5
	cfg.Models.Path = models
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.Model = "nomic-embed-text"
	cfg.Vector.Type = "memory"
	cfg.LLM.TimeoutSec = 5
	cfg.RateLimit.RequestsPerMinute = 10
	cfg.Security.IsDevelopment = true
	return cfg
}

func TestOpenCollection(t *testing.T) {
	ctx := context.Background()

	coll, err := OpenCollection(ctx, docstore.Params{Driver: "memory"})
	if err != nil {
		t.Fatalf("memory driver: %v", err)
	}
	_ = coll.Close()

	if _, err := OpenCollection(ctx, docstore.Params{Driver: "couchbase"}); err == nil {
		t.Error("expected error for unsupported driver")
	}

	coll, err = OpenCollection(ctx, docstore.Params{Driver: "sqlite", Host: filepath.Join(t.TempDir(), "store.db"), Bucket: "bench"})
	if err != nil {
		t.Fatalf("sqlite driver: %v", err)
	}
	_ = coll.Close()
}

func TestOpenStores(t *testing.T) {
	ctx := context.Background()
	stores, err := OpenStores(ctx, memoryConfig(t))
	if err != nil {
		t.Fatalf("OpenStores: %v", err)
	}
	defer stores.Close()

	key, err := stores.Experiments.InitExperiment(ctx, "https://example.com", "Capital?")
	if err != nil {
		t.Fatalf("InitExperiment: %v", err)
	}
	if err := stores.Experiments.InsertResult(ctx, key, "Qwen", "Paris.", 0.5, nil); err != nil {
		t.Fatalf("InsertResult: %v", err)
	}

	rows, err := stores.Ledger.Read(ctx)
	if err != nil {
		t.Fatalf("ledger Read: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("ledger has %d rows, want 0", len(rows))
	}
}

func TestOpenStoresReportsConnectionError(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Stores.Ledger.Driver = "couchbase"

	_, err := OpenStores(context.Background(), cfg)
	var connErr *docstore.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want *docstore.ConnectionError", err)
	}
}

func TestNewServesRoutes(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	resp, err := a.Fiber.Test(httptest.NewRequest("GET", "/api/v1/models", nil))
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Models []string `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Models) != 1 || body.Models[0] != "Qwen" {
		t.Errorf("models = %v", body.Models)
	}

	resp, err = a.Fiber.Test(httptest.NewRequest("GET", "/api/v1/experiments/latest", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("latest on empty store = %d, want 404", resp.StatusCode)
	}

	resp, err = a.Fiber.Test(httptest.NewRequest("GET", "/ws/sessions/x", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 426 {
		t.Errorf("plain GET on websocket route = %d, want 426", resp.StatusCode)
	}
}

func TestExperimentRoutesAcceptEscapedKeys(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	key, err := a.Stores.Experiments.InitExperiment(ctx, "https://example.com", "What is it?")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Stores.Experiments.InsertResult(ctx, key, "Qwen", "An example.", 0.5, nil); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{
		"/api/v1/experiments/" + url.PathEscape(key) + "/rows",
		"/api/v1/experiments/" + url.PathEscape(key) + "/rows/0",
	} {
		resp, err := a.Fiber.Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != 200 {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestNewFailsOnUnknownVectorStore(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Vector.Type = "pinecone"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("expected error for unsupported vector store")
	}
}
