package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/web-chatbot/backend/internal/vector"
	"github.com/web-chatbot/backend/internal/vector/memory"
)

// letterEmbedder maps text to counts of a few letters, which is enough for
// related passages to land near each other.
type letterEmbedder struct {
	mu    sync.Mutex
	calls int
	texts int
}

func (e *letterEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 4)
		for _, r := range strings.ToLower(t) {
			switch r {
			case 'a':
				v[0]++
			case 'b':
				v[1]++
			case 'c':
				v[2]++
			case 'd':
				v[3]++
			}
		}
		out[i] = v
	}
	return out, nil
}

type mapCache struct {
	mu sync.Mutex
	m  map[string][]float32
}

func (c *mapCache) GetEmbedding(ctx context.Context, h string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[h]
	return v, ok, nil
}

func (c *mapCache) SetEmbedding(ctx context.Context, h string, v []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[h] = v
	return nil
}

func TestChunkText(t *testing.T) {
	p := NewProcessor(nil, nil, nil, 20, 6)

	chunks := p.chunkText("one two three four five six seven eight")
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 20 {
			t.Errorf("chunk %d %q longer than 20 bytes", i, c)
		}
	}

	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		first := strings.Fields(chunks[i])[0]
		if prev[len(prev)-1] != first {
			t.Errorf("chunk %d does not start with the last word of chunk %d: %q / %q", i, i-1, chunks[i-1], chunks[i])
		}
	}

	if got := p.chunkText("   \n\t "); got != nil {
		t.Errorf("chunkText(blank) = %v, want nil", got)
	}
	if got := p.chunkText("short text"); len(got) != 1 || got[0] != "short text" {
		t.Errorf("chunkText(short) = %v", got)
	}
}

func TestNewProcessorDefaults(t *testing.T) {
	p := NewProcessor(nil, nil, nil, 0, -1)
	if p.chunkSize != 1000 || p.chunkOverlap != 100 {
		t.Errorf("defaults = %d/%d, want 1000/100", p.chunkSize, p.chunkOverlap)
	}
}

func TestBuildIndexAndQuery(t *testing.T) {
	ctx := context.Background()
	store := memory.New(0)
	emb := &letterEmbedder{}
	p := NewProcessor(store, emb, nil, 30, 0)

	text := "aaaa aaaa aaaa aaaa aaaa aaaa bbbb bbbb bbbb bbbb bbbb bbbb cccc cccc cccc cccc cccc cccc"
	h, err := p.BuildIndex(ctx, "https://example.com", text)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if h.IndexID == "" || h.Chunks < 3 || h.URL != "https://example.com" {
		t.Fatalf("unexpected handle %+v", h)
	}

	hits, err := p.Query(ctx, h, "ccc?", 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || !strings.Contains(hits[0].Text, "cccc") {
		t.Errorf("hits = %+v, want the c passage", hits)
	}
	if !strings.HasPrefix(hits[0].ID, h.IndexID+"_chunk_") {
		t.Errorf("chunk id %q not derived from index id", hits[0].ID)
	}

	other, err := p.BuildIndex(ctx, "https://other.example", "dddd dddd")
	if err != nil {
		t.Fatal(err)
	}
	if other.IndexID == h.IndexID {
		t.Error("two builds share an index id")
	}
	hits, _ = p.Query(ctx, h, "dddd", 10)
	for _, hit := range hits {
		if hit.IndexID != h.IndexID {
			t.Errorf("query on first index returned chunk from %s", hit.IndexID)
		}
	}
}

func TestBuildIndexEmptyText(t *testing.T) {
	p := NewProcessor(memory.New(0), &letterEmbedder{}, nil, 100, 10)
	if _, err := p.BuildIndex(context.Background(), "u", "  "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("error = %v, want ErrEmptyText", err)
	}
}

func TestEmbedUsesCache(t *testing.T) {
	ctx := context.Background()
	emb := &letterEmbedder{}
	cache := &mapCache{m: map[string][]float32{}}
	p := NewProcessor(memory.New(0), emb, cache, 100, 10)

	if _, err := p.embed(ctx, []string{"abc", "dab"}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.embed(ctx, []string{"abc", "new"}); err != nil {
		t.Fatal(err)
	}

	if emb.calls != 2 || emb.texts != 3 {
		t.Errorf("embedder saw %d calls / %d texts, want 2 / 3", emb.calls, emb.texts)
	}
	if len(cache.m) != 3 {
		t.Errorf("cache holds %d vectors, want 3", len(cache.m))
	}
}

func TestFormatContext(t *testing.T) {
	if got := FormatContext(nil); got != "No relevant passages found." {
		t.Errorf("FormatContext(nil) = %q", got)
	}

	hits := []vector.Hit{
		{Chunk: vector.Chunk{Text: "first"}},
		{Chunk: vector.Chunk{Text: "second"}},
	}
	if got, want := FormatContext(hits), "[1] first\n\n[2] second"; got != want {
		t.Errorf("FormatContext = %q, want %q", got, want)
	}
}
