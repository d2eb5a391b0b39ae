package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/web-chatbot/backend/internal/ingestion"
	"github.com/web-chatbot/backend/internal/registry"
	"github.com/web-chatbot/backend/internal/storage/models"
	"github.com/web-chatbot/backend/internal/vector"
)

type fakeModels map[string]registry.Descriptor

func (f fakeModels) Resolve(name string) (registry.Descriptor, error) {
	d, ok := f[name]
	if !ok {
		return registry.Descriptor{}, &registry.ConfigError{Model: name, Reason: "unknown model"}
	}
	return d, nil
}

type fakeInvoker struct {
	answer       string
	summary      string
	err          error
	passages     string
	summaryCalls int
	summaryInput string
}

func (f *fakeInvoker) Answer(ctx context.Context, d registry.Descriptor, question, passages string) (string, error) {
	f.passages = passages
	return f.answer, f.err
}

func (f *fakeInvoker) Summarize(ctx context.Context, d registry.Descriptor, text string) (string, error) {
	f.summaryCalls++
	f.summaryInput = text
	return f.summary, f.err
}

type fakeRetriever struct {
	hits []vector.Hit
	err  error
}

func (f *fakeRetriever) Query(ctx context.Context, h *ingestion.Handle, q string, k int) ([]vector.Hit, error) {
	return f.hits, f.err
}

type savedResult struct {
	key, model, answer string
	minutes            float64
	score              *float64
}

type fakeResults struct {
	saved []savedResult
	err   error
}

func (f *fakeResults) InsertResult(ctx context.Context, key, modelName, answer string, minutes float64, score *float64) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, savedResult{key, modelName, answer, minutes, score})
	return nil
}

type fakeLedger struct {
	rows []models.LedgerRow
	err  error
}

func (f *fakeLedger) Append(ctx context.Context, row models.LedgerRow) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, row)
	return nil
}

type fakeScorer struct {
	score float64
	err   error
}

func (f fakeScorer) Score(ctx context.Context, answer, reference string) (float64, error) {
	return f.score, f.err
}

type fakeSummaries map[string]string

func (f fakeSummaries) GetSummary(ctx context.Context, key string) (string, bool, error) {
	s, ok := f[key]
	return s, ok, nil
}

func (f fakeSummaries) SetSummary(ctx context.Context, key, summary string) error {
	f[key] = summary
	return nil
}

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	t := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		now := t
		t = t.Add(step)
		return now
	}
}

var testModels = fakeModels{
	"Deepseek": {Name: "Deepseek", Provider: registry.ProviderOllama, Model: "deepseek-r1:1.5b"},
}

func newTestEngine(inv *fakeInvoker, results *fakeResults, ledger *fakeLedger, scorer Scorer) *Engine {
	deps := Deps{
		Models:    testModels,
		Invoker:   inv,
		Retriever: &fakeRetriever{hits: []vector.Hit{{Chunk: vector.Chunk{ID: "i_chunk_0", Text: "Paris is the capital."}, Score: 0.9}}},
		Results:   results,
		Scorer:    scorer,
	}
	if ledger != nil {
		deps.Ledger = ledger
	}
	e := NewEngine(deps)
	e.now = steppingClock(90 * time.Second)
	return e
}

func TestAskRecordsResult(t *testing.T) {
	inv := &fakeInvoker{answer: "<think>it is Paris</think>Paris."}
	results := &fakeResults{}
	ledger := &fakeLedger{}
	e := newTestEngine(inv, results, ledger, fakeScorer{score: 0.91})

	resp, err := e.Ask(context.Background(), AskRequest{
		ExperimentKey: "experiment_2025-03-14 09:00:00",
		Model:         "Deepseek",
		Question:      "Capital?",
		Index:         &ingestion.Handle{IndexID: "i"},
		Reference:     "Paris",
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if resp.Main != "Paris." || resp.Reasoning == nil || *resp.Reasoning != "it is Paris" {
		t.Errorf("parsed answer = %q / %v", resp.Main, resp.Reasoning)
	}
	if resp.Minutes != 1.5 {
		t.Errorf("minutes = %v, want 1.5", resp.Minutes)
	}
	if resp.Score == nil || *resp.Score != 0.91 {
		t.Errorf("score = %v, want 0.91", resp.Score)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].ChunkID != "i_chunk_0" {
		t.Errorf("sources = %+v", resp.Sources)
	}
	if len(resp.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", resp.Warnings)
	}
	if !strings.Contains(inv.passages, "[1] Paris is the capital.") {
		t.Errorf("prompt passages = %q", inv.passages)
	}

	if len(results.saved) != 1 {
		t.Fatalf("saved %d results, want 1", len(results.saved))
	}
	got := results.saved[0]
	if got.model != "Deepseek" || got.answer != inv.answer || got.minutes != 1.5 || *got.score != 0.91 {
		t.Errorf("saved result = %+v", got)
	}
	if len(ledger.rows) != 1 || ledger.rows[0].Question != "Capital?" {
		t.Errorf("ledger rows = %+v", ledger.rows)
	}
}

func TestAskWithoutReferenceIsUnscored(t *testing.T) {
	results := &fakeResults{}
	e := newTestEngine(&fakeInvoker{answer: "Paris."}, results, nil, fakeScorer{score: 1})

	resp, err := e.Ask(context.Background(), AskRequest{
		ExperimentKey: "k", Model: "Deepseek", Question: "q", Index: &ingestion.Handle{IndexID: "i"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Score != nil || results.saved[0].score != nil {
		t.Error("answer without reference should have no score")
	}
}

func TestAskPersistenceFailuresBecomeWarnings(t *testing.T) {
	e := newTestEngine(
		&fakeInvoker{answer: "Paris."},
		&fakeResults{err: errors.New("store down")},
		&fakeLedger{err: errors.New("ledger down")},
		fakeScorer{err: errors.New("embedder down")},
	)

	resp, err := e.Ask(context.Background(), AskRequest{
		ExperimentKey: "k", Model: "Deepseek", Question: "q", Index: &ingestion.Handle{IndexID: "i"}, Reference: "r",
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Main != "Paris." {
		t.Errorf("answer = %q", resp.Main)
	}
	if len(resp.Warnings) != 3 {
		t.Errorf("warnings = %v, want 3", resp.Warnings)
	}
}

func TestAskErrors(t *testing.T) {
	boom := errors.New("model down")
	idx := &ingestion.Handle{IndexID: "i"}

	tests := []struct {
		name string
		req  AskRequest
		inv  *fakeInvoker
	}{
		{"missing key", AskRequest{Model: "Deepseek", Index: idx}, &fakeInvoker{}},
		{"missing index", AskRequest{ExperimentKey: "k", Model: "Deepseek"}, &fakeInvoker{}},
		{"unknown model", AskRequest{ExperimentKey: "k", Model: "Nope", Index: idx}, &fakeInvoker{}},
		{"model failure", AskRequest{ExperimentKey: "k", Model: "Deepseek", Index: idx}, &fakeInvoker{err: boom}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := &fakeResults{}
			e := newTestEngine(tt.inv, results, nil, nil)
			if _, err := e.Ask(context.Background(), tt.req); err == nil {
				t.Fatal("expected error")
			}
			if len(results.saved) != 0 {
				t.Error("failed ask recorded a result")
			}
		})
	}
}

func TestSummarizeCaches(t *testing.T) {
	inv := &fakeInvoker{summary: "<think>hm</think>Short."}
	cache := fakeSummaries{}
	e := NewEngine(Deps{Models: testModels, Invoker: inv, Summaries: cache, SummaryInputChars: 5})
	ctx := context.Background()

	first, err := e.Summarize(ctx, "Deepseek", "https://example.com/page", "a long page text")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if first.Cached || first.Main != "Short." || inv.summaryInput != "a lon" {
		t.Errorf("first summary = %+v, input %q", first, inv.summaryInput)
	}

	second, err := e.Summarize(ctx, "Deepseek", "https://example.com/page", "a long page text")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || inv.summaryCalls != 1 {
		t.Errorf("second summary cached=%v after %d model calls", second.Cached, inv.summaryCalls)
	}

	if _, err := e.Summarize(ctx, "Deepseek", "u", "   "); err == nil {
		t.Error("expected error for blank text")
	}
}

func TestSourcesTruncateExcerpt(t *testing.T) {
	long := strings.Repeat("é", 250)
	got := sources([]vector.Hit{{Chunk: vector.Chunk{Text: long}}})
	if n := len([]rune(got[0].Excerpt)); n != 200 {
		t.Errorf("excerpt runes = %d, want 200", n)
	}
}
