package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/ingestion"
	"github.com/web-chatbot/backend/internal/metrics"
	"github.com/web-chatbot/backend/internal/parse"
	"github.com/web-chatbot/backend/internal/registry"
	"github.com/web-chatbot/backend/internal/storage/models"
	"github.com/web-chatbot/backend/internal/vector"
	"github.com/web-chatbot/backend/pkg/logger"
	"github.com/web-chatbot/backend/pkg/utils"
)

type Resolver interface {
	Resolve(name string) (registry.Descriptor, error)
}

type Invoker interface {
	Answer(ctx context.Context, d registry.Descriptor, question, passages string) (string, error)
	Summarize(ctx context.Context, d registry.Descriptor, text string) (string, error)
}

type Retriever interface {
	Query(ctx context.Context, h *ingestion.Handle, question string, k int) ([]vector.Hit, error)
}

type ResultStore interface {
	InsertResult(ctx context.Context, key, modelName, answer string, minutes float64, score *float64) error
}

type LedgerAppender interface {
	Append(ctx context.Context, row models.LedgerRow) error
}

type Scorer interface {
	Score(ctx context.Context, answer, reference string) (float64, error)
}

type SummaryCache interface {
	GetSummary(ctx context.Context, key string) (string, bool, error)
	SetSummary(ctx context.Context, key, summary string) error
}

type Engine struct {
	models    Resolver
	invoker   Invoker
	retriever Retriever
	results   ResultStore
	ledger    LedgerAppender
	scorer    Scorer
	summaries SummaryCache
	topK      int
	summaryIn int
	now       func() time.Time
}

type Deps struct {
	Models    Resolver
	Invoker   Invoker
	Retriever Retriever
	Results   ResultStore

	// Ledger, Scorer and Summaries are optional.
	Ledger    LedgerAppender
	Scorer    Scorer
	Summaries SummaryCache

	TopK int

	// SummaryInputChars caps the page text sent for summarization.
	SummaryInputChars int
}

func NewEngine(d Deps) *Engine {
	if d.TopK <= 0 {
		d.TopK = 5
	}
	return &Engine{
		models:    d.Models,
		invoker:   d.Invoker,
		retriever: d.Retriever,
		results:   d.Results,
		ledger:    d.Ledger,
		scorer:    d.Scorer,
		summaries: d.Summaries,
		topK:      d.TopK,
		summaryIn: d.SummaryInputChars,
		now:       time.Now,
	}
}

type AskRequest struct {
	ExperimentKey string
	Model         string
	Question      string
	Index         *ingestion.Handle
	// Reference, when set, is a known good answer used to score this one.
	Reference     string
}

type Source struct {
	ChunkID  string  `json:"chunk_id"`
	Position int     `json:"position"`
	Score    float32 `json:"score"`
	Excerpt  string  `json:"excerpt"`
}

type AskResponse struct {
	ExperimentKey string   `json:"experiment_key"`
	Model         string   `json:"model"`
	Question      string   `json:"question"`
	Answer        string   `json:"answer"`
	Main          string   `json:"main"`
	Reasoning     *string  `json:"reasoning"`
	Minutes       float64  `json:"time"`
	Score         *float64 `json:"score"`
	Sources       []Source `json:"sources"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Ask answers question with the named model against the session index and
// records the result under the experiment. Failing to persist does not fail
// the call; the answer comes back with a warning instead.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	if req.ExperimentKey == "" {
		return nil, errors.New("experiment key is required")
	}
	if req.Index == nil {
		return nil, errors.New("index is required")
	}

	desc, err := e.models.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	logger.Info("Processing question",
		zap.String("experiment", req.ExperimentKey),
		zap.String("model", desc.Name),
		zap.String("question", req.Question),
	)

	start := e.now()

	hits, err := e.retriever.Query(ctx, req.Index, req.Question, e.topK)
	if err != nil {
		metrics.AnswersTotal.WithLabelValues(desc.Name, "error").Inc()
		return nil, fmt.Errorf("failed to retrieve passages: %w", err)
	}

	answer, err := e.invoker.Answer(ctx, desc, req.Question, ingestion.FormatContext(hits))
	if err != nil {
		metrics.AnswersTotal.WithLabelValues(desc.Name, "error").Inc()
		return nil, err
	}

	elapsed := e.now().Sub(start)
	minutes := elapsed.Minutes()
	metrics.AnswerDuration.WithLabelValues(desc.Name).Observe(elapsed.Seconds())
	metrics.AnswersTotal.WithLabelValues(desc.Name, "success").Inc()

	resp := &AskResponse{
		ExperimentKey: req.ExperimentKey,
		Model:         desc.Name,
		Question:      req.Question,
		Answer:        answer,
		Minutes:       minutes,
		Sources:       sources(hits),
	}
	parsed := parse.ParseResponse(answer)
	resp.Main = parsed.Display(answer)
	resp.Reasoning = parsed.Reasoning

	if req.Reference != "" && e.scorer != nil {
		s, err := e.scorer.Score(ctx, answer, req.Reference)
		if err != nil {
			logger.Warn("Failed to score answer", zap.Error(err))
			resp.Warnings = append(resp.Warnings, "answer was not scored: "+err.Error())
		} else {
			resp.Score = &s
		}
	}

	if err := e.results.InsertResult(ctx, req.ExperimentKey, desc.Name, answer, minutes, resp.Score); err != nil {
		resp.Warnings = append(resp.Warnings, "failed to save result: "+err.Error())
	}

	if e.ledger != nil {
		row := models.LedgerRow{
			ModelName: desc.Name,
			Question:  req.Question,
			Answer:    answer,
			Minutes:   minutes,
			Score:     resp.Score,
		}
		if err := e.ledger.Append(ctx, row); err != nil {
			resp.Warnings = append(resp.Warnings, "failed to save ledger row: "+err.Error())
		}
	}

	logger.Info("Question answered",
		zap.String("experiment", req.ExperimentKey),
		zap.String("model", desc.Name),
		zap.Float64("minutes", minutes),
		zap.Int("warnings", len(resp.Warnings)),
	)

	return resp, nil
}

type SummaryResponse struct {
	Model     string  `json:"model"`
	Summary   string  `json:"summary"`
	Main      string  `json:"main"`
	Reasoning *string `json:"reasoning"`
	Cached    bool    `json:"cached"`
}

// Summarize condenses page text with the named model. Summaries are cached
// per URL and model.
func (e *Engine) Summarize(ctx context.Context, modelName, url, text string) (*SummaryResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("no text to summarize")
	}

	desc, err := e.models.Resolve(modelName)
	if err != nil {
		return nil, err
	}

	key := utils.HashURL(url) + ":" + desc.Name
	if e.summaries != nil {
		if s, ok, err := e.summaries.GetSummary(ctx, key); err != nil {
			logger.Warn("Summary cache read failed", zap.Error(err))
		} else if ok {
			return summaryResponse(desc.Name, s, true), nil
		}
	}

	input := text
	if e.summaryIn > 0 && len([]rune(input)) > e.summaryIn {
		input = string([]rune(input)[:e.summaryIn])
	}

	summary, err := e.invoker.Summarize(ctx, desc, input)
	if err != nil {
		return nil, err
	}

	if e.summaries != nil {
		if err := e.summaries.SetSummary(ctx, key, summary); err != nil {
			logger.Warn("Summary cache write failed", zap.Error(err))
		}
	}
	return summaryResponse(desc.Name, summary, false), nil
}

func summaryResponse(model, summary string, cached bool) *SummaryResponse {
	parsed := parse.ParseResponse(summary)
	return &SummaryResponse{
		Model:     model,
		Summary:   summary,
		Main:      parsed.Main,
		Reasoning: parsed.Reasoning,
		Cached:    cached,
	}
}

func sources(hits []vector.Hit) []Source {
	out := make([]Source, 0, len(hits))
	for _, h := range hits {
		excerpt := h.Text
		if r := []rune(excerpt); len(r) > 200 {
			excerpt = string(r[:200])
		}
		out = append(out, Source{
			ChunkID:  h.ID,
			Position: h.Position,
			Score:    h.Score,
			Excerpt:  excerpt,
		})
	}
	return out
}
