package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/experiment"
	"github.com/web-chatbot/backend/internal/extract"
	"github.com/web-chatbot/backend/internal/ingestion"
	"github.com/web-chatbot/backend/internal/query"
	"github.com/web-chatbot/backend/internal/session"
	"github.com/web-chatbot/backend/internal/storage/models"
	"github.com/web-chatbot/backend/pkg/logger"
)

const previewChars = 500

type Extractor interface {
	Extract(ctx context.Context, url string) (*extract.Page, error)
	Forget(ctx context.Context, url string) error
}

type Indexer interface {
	BuildIndex(ctx context.Context, url, text string) (*ingestion.Handle, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, modelName, url, text string) (*query.SummaryResponse, error)
}

type ExperimentStore interface {
	InitExperiment(ctx context.Context, url, question string) (string, error)
	ReadAll(ctx context.Context) (map[string]models.Experiment, error)
	ReadMostRecent(ctx context.Context) (*experiment.Entry, error)
	Get(ctx context.Context, key string) (*models.Experiment, error)
}

// SessionHandler drives the page workflow: extract, summarize, embed and
// register an experiment.
type SessionHandler struct {
	sessions   *session.Manager
	extractor  Extractor
	indexer    Indexer
	summarizer Summarizer
	store      ExperimentStore
}

func NewSessionHandler(sessions *session.Manager, extractor Extractor, indexer Indexer, summarizer Summarizer, store ExperimentStore) *SessionHandler {
	return &SessionHandler{
		sessions:   sessions,
		extractor:  extractor,
		indexer:    indexer,
		summarizer: summarizer,
		store:      store,
	}
}

func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	var req struct {
		URL     string `json:"url"`
		Refresh bool   `json:"refresh"`
	}

	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return badRequest(c, "URL is required")
	}

	if req.Refresh {
		if err := h.extractor.Forget(c.UserContext(), req.URL); err != nil {
			logger.Warn("Failed to drop cached page", zap.String("url", req.URL), zap.Error(err))
		}
	}

	page, err := h.extractor.Extract(c.UserContext(), req.URL)
	if err != nil {
		return respondError(c, "Failed to extract page", err)
	}

	s := h.sessions.Create(page.URL, page.Title, page.Text)

	logger.Info("Session created", zap.String("session_id", s.ID), zap.String("url", page.URL))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session":   s,
		"preview":   preview(page.Text),
		"chars":     len([]rune(page.Text)),
		"truncated": page.Truncated,
	})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	s, err := h.sessions.Get(c.Params("id"))
	if err != nil {
		return respondError(c, "Session not found", err)
	}
	return c.JSON(s)
}

func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	h.sessions.Delete(c.Params("id"))
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SessionHandler) GetText(c *fiber.Ctx) error {
	s, err := h.sessions.Get(c.Params("id"))
	if err != nil {
		return respondError(c, "Session not found", err)
	}
	if s.Text == "" {
		return respondError(c, "No text extracted", session.ErrNoText)
	}
	return c.JSON(fiber.Map{
		"url":   s.URL,
		"title": s.Title,
		"text":  s.Text,
	})
}

func (h *SessionHandler) Summarize(c *fiber.Ctx) error {
	var req struct {
		Model string `json:"model"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Model == "" {
		return badRequest(c, "Model is required")
	}

	id := c.Params("id")
	s, err := h.sessions.Get(id)
	if err != nil {
		return respondError(c, "Session not found", err)
	}
	if s.Text == "" {
		return respondError(c, "No text extracted", session.ErrNoText)
	}

	resp, err := h.summarizer.Summarize(c.UserContext(), req.Model, s.URL, s.Text)
	if err != nil {
		return respondError(c, "Failed to summarize", err)
	}

	_, err = h.sessions.Update(id, func(s *session.Session) error {
		s.Summary = resp.Summary
		return nil
	})
	if err != nil {
		return respondError(c, "Session not found", err)
	}

	return c.JSON(resp)
}

func (h *SessionHandler) CreateEmbeddings(c *fiber.Ctx) error {
	id := c.Params("id")
	s, err := h.sessions.Get(id)
	if err != nil {
		return respondError(c, "Session not found", err)
	}
	if s.Index != nil {
		return c.JSON(fiber.Map{"index": s.Index, "created": false})
	}
	if s.Text == "" {
		return respondError(c, "No text extracted", session.ErrNoText)
	}

	handle, err := h.indexer.BuildIndex(c.UserContext(), s.URL, s.Text)
	if err != nil {
		return respondError(c, "Failed to create embeddings", err)
	}

	_, err = h.sessions.Update(id, func(s *session.Session) error {
		s.Index = handle
		return nil
	})
	if err != nil {
		return respondError(c, "Session not found", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"index": handle, "created": true})
}

// CreateExperiment registers a new experiment for the session's page. The
// question given here is the one stored with the experiment.
func (h *SessionHandler) CreateExperiment(c *fiber.Ctx) error {
	var req struct {
		Question string `json:"question"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return badRequest(c, "Question is required")
	}

	id := c.Params("id")
	s, err := h.sessions.Get(id)
	if err != nil {
		return respondError(c, "Session not found", err)
	}
	if s.Index == nil {
		return respondError(c, "Create embeddings first", session.ErrNoIndex)
	}

	key, err := h.store.InitExperiment(c.UserContext(), s.URL, req.Question)
	if err != nil {
		return respondError(c, "Failed to register experiment", err)
	}

	_, err = h.sessions.Update(id, func(s *session.Session) error {
		s.ExperimentKey = key
		return nil
	})
	if err != nil {
		return respondError(c, "Session not found", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"experiment_key": key,
	})
}

func (h *SessionHandler) GetHistory(c *fiber.Ctx) error {
	s, err := h.sessions.Get(c.Params("id"))
	if err != nil {
		return respondError(c, "Session not found", err)
	}

	if c.Query("format") == "text" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="chat_history.txt"`)
		return c.SendString(s.HistoryText())
	}

	return c.JSON(fiber.Map{
		"history": s.History,
	})
}

func (h *SessionHandler) ClearHistory(c *fiber.Ctx) error {
	_, err := h.sessions.Update(c.Params("id"), func(s *session.Session) error {
		s.History = []session.Turn{}
		return nil
	})
	if err != nil {
		return respondError(c, "Session not found", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewChars {
		return text
	}
	return string(r[:previewChars]) + "..."
}
