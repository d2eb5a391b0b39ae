package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/web-chatbot/backend/internal/query"
	"github.com/web-chatbot/backend/internal/session"
)

type Asker interface {
	Ask(ctx context.Context, req query.AskRequest) (*query.AskResponse, error)
}

type QueryHandler struct {
	sessions *session.Manager
	asker    Asker
}

func NewQueryHandler(sessions *session.Manager, asker Asker) *QueryHandler {
	return &QueryHandler{
		sessions: sessions,
		asker:    asker,
	}
}

type askBody struct {
	Model     string `json:"model"`
	Question  string `json:"question"`
	Reference string `json:"reference"`
}

// Ask answers a question with the chosen model and records it under the
// session's current experiment. A result that could not be saved still
// returns 200 with warnings.
func (h *QueryHandler) Ask(c *fiber.Ctx) error {
	var req askBody
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return badRequest(c, "Question is required")
	}
	if req.Model == "" {
		return badRequest(c, "Model is required")
	}

	resp, err := ask(c.UserContext(), h.sessions, h.asker, c.Params("id"), req)
	if err != nil {
		return respondError(c, "Failed to answer question", err)
	}
	return c.JSON(resp)
}

// ask checks the session is ready, runs the question and appends the turn
// to the session history.
func ask(ctx context.Context, sessions *session.Manager, asker Asker, id string, req askBody) (*query.AskResponse, error) {
	s, err := sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if s.Index == nil {
		return nil, session.ErrNoIndex
	}
	if s.ExperimentKey == "" {
		return nil, session.ErrNoExperiment
	}

	resp, err := asker.Ask(ctx, query.AskRequest{
		ExperimentKey: s.ExperimentKey,
		Model:         req.Model,
		Question:      req.Question,
		Index:         s.Index,
		Reference:     req.Reference,
	})
	if err != nil {
		return nil, err
	}

	_, err = sessions.Update(id, func(s *session.Session) error {
		s.History = append(s.History, session.Turn{
			Question: req.Question,
			Answer:   resp.Answer,
			Model:    resp.Model,
			Minutes:  resp.Minutes,
			At:       time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}
