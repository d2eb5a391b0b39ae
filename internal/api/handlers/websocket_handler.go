package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/session"
	"github.com/web-chatbot/backend/pkg/logger"
)

// WebSocketHandler answers questions for one session over a websocket,
// streaming the visible answer in word chunks.
type WebSocketHandler struct {
	sessions *session.Manager
	asker    Asker
	timeout  time.Duration
}

func NewWebSocketHandler(sessions *session.Manager, asker Asker, timeout time.Duration) *WebSocketHandler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &WebSocketHandler{
		sessions: sessions,
		asker:    asker,
		timeout:  timeout,
	}
}

type wsMessage struct {
	Type      string `json:"type"`
	Model     string `json:"model"`
	Question  string `json:"question"`
	Reference string `json:"reference"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	id := c.Params("id")
	logger.Info("WebSocket connection established", zap.String("session_id", id))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("session_id", id))
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if msg.Type != "ask" {
			continue
		}
		msg.Question = strings.TrimSpace(msg.Question)
		if msg.Question == "" || msg.Model == "" {
			h.sendError(c, "model and question are required")
			continue
		}

		if err := h.streamAnswer(c, id, msg); err != nil {
			logger.Error("Failed to stream answer", zap.String("session_id", id), zap.Error(err))
			h.sendError(c, err.Error())
		}
	}
}

func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, id string, msg wsMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.send(c, "status", map[string]interface{}{"content": "Processing question..."}); err != nil {
		return err
	}

	resp, err := ask(ctx, h.sessions, h.asker, id, askBody{
		Model:     msg.Model,
		Question:  msg.Question,
		Reference: msg.Reference,
	})
	if err != nil {
		return err
	}

	if resp.Reasoning != nil {
		if err := h.send(c, "reasoning", map[string]interface{}{"content": *resp.Reasoning}); err != nil {
			return err
		}
	}

	words := splitIntoWords(resp.Main)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := h.send(c, "chunk", map[string]interface{}{"content": chunk}); err != nil {
			return err
		}
	}

	return h.send(c, "complete", map[string]interface{}{
		"experiment_key": resp.ExperimentKey,
		"model":          resp.Model,
		"time":           resp.Minutes,
		"score":          resp.Score,
		"sources":        resp.Sources,
		"warnings":       resp.Warnings,
	})
}

func (h *WebSocketHandler) send(c *websocket.Conn, msgType string, fields map[string]interface{}) error {
	fields["type"] = msgType
	return c.WriteJSON(fields)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	_ = c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

func splitIntoWords(text string) []string {
	words := []string{}
	var current strings.Builder

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			current.WriteRune(char)
		}
	}

	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}
