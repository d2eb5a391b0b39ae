// Package session keeps per-user chat state in memory: the page being
// discussed, its index, the current experiment and the conversation.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/web-chatbot/backend/internal/ingestion"
	"github.com/web-chatbot/backend/internal/metrics"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrNoText       = errors.New("no page text extracted")
	ErrNoIndex      = errors.New("embeddings not created")
	ErrNoExperiment = errors.New("no experiment registered")
)

type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Model    string    `json:"model"`
	Minutes  float64   `json:"time"`
	At       time.Time `json:"at"`
}

type Session struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Title         string            `json:"title"`
	Text          string            `json:"-"`
	Summary       string            `json:"summary,omitempty"`
	Index         *ingestion.Handle `json:"index,omitempty"`
	ExperimentKey string            `json:"experiment_key,omitempty"`
	History       []Turn            `json:"history"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// clone copies s deep enough that callers can read it without the lock.
func (s *Session) clone() *Session {
	cp := *s
	cp.History = append([]Turn(nil), s.History...)
	if s.Index != nil {
		idx := *s.Index
		cp.Index = &idx
	}
	return &cp
}

// HistoryText renders the conversation as plain text, one block per turn.
func (s *Session) HistoryText() string {
	blocks := make([]string, 0, len(s.History))
	for _, t := range s.History {
		blocks = append(blocks, fmt.Sprintf("User: %s\nBot: %s\nTime: %.2f min", t.Question, t.Answer, t.Minutes))
	}
	return strings.Join(blocks, "\n\n")
}

type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewManager keeps sessions for ttl after their last update. ttl <= 0
// keeps them until deleted.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *Manager) Create(url, title, text string) *Session {
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		URL:       url,
		Title:     title,
		Text:      text,
		History:   []Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(now)
	m.sessions[s.ID] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return s.clone()
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.clone(), nil
}

// Update applies fn to the session under the manager lock. fn must not
// block; it returns an error to leave the session unchanged.
func (m *Manager) Update(id string, fn func(*Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	draft := s.clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	draft.UpdatedAt = m.now()
	m.sessions[id] = draft
	return draft.clone(), nil
}

func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) sweepLocked(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	for id, s := range m.sessions {
		if now.Sub(s.UpdatedAt) > m.ttl {
			delete(m.sessions, id)
		}
	}
}
