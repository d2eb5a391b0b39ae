package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/web-chatbot/backend/pkg/logger"
)

var ErrNotConnected = errors.New("document store is not connected")

// Params identifies one logical store: where the backend lives, which
// bucket to open and which root document to maintain inside it.
type Params struct {
	Driver   string
	Host     string
	User     string
	Password string
	Bucket   string
	Document string
}

func (p Params) String() string {
	return fmt.Sprintf("%s://%s/%s/%s", p.Driver, p.Host, p.Bucket, p.Document)
}

// Opener establishes a session with a backend and returns the bucket's
// default collection.
type Opener func(ctx context.Context, p Params) (Collection, error)

// Ensurer initializes the root document of a freshly opened collection.
type Ensurer func(ctx context.Context, coll Collection, id string) (Outcome, error)

// ConnectionError is returned when a store cannot be brought up. The
// store is unusable afterwards.
type ConnectionError struct {
	Params Params
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to document store %s: %v", e.Params, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Connection is a live collection handle plus the root document it owns.
type Connection struct {
	params  Params
	coll    Collection
	outcome Outcome
}

func (c *Connection) Collection() Collection {
	return c.coll
}

func (c *Connection) DocumentID() string {
	return c.params.Document
}

func (c *Connection) Params() Params {
	return c.params
}

// EnsureOutcome is what initialization did to the root document.
func (c *Connection) EnsureOutcome() Outcome {
	return c.outcome
}

func (c *Connection) Close() error {
	return c.coll.Close()
}

// Connect opens the backend, then ensures the root document. Either both
// succeed or the opened collection is closed and a *ConnectionError returned.
func Connect(ctx context.Context, p Params, open Opener, ensure Ensurer) (*Connection, error) {
	if p.Document == "" {
		return nil, &ConnectionError{Params: p, Err: errors.New("document id is required")}
	}
	if ensure == nil {
		ensure = EnsureDocument
	}

	coll, err := open(ctx, p)
	if err != nil {
		return nil, &ConnectionError{Params: p, Err: err}
	}

	outcome, err := ensure(ctx, coll, p.Document)
	if err != nil {
		_ = coll.Close()
		return nil, &ConnectionError{Params: p, Err: err}
	}

	logger.Info("Document store connected",
		zap.String("driver", p.Driver),
		zap.String("bucket", p.Bucket),
		zap.String("document", p.Document),
		zap.String("init", outcome.String()),
	)

	return &Connection{params: p, coll: coll, outcome: outcome}, nil
}

// Manager hands out one Connection per process. The first Connect call
// establishes it; later calls return the same connection (or the same
// error) whatever parameters they pass.
type Manager struct {
	open   Opener
	ensure Ensurer

	once sync.Once
	mu   sync.Mutex
	conn *Connection
	err  error
}

func NewManager(open Opener, ensure Ensurer) *Manager {
	return &Manager{open: open, ensure: ensure}
}

func (m *Manager) Connect(ctx context.Context, p Params) (*Connection, error) {
	m.once.Do(func() {
		conn, err := Connect(ctx, p, m.open, m.ensure)
		m.mu.Lock()
		m.conn, m.err = conn, err
		m.mu.Unlock()
	})
	if m.conn != nil && m.conn.params != p {
		logger.Debug("Reusing existing document store connection",
			zap.String("requested", p.String()),
			zap.String("active", m.conn.params.String()),
		)
	}
	return m.conn, m.err
}

// Connection returns the established connection without creating one.
func (m *Manager) Connection() (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil && m.err == nil {
		return nil, ErrNotConnected
	}
	return m.conn, m.err
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}
