package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/storage/docstore"
	"github.com/web-chatbot/backend/pkg/logger"
)

// Client stores CAS-versioned documents in one table keyed by (bucket, id).
type Client struct {
	db     *sql.DB
	bucket string
}

// Open treats p.Host as the database path.
func Open(ctx context.Context, p docstore.Params) (docstore.Collection, error) {
	c, err := NewClient(p.Host, p.Bucket)
	if err != nil {
		return nil, err
	}
	if err := c.InitSchema(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func NewClient(dbPath, bucket string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps the pragmas below in effect for every query
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath), zap.String("bucket", bucket))

	return &Client{db: db, bucket: bucket}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		bucket TEXT NOT NULL,
		id TEXT NOT NULL,
		body BLOB NOT NULL,
		cas INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (bucket, id)
	);
	`

	_, err := c.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) Get(ctx context.Context, id string) (*docstore.Document, error) {
	query := `SELECT body, cas FROM documents WHERE bucket = ? AND id = ?`

	doc := docstore.Document{ID: id}
	err := c.db.QueryRowContext(ctx, query, c.bucket, id).Scan(&doc.Body, &doc.CAS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

func (c *Client) Insert(ctx context.Context, id string, body []byte) (uint64, error) {
	query := `INSERT INTO documents (bucket, id, body, cas, updated_at) VALUES (?, ?, ?, 1, ?)`

	_, err := c.db.ExecContext(ctx, query, c.bucket, id, body, time.Now().Unix())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return 0, docstore.ErrDocumentExists
		}
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("bucket", c.bucket), zap.String("id", id))
	return 1, nil
}

func (c *Client) Replace(ctx context.Context, id string, body []byte, cas uint64) (uint64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current uint64
	err = tx.QueryRowContext(ctx, `SELECT cas FROM documents WHERE bucket = ? AND id = ?`, c.bucket, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, docstore.ErrDocumentNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cas: %w", err)
	}
	if cas != 0 && current != cas {
		return 0, docstore.ErrCASMismatch
	}

	next := current + 1
	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET body = ?, cas = ?, updated_at = ? WHERE bucket = ? AND id = ? AND cas = ?`,
		body, next, time.Now().Unix(), c.bucket, id, current,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to replace document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, docstore.ErrCASMismatch
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit replace: %w", err)
	}

	logger.Debug("Document replaced", zap.String("bucket", c.bucket), zap.String("id", id), zap.Uint64("cas", next))
	return next, nil
}

func (c *Client) Upsert(ctx context.Context, id string, body []byte) (uint64, error) {
	query := `
		INSERT INTO documents (bucket, id, body, cas, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(bucket, id) DO UPDATE SET
			body = excluded.body,
			cas = documents.cas + 1,
			updated_at = excluded.updated_at
		RETURNING cas
	`

	var cas uint64
	err := c.db.QueryRowContext(ctx, query, c.bucket, id, body, time.Now().Unix()).Scan(&cas)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert document: %w", err)
	}

	return cas, nil
}
