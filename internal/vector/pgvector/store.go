// Package pgvector stores page chunks in PostgreSQL with the vector
// extension.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/vector"
	"github.com/web-chatbot/backend/pkg/logger"
)

const defaultTable = "web_chunks"

type Store struct {
	db        *sql.DB
	table     string
	dimension int
}

func NewStore(ctx context.Context, dsn, table string, dimension int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if table == "" {
		table = defaultTable
	}

	logger.Info("pgvector store initialized", zap.String("table", table), zap.Int("dimension", dimension))

	return &Store{db: db, table: table, dimension: dimension}, nil
}

// EnsureSchema creates the extension, table and index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.table, s.dimension) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(table string, dimension int) []string {
	t := pq.QuoteIdentifier(table)
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			index_id TEXT NOT NULL,
			url TEXT NOT NULL,
			position INTEGER NOT NULL,
			body TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, t, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (index_id)`, pq.QuoteIdentifier(table+"_index_id"), t),
	}
}

func (s *Store) checkDimension(v []float32) error {
	if s.dimension > 0 && len(v) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", vector.ErrDimensionMismatch, len(v), s.dimension)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, chunks []vector.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return vector.ErrLengthMismatch
	}
	for _, v := range vectors {
		if err := s.checkDimension(v); err != nil {
			return err
		}
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, index_id, url, position, body, embedding) VALUES ($1, $2, $3, $4, $5, $6)`,
		pq.QuoteIdentifier(s.table),
	))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.IndexID, c.URL, c.Position, c.Text, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}

	logger.Debug("Chunks inserted", zap.Int("count", len(chunks)))
	return nil
}

// Search ranks by cosine distance; Score is the cosine similarity.
func (s *Store) Search(ctx context.Context, indexID string, query []float32, topK int) ([]vector.Hit, error) {
	if err := s.checkDimension(query); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, index_id, url, position, body, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE index_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`, pq.QuoteIdentifier(s.table)),
		pgvector.NewVector(query), indexID, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search query: %w", err)
	}
	defer rows.Close()

	var hits []vector.Hit
	for rows.Next() {
		var h vector.Hit
		if err := rows.Scan(&h.ID, &h.IndexID, &h.URL, &h.Position, &h.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}
	return hits, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
