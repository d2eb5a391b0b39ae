// Package docstore is the access layer for CAS-versioned JSON documents.
//
// A Collection stores whole documents by id. Every write returns a new CAS
// token and conditional writes fail with ErrCASMismatch when the stored
// token moved on, which is what callers build optimistic read-modify-write
// loops on.
package docstore

import (
	"context"
	"errors"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
	ErrCASMismatch      = errors.New("document changed since it was read")
	ErrClosed           = errors.New("collection is closed")
)

// Document is a stored body together with the CAS token it was read at.
type Document struct {
	ID   string
	Body []byte
	CAS  uint64
}

type Collection interface {
	// Get returns ErrDocumentNotFound when id is absent.
	Get(ctx context.Context, id string) (*Document, error)
	// Insert fails with ErrDocumentExists when id is present.
	Insert(ctx context.Context, id string, body []byte) (uint64, error)
	// Replace writes only if the stored CAS equals cas. A zero cas skips the check.
	Replace(ctx context.Context, id string, body []byte, cas uint64) (uint64, error)
	// Upsert writes unconditionally.
	Upsert(ctx context.Context, id string, body []byte) (uint64, error)
	Close() error
}
