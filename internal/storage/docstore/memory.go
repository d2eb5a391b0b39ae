package docstore

import (
	"context"
	"sync"
)

// MemoryCollection keeps documents in process. Bodies are copied in and out.
type MemoryCollection struct {
	mu     sync.Mutex
	docs   map[string]memoryDoc
	closed bool
}

type memoryDoc struct {
	body []byte
	cas  uint64
}

func NewMemoryCollection() *MemoryCollection {
	return &MemoryCollection{docs: make(map[string]memoryDoc)}
}

func (m *MemoryCollection) Get(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return &Document{ID: id, Body: clone(d.body), CAS: d.cas}, nil
}

func (m *MemoryCollection) Insert(ctx context.Context, id string, body []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	if _, ok := m.docs[id]; ok {
		return 0, ErrDocumentExists
	}
	m.docs[id] = memoryDoc{body: clone(body), cas: 1}
	return 1, nil
}

func (m *MemoryCollection) Replace(ctx context.Context, id string, body []byte, cas uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	d, ok := m.docs[id]
	if !ok {
		return 0, ErrDocumentNotFound
	}
	if cas != 0 && d.cas != cas {
		return 0, ErrCASMismatch
	}
	next := d.cas + 1
	m.docs[id] = memoryDoc{body: clone(body), cas: next}
	return next, nil
}

func (m *MemoryCollection) Upsert(ctx context.Context, id string, body []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	next := m.docs[id].cas + 1
	m.docs[id] = memoryDoc{body: clone(body), cas: next}
	return next, nil
}

func (m *MemoryCollection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
