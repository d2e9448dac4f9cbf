// Package source resolves attachment references into raw bytes.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound is returned when a reference does not resolve to any content.
	ErrNotFound = errors.New("attachment source: not found")

	// ErrDenied is returned when the content exists but may not be read.
	ErrDenied = errors.New("attachment source: access denied")
)

// Source fetches the bytes behind an attachment reference.
// Implementations wrap ErrNotFound or ErrDenied where they can tell the
// two apart from other failures.
type Source interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Memory is a Source backed by an in-memory map. It is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemory creates an empty Memory source.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

// Put stores a copy of data under ref.
func (m *Memory) Put(ref string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[ref] = append([]byte(nil), data...)
}

// Fetch returns a copy of the bytes stored under ref.
func (m *Memory) Fetch(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.items[ref]
	if !ok {
		return nil, fmt.Errorf("%q: %w", ref, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}
