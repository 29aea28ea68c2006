// Package journal records the outcome of every transfer the client submits.
package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/bankclient/internal/domain"
)

type Journal interface {
	Record(ctx context.Context, e domain.JournalEntry) error
	Recent(ctx context.Context, limit int) ([]domain.JournalEntry, error)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, domain.JournalEntry) error { return nil }

func (Nop) Recent(context.Context, int) ([]domain.JournalEntry, error) { return nil, nil }

// Memory keeps entries in process. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries []domain.JournalEntry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, e domain.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.entries) + 1)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, e)
	return nil
}

// Recent returns up to limit entries, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]domain.JournalEntry, error) {
	m.mu.Lock()
	out := append([]domain.JournalEntry(nil), m.entries...)
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
