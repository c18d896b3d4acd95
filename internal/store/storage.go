package store

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// Storage persists runs.
type Storage interface {
	// Save stores a run, replacing any run with the same ID.
	Save(ctx context.Context, run *Run) error

	// Get returns a run by ID.
	Get(ctx context.Context, id string) (*Run, error)

	// List returns runs newest first.
	List(ctx context.Context, opts ListOptions) ([]*Run, error)

	// Delete removes a run.
	Delete(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}

// MemoryStorage is an in-memory storage implementation.
type MemoryStorage struct {
	runs map[string]*Run
	mu   sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		runs: make(map[string]*Run),
	}
}

// Save stores a run in memory.
func (m *MemoryStorage) Save(ctx context.Context, run *Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

// Get returns a run from memory.
func (m *MemoryStorage) Get(ctx context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, apperrors.NotFoundError("run " + id)
	}
	copied := *run
	return &copied, nil
}

// List returns runs from memory, newest first.
func (m *MemoryStorage) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	m.mu.RLock()
	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		if opts.matches(run) {
			copied := *run
			runs = append(runs, &copied)
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(runs)
	return limit(runs, opts.Limit), nil
}

// Delete removes a run from memory.
func (m *MemoryStorage) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[id]; !ok {
		return apperrors.NotFoundError("run " + id)
	}
	delete(m.runs, id)
	return nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}

// sortNewestFirst orders runs by creation time descending, then by ID.
func sortNewestFirst(runs []*Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}

func limit(runs []*Run, n int) []*Run {
	if n > 0 && len(runs) > n {
		return runs[:n]
	}
	return runs
}
