package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore: хранилище снимков в памяти процесса
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int]*Record
}

// NewMemoryStore создаёт пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int]*Record)}
}

func (ms *MemoryStore) Save(_ context.Context, rec *Record) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.records[rec.Cycle] = rec
	return nil
}

func (ms *MemoryStore) Load(_ context.Context, cycle int) (*Record, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	rec, ok := ms.records[cycle]
	if !ok {
		return nil, fmt.Errorf("cycle %d: %w", cycle, ErrNotFound)
	}
	return rec, nil
}

func (ms *MemoryStore) Latest(ctx context.Context) (*Record, error) {
	cycles, _ := ms.Cycles(ctx)
	if len(cycles) == 0 {
		return nil, ErrNotFound
	}
	return ms.Load(ctx, cycles[len(cycles)-1])
}

func (ms *MemoryStore) Cycles(context.Context) ([]int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	cycles := make([]int, 0, len(ms.records))
	for c := range ms.records {
		cycles = append(cycles, c)
	}
	sort.Ints(cycles)
	return cycles, nil
}

func (ms *MemoryStore) Close() error { return nil }
