package identity

import (
	"context"
	"sync"
)

// InMemoryDirectory is a map-backed Directory used for fixtures and tests.
type InMemoryDirectory struct {
	mu      sync.RWMutex
	records map[int64]Identity
}

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{records: make(map[int64]Identity)}
}

var _ Directory = (*InMemoryDirectory)(nil)

// Put inserts or replaces a record.
func (d *InMemoryDirectory) Put(rec Identity) {
	d.mu.Lock()
	d.records[rec.ID] = rec
	d.mu.Unlock()
}

func (d *InMemoryDirectory) Resolve(_ context.Context, id int64) (Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[id]
	if !ok {
		return Identity{}, ErrUnknownIdentity
	}
	return rec, nil
}
