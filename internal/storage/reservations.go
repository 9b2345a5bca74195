package storage

import (
	"context"
	"sync"
)

// Reservations holds keys that writers in this process have chosen but not
// yet stored or registered. Ingestion and processing share one set so an
// upload and a format conversion cannot pick the same free key.
type Reservations struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewReservations returns an empty set.
func NewReservations() *Reservations {
	return &Reservations{keys: make(map[string]struct{})}
}

// Claim reports whether key is taken, either held here or reported by
// inUse. A free key stays held until Release.
func (r *Reservations) Claim(ctx context.Context, key string, inUse func(context.Context, string) (bool, error)) (bool, error) {
	r.mu.Lock()
	if _, ok := r.keys[key]; ok {
		r.mu.Unlock()
		return true, nil
	}
	r.keys[key] = struct{}{}
	r.mu.Unlock()

	used, err := inUse(ctx, key)
	if err != nil || used {
		r.Release(key)
	}
	return used, err
}

// Release frees key for other writers.
func (r *Reservations) Release(key string) {
	r.mu.Lock()
	delete(r.keys, key)
	r.mu.Unlock()
}

// Len returns the number of held keys.
func (r *Reservations) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
