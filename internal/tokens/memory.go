package tokens

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps tokens in process. Used for local runs and tests.
// Like the Redis store it forgets a record once twice the redemption window
// has passed, so late attempts still read as expired for a while.
type MemoryStore struct {
	mu        sync.Mutex
	recs      map[string]Record
	keep      time.Duration
	nextSweep time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{recs: map[string]Record{}, keep: 2 * ttl}
}

// Insert drops forgotten records, at most once per quarter of the keep
// window, before storing rec.
func (m *MemoryStore) Insert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !rec.CreatedAt.Before(m.nextSweep) {
		m.sweep(rec.CreatedAt)
	}
	m.recs[rec.Token] = rec
	return nil
}

func (m *MemoryStore) sweep(now time.Time) {
	cutoff := now.Add(-m.keep)
	for tok, rec := range m.recs {
		if !rec.CreatedAt.After(cutoff) {
			delete(m.recs, tok)
		}
	}
	m.nextSweep = now.Add(m.keep / 4)
}

func (m *MemoryStore) Consume(_ context.Context, token string, userID int64, now time.Time, ttl time.Duration) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[token]
	if !ok {
		return nil, ErrNotFound
	}
	if err := Check(&rec, userID, now, ttl); err != nil {
		return nil, err
	}
	t := now
	rec.ConsumedAt = &t
	m.recs[token] = rec
	out := rec
	return &out, nil
}

func (m *MemoryStore) Release(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[token]
	if !ok {
		return ErrNotFound
	}
	rec.ConsumedAt = nil
	m.recs[token] = rec
	return nil
}

// Len returns the number of stored tokens.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}
