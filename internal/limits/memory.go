package limits

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps one ledger per session in process memory. Each ledger
// carries its own mutex, serializing the check-and-append sequence per
// session key while leaving unrelated sessions free to proceed in parallel.
type MemoryStore struct {
	mu        sync.Mutex
	ledgers   map[string]*ledger
	retention time.Duration
}

type ledger struct {
	mu      sync.Mutex
	history []entry
}

type entry struct {
	Record
	token string
}

// NewMemoryStore builds a store that prunes records older than retention
// after every write. Retention must cover the widest gate window.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		ledgers:   make(map[string]*ledger),
		retention: retention,
	}
}

func (s *MemoryStore) ledgerFor(key string) *ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledgers[key]
	if !ok {
		l = &ledger{}
		s.ledgers[key] = l
	}
	return l
}

// Admit implements Store.
func (s *MemoryStore) Admit(_ context.Context, key string, window time.Duration, limit int, now time.Time, endpoint string) (AdmitResult, error) {
	l := s.ledgerFor(key)
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.windowStart(now, window)
	count := len(l.history) - start
	if count >= limit {
		return AdmitResult{Count: count, Oldest: l.history[start].Timestamp}, nil
	}

	token := uuid.NewString()
	l.history = append(l.history, entry{Record: Record{Timestamp: now, Endpoint: endpoint}, token: token})
	l.prune(now.Add(-s.retention))

	start = l.windowStart(now, window)
	return AdmitResult{
		Allowed: true,
		Count:   len(l.history) - start,
		Oldest:  l.history[start].Timestamp,
		Token:   token,
	}, nil
}

// Confirm implements Store.
func (s *MemoryStore) Confirm(_ context.Context, key string, window time.Duration, limit int, now time.Time, token string) (AdmitResult, error) {
	l := s.ledgerFor(key)
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.windowStart(now, window)
	count := len(l.history) - start
	if count <= limit {
		res := AdmitResult{Allowed: true, Count: count}
		if count > 0 {
			res.Oldest = l.history[start].Timestamp
		}
		return res, nil
	}

	// Roll the earlier append back; the request is not getting through.
	for i := len(l.history) - 1; i >= 0; i-- {
		if l.history[i].token == token {
			l.history = append(l.history[:i], l.history[i+1:]...)
			break
		}
	}
	l.prune(now.Add(-s.retention))

	start = l.windowStart(now, window)
	res := AdmitResult{Count: len(l.history) - start}
	if start < len(l.history) {
		res.Oldest = l.history[start].Timestamp
	}
	return res, nil
}

// Count implements Store. Read-only: no pruning, no mutation.
func (s *MemoryStore) Count(_ context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	l, ok := s.ledgers[key]
	s.mu.Unlock()
	if !ok {
		return 0, time.Time{}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	start := l.windowStart(now, window)
	count := len(l.history) - start
	if count == 0 {
		return 0, time.Time{}, nil
	}
	return count, l.history[start].Timestamp, nil
}

// windowStart returns the index of the first record strictly inside the
// trailing window. History is chronological, so everything from that index on
// is in-window.
func (l *ledger) windowStart(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	for i, e := range l.history {
		if e.Timestamp.After(cutoff) {
			return i
		}
	}
	return len(l.history)
}

// prune drops every record at or before the retention cutoff.
func (l *ledger) prune(cutoff time.Time) {
	idx := 0
	for idx < len(l.history) && !l.history[idx].Timestamp.After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.history = append([]entry(nil), l.history[idx:]...)
	}
}
