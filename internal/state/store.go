package state

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/dailyreport-bot/internal/observability"
)

const (
	DefaultIdleTimeout = 600 * time.Second
	DefaultMaxLifetime = 24 * time.Hour
)

// Store is a process-local map of user ID to State guarded by one mutex.
type Store struct {
	mu          sync.Mutex
	states      map[string]State
	idleTimeout time.Duration
	maxLifetime time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewStore creates a Store. Zero durations use the defaults.
func NewStore(idleTimeout, maxLifetime time.Duration, logger *zap.Logger) *Store {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if maxLifetime <= 0 {
		maxLifetime = DefaultMaxLifetime
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		states:      make(map[string]State),
		idleTimeout: idleTimeout,
		maxLifetime: maxLifetime,
		now:         time.Now,
		logger:      logger,
	}
}

// WithClock replaces the clock.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// expiryReason returns "" for a live state, otherwise the policy it failed.
// Missing timestamps count as expired.
func (s *Store) expiryReason(st State, now time.Time) string {
	if st.UpdatedAt.IsZero() || now.Sub(st.UpdatedAt) >= s.idleTimeout {
		return "idle"
	}
	if st.CreatedAt.IsZero() || now.Sub(st.CreatedAt) > s.maxLifetime {
		return "lifetime"
	}
	return ""
}

// Get returns the live state for userID. An expired entry is deleted and
// reported as absent.
func (s *Store) Get(userID string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(userID)
}

func (s *Store) getLocked(userID string) (State, bool) {
	st, ok := s.states[userID]
	if !ok {
		return State{}, false
	}
	if reason := s.expiryReason(st, s.now()); reason != "" {
		delete(s.states, userID)
		observability.StateExpiredTotal.WithLabelValues(reason).Inc()
		return State{}, false
	}
	return st, true
}

// Set replaces the state for userID and stamps both timestamps. A nil flow
// clears the entry.
func (s *Store) Set(userID string, flow Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flow == nil {
		delete(s.states, userID)
		return
	}
	now := s.now()
	s.states[userID] = State{Flow: flow, CreatedAt: now, UpdatedAt: now}
}

// Merge stores flow for userID, keeping CreatedAt of a live entry and
// refreshing UpdatedAt. Without a live entry it behaves like Set.
func (s *Store) Merge(userID string, flow Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flow == nil {
		delete(s.states, userID)
		return
	}
	now := s.now()
	created := now
	if cur, ok := s.getLocked(userID); ok {
		created = cur.CreatedAt
	}
	s.states[userID] = State{Flow: flow, CreatedAt: created, UpdatedAt: now}
}

// Clear removes the state for userID. Clearing an absent user is a no-op.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
}

// SweepExpired removes every entry failing either expiry policy and returns
// how many were removed.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, st := range s.states {
		if reason := s.expiryReason(st, now); reason != "" {
			delete(s.states, id)
			observability.StateExpiredTotal.WithLabelValues(reason).Inc()
			removed++
		}
	}
	return removed
}

// Len reports stored entries, including ones not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// SweepPeriodic calls SweepExpired every interval until ctx is done.
func (s *Store) SweepPeriodic(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				s.logger.Debug("expired conversation states swept", zap.Int("removed", n))
			}
		}
	}
}
