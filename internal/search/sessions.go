package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultIdleTTL is how long an unused overlay is kept for a visitor.
const DefaultIdleTTL = 30 * time.Minute

// Factory builds the overlay for a namespace.
type Factory func(namespace string) (*Overlay, error)

type sessionEntry struct {
	overlay  *Overlay
	lastUsed time.Time
}

// Sessions keeps one overlay per visitor namespace and evicts idle ones.
type Sessions struct {
	factory Factory
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// NewSessions constructs a registry. A non-positive idleTTL means DefaultIdleTTL.
func NewSessions(factory Factory, idleTTL time.Duration, now func() time.Time) (*Sessions, error) {
	if factory == nil {
		return nil, errors.New("search: overlay factory is required")
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Sessions{
		factory: factory,
		idleTTL: idleTTL,
		now:     now,
		entries: make(map[string]*sessionEntry),
	}, nil
}

// Get returns the namespace's overlay, creating it on first use.
func (s *Sessions) Get(namespace string) (*Overlay, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, errors.New("search: namespace is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[namespace]; ok {
		entry.lastUsed = s.now()
		return entry.overlay, nil
	}
	overlay, err := s.factory(namespace)
	if err != nil {
		return nil, err
	}
	s.entries[namespace] = &sessionEntry{overlay: overlay, lastUsed: s.now()}
	return overlay, nil
}

// Sweep stops and forgets overlays idle for longer than the TTL. It returns how many were evicted.
func (s *Sessions) Sweep() int {
	cutoff := s.now().Add(-s.idleTTL)
	var stale []*Overlay
	s.mu.Lock()
	for ns, entry := range s.entries {
		if entry.lastUsed.Before(cutoff) {
			stale = append(stale, entry.overlay)
			delete(s.entries, ns)
		}
	}
	s.mu.Unlock()
	for _, overlay := range stale {
		overlay.Stop()
	}
	return len(stale)
}

// Run sweeps periodically until ctx is done, then stops every overlay.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Close stops and forgets every overlay.
func (s *Sessions) Close() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*sessionEntry)
	s.mu.Unlock()
	for _, entry := range entries {
		entry.overlay.Stop()
	}
}
