package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	issued      uint64
	fingerprint string
	issuedAt    time.Time
	touched     time.Time
	state       State
}

// MemoryBackend keeps view state in process. Entries untouched for longer
// than ttl are treated as absent and swept on a later Begin; a ttl <= 0
// keeps them forever.
type MemoryBackend struct {
	sync.RWMutex
	entries   map[string]*memoryEntry
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryBackend) expired(e *memoryEntry, now time.Time) bool {
	return m.ttl > 0 && now.Sub(e.touched) >= m.ttl
}

func (m *MemoryBackend) sweep(now time.Time) {
	if m.ttl <= 0 || now.Sub(m.lastSweep) < m.ttl {
		return
	}
	for key, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, key)
		}
	}
	m.lastSweep = now
}

func (m *MemoryBackend) Begin(_ context.Context, key string, fingerprint string) (uint64, error) {
	m.Lock()
	defer m.Unlock()
	now := m.now()
	m.sweep(now)

	e, ok := m.entries[key]
	if !ok || m.expired(e, now) {
		e = &memoryEntry{}
		m.entries[key] = e
	}
	e.issued++
	e.fingerprint = fingerprint
	e.issuedAt = now
	e.touched = now
	return e.issued, nil
}

func (m *MemoryBackend) Commit(_ context.Context, key string, state State) (bool, error) {
	m.Lock()
	defer m.Unlock()
	e, ok := m.entries[key]
	if !ok || state.Seq == 0 || state.Seq > e.issued {
		return false, fmt.Errorf("key %s seq %d: %w", key, state.Seq, ErrUnknownSequence)
	}
	if state.Seq != e.issued {
		return false, nil
	}
	e.state = state
	e.touched = m.now()
	return true, nil
}

func (m *MemoryBackend) Load(_ context.Context, key string) (Snapshot, error) {
	m.RLock()
	defer m.RUnlock()
	e, ok := m.entries[key]
	if !ok || m.expired(e, m.now()) {
		return Snapshot{}, nil
	}
	return Snapshot{State: e.state, Issued: e.issued, Fingerprint: e.fingerprint, IssuedAt: e.issuedAt}, nil
}

// Len is the number of entries held, expired or not.
func (m *MemoryBackend) Len() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.entries)
}

func (m *MemoryBackend) Endpoint() string {
	return "memory"
}

func (m *MemoryBackend) GTG() error {
	return nil
}
