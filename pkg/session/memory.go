package session

import (
	"context"
	"sync"
	"time"

	"github.com/harun/korli/internal/observability"
)

// MemoryStore keeps snapshots in process memory. It satisfies the Store
// contract except durability and backs tests and the interactive CLI.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	locks    keyLocks
	now      clock
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Load(ctx context.Context, threadID string) (Session, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return Session{}, err
	}
	start := time.Now()
	defer func() { observability.RecordSessionLoad("memory", time.Since(start)) }()

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[threadID]
	if !ok {
		return New(threadID), nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Merge(ctx context.Context, threadID string, delta Delta) (Session, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return Session{}, err
	}
	start := time.Now()
	defer func() { observability.RecordSessionSave("memory", time.Since(start)) }()

	unlock := m.locks.lock(threadID)
	defer unlock()

	m.mu.RLock()
	existing, ok := m.sessions[threadID]
	m.mu.RUnlock()
	if !ok {
		existing = New(threadID)
	}

	next := Apply(existing, delta, m.now())

	m.mu.Lock()
	m.sessions[threadID] = next
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	return next.Clone(), nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// keyLocks serializes writers per key. Entries are reference counted so the
// map only holds keys with an active or waiting writer.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
