package session

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store. Sessions are lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     options
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		opts:     buildOptions(opts),
	}
}

func (m *MemoryStore) Get(_ context.Context, address string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveOrNew(address).Clone(), nil
}

func (m *MemoryStore) Lookup(_ context.Context, address string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.now()
	sess, ok := m.sessions[address]
	if !ok || sess.Expired(now, m.opts.idle) {
		delete(m.sessions, address)
		return nil, ErrNotFound
	}
	sess.LastActivity = now
	return sess.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, address string, fn func(*Session)) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.liveOrNew(address)
	if fn != nil {
		fn(sess)
	}
	sess.Address = address
	sess.LastActivity = m.opts.now()
	return sess.Clone(), nil
}

func (m *MemoryStore) Clear(_ context.Context, address string) error {
	m.mu.Lock()
	delete(m.sessions, address)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.now()
	removed := 0
	for addr, sess := range m.sessions {
		if sess.Expired(now, m.opts.idle) {
			delete(m.sessions, addr)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// liveOrNew must be called with mu held.
func (m *MemoryStore) liveOrNew(address string) *Session {
	now := m.opts.now()
	sess, ok := m.sessions[address]
	if !ok || sess.Expired(now, m.opts.idle) {
		sess = New(address, now)
		m.sessions[address] = sess
	}
	sess.LastActivity = now
	return sess
}
