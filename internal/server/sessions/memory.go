package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bluele/gcache"
)

const DefaultCapacity = 100_000

// MemoryStore keeps sessions in a process-local LRU. Sessions are lost on
// restart and clients have to handshake again.
type MemoryStore struct {
	// mu orders Touch against Delete so a closed session is never re-inserted.
	mu      sync.Mutex
	cache   gcache.Cache
	idleTTL time.Duration
}

type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	onGone func(id string)
}

// WithGoneHook registers fn to run whenever a session leaves the store,
// whether deleted, evicted for capacity or found expired. fn runs under the
// cache lock and must not call back into the store.
func WithGoneHook(fn func(id string)) MemoryOption {
	return func(o *memoryOptions) { o.onGone = fn }
}

// NewMemoryStore builds a store holding at most capacity sessions. With a
// positive idleTTL a session that is not touched for that long disappears.
func NewMemoryStore(capacity int, idleTTL time.Duration, opts ...MemoryOption) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	var o memoryOptions
	for _, opt := range opts {
		opt(&o)
	}

	b := gcache.New(capacity).LRU()
	if idleTTL > 0 {
		b = b.Expiration(idleTTL)
	}
	if o.onGone != nil {
		b = b.EvictedFunc(func(key, _ interface{}) {
			if id, ok := key.(string); ok {
				o.onGone(id)
			}
		})
	}
	return &MemoryStore{cache: b.Build(), idleTTL: idleTTL}
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	return m.cache.Set(s.ID, s.clone())
}

func (m *MemoryStore) get(id string) (*Session, error) {
	v, err := m.cache.GetIFPresent(id)
	if err != nil {
		if errors.Is(err, gcache.KeyNotFoundError) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s, ok := v.(*Session)
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return s.clone(), nil
}

// Touch re-inserts the record, which restarts its expiration clock. Without
// an idle TTL there is no clock and Touch only checks presence.
func (m *MemoryStore) Touch(_ context.Context, id string) error {
	if m.idleTTL <= 0 {
		if !m.cache.Has(id) {
			return ErrNotFound
		}
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(id)
	if err != nil {
		return err
	}
	c := s.clone()
	c.LastSeen = time.Now()
	return m.cache.Set(id, c)
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Remove(id)
	return nil
}

func (m *MemoryStore) Len(context.Context) (int, error) {
	return m.cache.Len(true), nil
}

func (m *MemoryStore) Close() error {
	m.cache.Purge()
	return nil
}
