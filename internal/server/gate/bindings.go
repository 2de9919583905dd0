package gate

import "sync"

// Bindings maps a session id to the user last authenticated on it. A later
// login on the same session replaces the earlier binding.
type Bindings struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewBindings() *Bindings {
	return &Bindings{m: make(map[string]string)}
}

func (b *Bindings) Bind(session, user string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[session] = user
}

func (b *Bindings) Lookup(session string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.m[session]
	return u, ok
}

func (b *Bindings) Unbind(session string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, session)
}

func (b *Bindings) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.m)
}

// Sessions returns the ids of every bound session.
func (b *Bindings) Sessions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.m))
	for id := range b.m {
		ids = append(ids, id)
	}
	return ids
}
