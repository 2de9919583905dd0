package sessions

import "context"

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, s *Session) error
	// Get returns ErrNotFound when id is absent or has expired.
	Get(ctx context.Context, id string) (*Session, error)
	// Touch pushes back the idle deadline of id.
	Touch(ctx context.Context, id string) error
	// Delete is a no-op for absent ids.
	Delete(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
	Close() error
}
