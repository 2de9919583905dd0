package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/volunteerhub/internal/cryptox"
	"github.com/dmitrijs2005/volunteerhub/internal/logging"
	"github.com/google/uuid"
)

// HandshakeResult is what the handshake hands back to the client. Data is
// either the plain JSON object {"id"} or, for insecure sessions, a JSON
// string holding the RSA-wrapped {"id","key"} object.
type HandshakeResult struct {
	ID   string
	Data json.RawMessage
}

type handshakePayload struct {
	ID  string `json:"id"`
	Key string `json:"key,omitempty"`
}

type Manager struct {
	store  Store
	logger logging.Logger
	now    func() time.Time
}

func NewManager(store Store, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Manager{
		store:  store,
		logger: logger.With("module", "sessions"),
		now:    time.Now,
	}
}

// CreateSession registers a new session and returns its id.
func (m *Manager) CreateSession(ctx context.Context, ip string, secure bool, userPublicKey string) (string, error) {
	if !secure && userPublicKey == "" {
		return "", ErrConfiguration
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}

	s := &Session{
		ID:            id.String(),
		IP:            ip,
		UserPublicKey: userPublicKey,
		SetupTime:     m.now(),
		Secure:        secure,
	}
	s.LastSeen = s.SetupTime

	if !secure {
		s.Key, err = cryptox.GenerateSecret()
		if err != nil {
			return "", fmt.Errorf("generating session secret: %w", err)
		}
	}

	if err := m.store.Put(ctx, s); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}

	m.logger.Debug(ctx, "session created", "session", s.ID, "ip", ip, "secure", secure)
	return s.ID, nil
}

// Handshake creates a session and packages its id, and its secret when the
// session is insecure, for the client.
func (m *Manager) Handshake(ctx context.Context, ip string, secure bool, userPublicKey string) (*HandshakeResult, error) {
	id, err := m.CreateSession(ctx, ip, secure, userPublicKey)
	if err != nil {
		return nil, err
	}

	if secure {
		data, err := json.Marshal(handshakePayload{ID: id})
		if err != nil {
			m.discard(ctx, id)
			return nil, err
		}
		return &HandshakeResult{ID: id, Data: data}, nil
	}

	s, err := m.store.Get(ctx, id)
	if err != nil {
		m.discard(ctx, id)
		return nil, fmt.Errorf("loading session: %w", err)
	}

	plain, err := json.Marshal(handshakePayload{ID: id, Key: s.Key})
	if err != nil {
		m.discard(ctx, id)
		return nil, err
	}

	wrapped, err := cryptox.EncryptRSA(plain, userPublicKey)
	if err != nil {
		m.discard(ctx, id)
		return nil, fmt.Errorf("wrapping session secret: %w", err)
	}

	data, err := json.Marshal(wrapped)
	if err != nil {
		m.discard(ctx, id)
		return nil, err
	}

	return &HandshakeResult{ID: id, Data: data}, nil
}

func (m *Manager) discard(ctx context.Context, id string) {
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Warn(ctx, "failed to discard session", "session", id, "error", err)
	}
}

// HaveSession reports whether id names a live session. Store failures are
// logged and reported as false.
func (m *Manager) HaveSession(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	_, err := m.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Error(ctx, "session lookup failed", "session", id, "error", err)
		}
		return false
	}
	return true
}

func (m *Manager) lookup(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSession, id)
		}
		return nil, err
	}
	return s, nil
}

// Touch pushes back the idle deadline of id.
func (m *Manager) Touch(ctx context.Context, id string) error {
	if err := m.store.Touch(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrUnknownSession, id)
		}
		return err
	}
	return nil
}

// DecryptClientData turns the data field of a request into plain JSON.
func (m *Manager) DecryptClientData(ctx context.Context, data json.RawMessage, id string) (json.RawMessage, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := m.store.Touch(ctx, id); err != nil {
		m.logger.Debug(ctx, "session touch failed", "session", id, "error", err)
	}

	if s.Secure {
		m.logger.Warn(ctx, "decrypt requested on a secure session, payload passed through", "session", id)
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", cryptox.ErrDecryption)
		}
		return data, nil
	}

	var ciphertext string
	if err := json.Unmarshal(data, &ciphertext); err != nil {
		return nil, fmt.Errorf("%w: payload must be a ciphertext string", cryptox.ErrDecryption)
	}

	plain, err := cryptox.Decrypt(ciphertext, s.Key)
	if err != nil {
		return nil, err
	}
	if !json.Valid(plain) {
		return nil, fmt.Errorf("%w: decrypted payload is not valid JSON", cryptox.ErrDecryption)
	}

	return plain, nil
}

// EncryptClientData marshals v and, for insecure sessions, encrypts it under
// the session secret.
func (m *Manager) EncryptClientData(ctx context.Context, v any, id string) (json.RawMessage, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}

	if s.Secure {
		return plain, nil
	}

	ciphertext, err := cryptox.Encrypt(plain, s.Key)
	if err != nil {
		return nil, err
	}

	return json.Marshal(ciphertext)
}

// CloseSession forgets id. Unknown ids are not an error.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	m.logger.Debug(ctx, "session closed", "session", id)
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Len(ctx)
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
