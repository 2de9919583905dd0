package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/volunteerhub/internal/cryptox"
)

const DefaultKeyBits = cryptox.DefaultRSABits

// Envelope is the response body shared by every route.
type Envelope struct {
	Success    bool            `json:"success"`
	APIVersion string          `json:"api_version,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Msg        string          `json:"msg,omitempty"`
}

// Transport carries raw protocol messages. Implementations return an
// *APIError for refusals and wrap ErrUnavailable for network failures.
type Transport interface {
	Handshake(ctx context.Context, userPublicKey string) (*Envelope, error)
	Call(ctx context.Context, session, endpoint string, data json.RawMessage) (*Envelope, error)
	CloseSession(ctx context.Context, session string) (*Envelope, error)
	Close() error
}

type Client struct {
	transport Transport
	keyBits   int

	mu         sync.RWMutex
	session    string
	key        string
	apiVersion string
}

type Option func(*Client)

// WithKeyBits sets the RSA modulus size used for handshakes.
func WithKeyBits(bits int) Option {
	return func(c *Client) { c.keyBits = bits }
}

func New(t Transport, opts ...Option) *Client {
	c := &Client{transport: t, keyBits: DefaultKeyBits}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Session returns the current session id, or "" before Handshake.
func (c *Client) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Secure reports whether the session skips payload encryption.
func (c *Client) Secure() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != "" && c.key == ""
}

func (c *Client) APIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiVersion
}

func (c *Client) current() (session, key string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.key
}

// Handshake opens a new session, replacing any previous one.
func (c *Client) Handshake(ctx context.Context) error {
	pub, priv, err := cryptox.GenerateRSAKeyPair(c.keyBits)
	if err != nil {
		return fmt.Errorf("error generating key pair: %w", err)
	}

	env, err := c.transport.Handshake(ctx, pub)
	if err != nil {
		return err
	}
	if !env.Success {
		return &APIError{Msg: env.Msg}
	}

	var hs struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}

	var sealed string
	if err := json.Unmarshal(env.Data, &sealed); err == nil {
		plain, err := cryptox.DecryptRSA(sealed, priv)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadHandshake, err)
		}
		if err := json.Unmarshal(plain, &hs); err != nil {
			return fmt.Errorf("%w: %v", ErrBadHandshake, err)
		}
		if hs.Key == "" {
			return fmt.Errorf("%w: missing key", ErrBadHandshake)
		}
	} else if err := json.Unmarshal(env.Data, &hs); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}

	if hs.ID == "" {
		return fmt.Errorf("%w: missing id", ErrBadHandshake)
	}

	c.mu.Lock()
	c.session, c.key, c.apiVersion = hs.ID, hs.Key, env.APIVersion
	c.mu.Unlock()

	return nil
}

// Call invokes endpoint with payload and decodes the reply into out.
// A nil payload is sent as {} and a nil out discards the reply.
func (c *Client) Call(ctx context.Context, endpoint string, payload, out any) error {
	session, key := c.current()
	if session == "" {
		return ErrNoSession
	}

	plain := []byte("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("error encoding payload: %w", err)
		}
		plain = b
	}

	data := json.RawMessage(plain)
	if key != "" {
		sealed, err := cryptox.Encrypt(plain, key)
		if err != nil {
			return fmt.Errorf("error encrypting payload: %w", err)
		}
		data, _ = json.Marshal(sealed)
	}

	env, err := c.transport.Call(ctx, session, endpoint, data)
	if err != nil {
		return err
	}
	if !env.Success {
		return &APIError{Msg: env.Msg}
	}

	reply := []byte(env.Data)
	if key != "" {
		var sealed string
		if err := json.Unmarshal(env.Data, &sealed); err != nil {
			return fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		reply, err = cryptox.Decrypt(sealed, key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
	}

	if out == nil || len(reply) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

// CloseSession ends the current session on the server. It is a no-op
// without one.
func (c *Client) CloseSession(ctx context.Context) error {
	session, _ := c.current()
	if session == "" {
		return nil
	}

	env, err := c.transport.CloseSession(ctx, session)
	if err != nil {
		return err
	}
	if !env.Success {
		return &APIError{Msg: env.Msg}
	}

	c.mu.Lock()
	c.session, c.key = "", ""
	c.mu.Unlock()
	return nil
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}
