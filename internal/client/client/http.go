package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultHTTPTimeout = 30 * time.Second

// HTTPTransport posts JSON bodies to the server's HTTP routes.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTransport(baseURL string, hc *http.Client) *HTTPTransport {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: hc}
}

func (t *HTTPTransport) Handshake(ctx context.Context, userPublicKey string) (*Envelope, error) {
	return t.post(ctx, "handshake", map[string]string{"userPublicKey": userPublicKey})
}

func (t *HTTPTransport) Call(ctx context.Context, session, endpoint string, data json.RawMessage) (*Envelope, error) {
	return t.post(ctx, url.PathEscape(endpoint), struct {
		Session string          `json:"session"`
		Data    json.RawMessage `json:"data"`
	}{session, data})
}

func (t *HTTPTransport) CloseSession(ctx context.Context, session string) (*Envelope, error) {
	return t.post(ctx, "close-session", map[string]string{"session": session})
}

func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, path string, body any) (*Envelope, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	env := &Envelope{}
	decodeErr := json.Unmarshal(raw, env)

	if resp.StatusCode != http.StatusOK {
		msg := env.Msg
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Msg: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, decodeErr)
	}
	return env, nil
}
