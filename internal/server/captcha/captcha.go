// Package captcha verifies proof-of-human tokens against a Turnstile
// compatible siteverify endpoint.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/volunteerhub/internal/common"
	"github.com/google/uuid"
)

// ErrVerificationFailed is returned for every rejected or unverifiable proof.
var ErrVerificationFailed = errors.New("human verification failed")

// Verifier checks a client-supplied proof token. A nil Verifier in a caller
// means verification is switched off.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

const DefaultTimeout = 5 * time.Second

// maxResponseBody caps how much of the siteverify reply is read.
const maxResponseBody = 64 << 10

type Turnstile struct {
	secret string
	url    string
	client *http.Client
}

type Option func(*Turnstile)

func WithURL(u string) Option {
	return func(t *Turnstile) {
		if u != "" {
			t.url = u
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(t *Turnstile) {
		if c != nil {
			t.client = c
		}
	}
}

// WithTimeout bounds each siteverify call. A client passed with
// WithHTTPClient is copied, never modified.
func WithTimeout(d time.Duration) Option {
	return func(t *Turnstile) {
		if d > 0 {
			c := *t.client
			c.Timeout = d
			t.client = &c
		}
	}
}

func NewTurnstile(secret string, opts ...Option) *Turnstile {
	t := &Turnstile{
		secret: secret,
		url:    common.DefaultCaptchaURL,
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts the proof to the siteverify endpoint. Anything other than an
// explicit success is reported as ErrVerificationFailed.
func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: missing token", ErrVerificationFailed)
	}

	form := url.Values{}
	form.Set("secret", t.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	form.Set("idempotency_key", uuid.NewString())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: siteverify status %d", ErrVerificationFailed, resp.StatusCode)
	}

	var out siteVerifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&out); err != nil {
		return fmt.Errorf("%w: decoding siteverify response: %v", ErrVerificationFailed, err)
	}

	if !out.Success {
		if len(out.ErrorCodes) > 0 {
			return fmt.Errorf("%w: %s", ErrVerificationFailed, strings.Join(out.ErrorCodes, ", "))
		}
		return ErrVerificationFailed
	}

	return nil
}
