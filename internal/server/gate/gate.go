// Package gate runs every privileged request through the same sequence of
// checks: session lookup, payload decryption and validation, optional token
// check, the endpoint handler, and response encryption.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/dmitrijs2005/volunteerhub/internal/common"
	"github.com/dmitrijs2005/volunteerhub/internal/logging"
	"github.com/dmitrijs2005/volunteerhub/internal/server/sessions"
	"github.com/go-playground/validator/v10"
)

const (
	msgMissingSession   = "Missing session ID"
	msgInvalidSession   = "Invalid session ID"
	msgMissingPublicKey = "Missing user's public key"
	msgHandshakeFailed  = "Handshake failed"
)

// Outcome labels reported to the Observer.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomePanic    = "panic"
)

type Sessions interface {
	Handshake(ctx context.Context, ip string, secure bool, userPublicKey string) (*sessions.HandshakeResult, error)
	HaveSession(ctx context.Context, id string) bool
	Touch(ctx context.Context, id string) error
	DecryptClientData(ctx context.Context, data json.RawMessage, id string) (json.RawMessage, error)
	EncryptClientData(ctx context.Context, v any, id string) (json.RawMessage, error)
	CloseSession(ctx context.Context, id string) error
}

type TokenVerifier interface {
	VerifyToken(ctx context.Context, expectedID, token string) bool
}

// Observer receives one call per finished request.
type Observer interface {
	ObserveRequest(endpoint, outcome string, elapsed time.Duration)
}

type Gate struct {
	sessions  Sessions
	tokens    TokenVerifier
	bindings  *Bindings
	endpoints map[string]Endpoint
	validate  *validator.Validate
	secure    bool
	observer  Observer
	logger    logging.Logger
}

type Option func(*Gate)

func WithBindings(b *Bindings) Option {
	return func(g *Gate) { g.bindings = b }
}

func WithObserver(o Observer) Option {
	return func(g *Gate) { g.observer = o }
}

// WithSecureTransport marks the transport as trusted, so handshakes create
// sessions without payload encryption.
func WithSecureTransport(secure bool) Option {
	return func(g *Gate) { g.secure = secure }
}

func New(s Sessions, tokens TokenVerifier, logger logging.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = logging.Nop{}
	}
	g := &Gate{
		sessions:  s,
		tokens:    tokens,
		endpoints: make(map[string]Endpoint),
		validate:  newValidator(),
		logger:    logger.With("module", "gate"),
	}
	for _, o := range opts {
		o(g)
	}
	if g.bindings == nil {
		g.bindings = NewBindings()
	}
	return g
}

// Register adds endpoints. It panics on a malformed or duplicate name, which
// is a programming error.
func (g *Gate) Register(eps ...Endpoint) {
	for _, ep := range eps {
		if !endpointNameRe.MatchString(ep.Name) {
			panic(fmt.Sprintf("gate: invalid endpoint name %q", ep.Name))
		}
		if ep.New == nil || ep.Handle == nil {
			panic(fmt.Sprintf("gate: endpoint %q needs New and Handle", ep.Name))
		}
		if _, dup := g.endpoints[ep.Name]; dup {
			panic(fmt.Sprintf("gate: endpoint %q registered twice", ep.Name))
		}
		g.endpoints[ep.Name] = ep
	}
}

func (g *Gate) Has(name string) bool {
	_, ok := g.endpoints[name]
	return ok
}

// Endpoints lists registered names in order.
func (g *Gate) Endpoints() []string {
	names := make([]string, 0, len(g.endpoints))
	for n := range g.endpoints {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (g *Gate) Bindings() *Bindings {
	return g.bindings
}

func (g *Gate) Secure() bool {
	return g.secure
}

// HaveSession lets transports reject unknown sessions early.
func (g *Gate) HaveSession(ctx context.Context, id string) bool {
	return g.sessions.HaveSession(ctx, id)
}

func (g *Gate) observe(name, outcome string, start time.Time) {
	if g.observer != nil {
		g.observer.ObserveRequest(name, outcome, time.Since(start))
	}
}

// Handle processes one privileged request and returns the HTTP-style status
// together with the envelope to send.
func (g *Gate) Handle(ctx context.Context, name string, req Request) (status int, resp Response) {
	start := time.Now()
	outcome := OutcomeRejected
	defer func() { g.observe(name, outcome, start) }()

	ep, ok := g.endpoints[name]
	if !ok {
		return http.StatusNotFound, failure(fmt.Sprintf("Unknown endpoint %q", name))
	}

	if req.Session == "" {
		return http.StatusBadRequest, failure(msgMissingSession)
	}
	if !g.sessions.HaveSession(ctx, req.Session) {
		g.bindings.Unbind(req.Session)
		return http.StatusUnauthorized, failure(msgInvalidSession)
	}

	defer func() {
		if p := recover(); p != nil {
			outcome = OutcomePanic
			g.logger.Error(ctx, "endpoint panicked", "endpoint", name, "session", req.Session, "panic", p)
			status, resp = http.StatusBadRequest, failure(endpointError(name, common.ErrorInternal))
		}
	}()

	data, err := g.run(ctx, ep, req)
	if err != nil {
		outcome = OutcomeFailed
		if errors.Is(err, ErrSchema) || errors.Is(err, common.ErrInvalidToken) {
			outcome = OutcomeRejected
		}
		g.logger.Warn(ctx, "endpoint failed", "endpoint", name, "session", req.Session, "error", err)
		return http.StatusBadRequest, failure(endpointError(name, err))
	}

	outcome = OutcomeOK
	return http.StatusOK, Response{Success: true, Data: data}
}

func (g *Gate) run(ctx context.Context, ep Endpoint, req Request) (json.RawMessage, error) {
	plain := json.RawMessage(`{}`)
	switch {
	case g.secure:
		// Payloads on a trusted transport arrive as plain JSON.
		if err := g.sessions.Touch(ctx, req.Session); err != nil {
			g.logger.Debug(ctx, "session touch failed", "session", req.Session, "error", err)
		}
		if len(bytes.TrimSpace(req.Data)) > 0 {
			plain = req.Data
		}
	case len(bytes.TrimSpace(req.Data)) > 0:
		var err error
		plain, err = g.sessions.DecryptClientData(ctx, req.Data, req.Session)
		if err != nil {
			return nil, err
		}
	}

	payload := ep.New()
	if err := decodePayload(g.validate, plain, payload); err != nil {
		return nil, err
	}

	call := &Call{Session: req.Session, RemoteIP: req.RemoteIP, Bindings: g.bindings}

	if tc, ok := payload.(TokenCarrier); ok {
		token, present := tc.AuthToken()
		user, err := g.checkToken(ctx, req.Session, token, present)
		if err != nil {
			return nil, err
		}
		call.User = user
	}

	result, err := ep.Handle(ctx, call, payload)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = struct{}{}
	}

	return g.sessions.EncryptClientData(ctx, result, req.Session)
}

func (g *Gate) checkToken(ctx context.Context, session, token string, present bool) (string, error) {
	if session == "" {
		return "", fmt.Errorf("%w: missing session", common.ErrInvalidToken)
	}
	if !present || token == "" {
		return "", fmt.Errorf("%w: missing token", common.ErrInvalidToken)
	}
	user, ok := g.bindings.Lookup(session)
	if !ok {
		return "", fmt.Errorf("%w: no user signed in on this session", common.ErrInvalidToken)
	}
	if !g.tokens.VerifyToken(ctx, user, token) {
		return "", common.ErrInvalidToken
	}
	return user, nil
}

// Handshake opens a session for the caller.
func (g *Gate) Handshake(ctx context.Context, ip, userPublicKey string) (int, Response) {
	start := time.Now()

	if !g.secure && userPublicKey == "" {
		g.observe("handshake", OutcomeRejected, start)
		return http.StatusBadRequest, failure(msgMissingPublicKey)
	}

	res, err := g.sessions.Handshake(ctx, ip, g.secure, userPublicKey)
	if err != nil {
		g.observe("handshake", OutcomeFailed, start)
		g.logger.Warn(ctx, "handshake failed", "ip", ip, "error", err)
		return http.StatusBadRequest, failure(msgHandshakeFailed)
	}

	g.observe("handshake", OutcomeOK, start)
	g.logger.Info(ctx, "session opened", "session", res.ID, "ip", ip, "secure", g.secure)
	return http.StatusOK, Response{Success: true, APIVersion: common.APIVersion, Data: res.Data}
}

// PruneBindings drops bindings whose session no longer exists and returns
// how many were removed.
func (g *Gate) PruneBindings(ctx context.Context) int {
	n := 0
	for _, id := range g.bindings.Sessions() {
		if !g.sessions.HaveSession(ctx, id) {
			g.bindings.Unbind(id)
			n++
		}
	}
	return n
}

// CloseSession ends a session and drops its user binding.
func (g *Gate) CloseSession(ctx context.Context, id string) (int, Response) {
	if id == "" {
		return http.StatusBadRequest, failure(msgMissingSession)
	}

	g.bindings.Unbind(id)
	if err := g.sessions.CloseSession(ctx, id); err != nil {
		g.logger.Error(ctx, "close session failed", "session", id, "error", err)
		return http.StatusInternalServerError, failure(endpointError("close-session", common.ErrorInternal))
	}

	return http.StatusOK, Response{Success: true}
}
