package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/volunteerhub/internal/common"
	"github.com/dmitrijs2005/volunteerhub/internal/cryptox"
	"github.com/dmitrijs2005/volunteerhub/internal/server/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenTable map[string]string // token -> user

func (t tokenTable) VerifyToken(_ context.Context, expectedID, token string) bool {
	u, ok := t[token]
	return ok && u == expectedID
}

type echoPayload struct {
	Name  string `json:"name" validate:"required"`
	Count int    `json:"count" validate:"min=1"`
}

type privatePayload struct {
	Token string `json:"token"`
}

func (p *privatePayload) AuthToken() (string, bool) { return p.Token, p.Token != "" }

type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) ObserveRequest(endpoint, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, endpoint+":"+outcome)
}

type fixture struct {
	gate     *Gate
	sessions *sessions.Manager
	calls    int
	rec      *recorder
}

func newFixture(t *testing.T, secure bool) *fixture {
	t.Helper()
	f := &fixture{
		sessions: sessions.NewManager(sessions.NewMemoryStore(100, 0), nil),
		rec:      &recorder{},
	}
	f.gate = New(f.sessions, tokenTable{"T1": "u1"}, nil, WithSecureTransport(secure), WithObserver(f.rec))
	f.gate.Register(
		Endpoint{
			Name: "echo",
			New:  func() any { return &echoPayload{} },
			Handle: func(ctx context.Context, call *Call, payload any) (any, error) {
				f.calls++
				p := payload.(*echoPayload)
				return map[string]any{"name": p.Name, "count": p.Count}, nil
			},
		},
		Endpoint{
			Name: "private",
			New:  func() any { return &privatePayload{} },
			Handle: func(ctx context.Context, call *Call, payload any) (any, error) {
				f.calls++
				return map[string]string{"user": call.User}, nil
			},
		},
		Endpoint{
			Name: "void",
			New:  func() any { return &struct{}{} },
			Handle: func(ctx context.Context, call *Call, payload any) (any, error) {
				return nil, nil
			},
		},
		Endpoint{
			Name: "boom",
			New:  func() any { return &struct{}{} },
			Handle: func(ctx context.Context, call *Call, payload any) (any, error) {
				panic("secret detail")
			},
		},
		Endpoint{
			Name: "fails",
			New:  func() any { return &struct{}{} },
			Handle: func(ctx context.Context, call *Call, payload any) (any, error) {
				return nil, errors.New("nope")
			},
		},
	)
	return f
}

func (f *fixture) secureSession(t *testing.T) string {
	t.Helper()
	status, resp := f.gate.Handshake(context.Background(), "127.0.0.1", "")
	require.Equal(t, http.StatusOK, status)
	var body struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &body))
	return body.ID
}

func TestHandle_SecureRoundTrip(t *testing.T) {
	f := newFixture(t, true)
	id := f.secureSession(t)

	status, resp := f.gate.Handle(context.Background(), "echo", Request{Session: id, Data: json.RawMessage(`{"name":"x","count":2}`)})
	require.Equal(t, http.StatusOK, status, resp.Msg)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"name":"x","count":2}`, string(resp.Data))
	assert.Equal(t, []string{"handshake:ok", "echo:ok"}, f.rec.seen)
}

func TestHandle_NilResultIsEmptyObject(t *testing.T) {
	f := newFixture(t, true)
	id := f.secureSession(t)

	status, resp := f.gate.Handle(context.Background(), "void", Request{Session: id})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{}`, string(resp.Data))
}

func TestHandle_SessionChecks(t *testing.T) {
	f := newFixture(t, true)

	status, resp := f.gate.Handle(context.Background(), "echo", Request{Data: json.RawMessage(`{}`)})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Missing session ID", resp.Msg)

	status, resp = f.gate.Handle(context.Background(), "echo", Request{Session: "forged", Data: json.RawMessage(`{"name":"x","count":1}`)})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid session ID", resp.Msg)
	assert.False(t, resp.Success)

	assert.Zero(t, f.calls, "handler must not run for a bad session")
}

func TestHandle_UnknownEndpoint(t *testing.T) {
	f := newFixture(t, true)
	status, resp := f.gate.Handle(context.Background(), "nope", Request{Session: "x"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, resp.Msg, `"nope"`)
}

func TestHandle_SchemaListsEveryViolation(t *testing.T) {
	f := newFixture(t, true)
	id := f.secureSession(t)

	status, resp := f.gate.Handle(context.Background(), "echo", Request{Session: id, Data: json.RawMessage(`{}`)})
	require.Equal(t, http.StatusBadRequest, status)
	assert.False(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.Msg, `Errors in "echo": API schema validation failed:`), resp.Msg)
	assert.Contains(t, resp.Msg, "\nname is required")
	assert.Contains(t, resp.Msg, "\ncount must be at least 1")
	assert.Zero(t, f.calls)
}

func TestHandle_SchemaDecodeErrors(t *testing.T) {
	f := newFixture(t, true)
	id := f.secureSession(t)

	cases := map[string]string{
		`{"name":5,"count":1}`:            "name expected string, received number",
		`{"name":"x","count":1,"x":true}`: "x is not an accepted field",
	}
	for body, want := range cases {
		status, resp := f.gate.Handle(context.Background(), "echo", Request{Session: id, Data: json.RawMessage(body)})
		require.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, resp.Msg, want)
	}
	assert.Zero(t, f.calls)
}

func TestHandle_SchemaReportsEveryBadField(t *testing.T) {
	f := newFixture(t, true)
	id := f.secureSession(t)

	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "two type errors",
			body: `{"name":5,"count":"two"}`,
			want: "count expected int, received string\nname expected string, received number",
		},
		{
			name: "type error and missing field",
			body: `{"count":"two"}`,
			want: "count expected int, received string\nname is required",
		},
		{
			name: "unknown field and failed rule",
			body: `{"name":"x","count":0,"extra":1}`,
			want: "extra is not an accepted field\ncount must be at least 1",
		},
		{
			name: "not an object",
			body: `[1,2]`,
			want: "(root) expected object, received array",
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := f.gate.Handle(context.Background(), "echo", Request{Session: id, Data: json.RawMessage(tt.body)})
			require.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, `Errors in "echo": API schema validation failed:`+"\n"+tt.want, resp.Msg)
		})
	}
	assert.Zero(t, f.calls)
}

func TestHandle_TokenGate(t *testing.T) {
	f := newFixture(t, true)
	id := f.secureSession(t)
	ctx := context.Background()

	status, resp := f.gate.Handle(ctx, "private", Request{Session: id, Data: json.RawMessage(`{"token":"T1"}`)})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, resp.Msg, common.ErrInvalidToken.Error())

	f.gate.Bindings().Bind(id, "u1")

	status, resp = f.gate.Handle(ctx, "private", Request{Session: id, Data: json.RawMessage(`{"token":"T1"}`)})
	require.Equal(t, http.StatusOK, status, resp.Msg)
	assert.JSONEq(t, `{"user":"u1"}`, string(resp.Data))

	status, _ = f.gate.Handle(ctx, "private", Request{Session: id, Data: json.RawMessage(`{"token":"T2"}`)})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.gate.Handle(ctx, "private", Request{Session: id, Data: json.RawMessage(`{}`)})
	assert.Equal(t, http.StatusBadRequest, status)

	f.gate.Bindings().Bind(id, "u2")
	status, _ = f.gate.Handle(ctx, "private", Request{Session: id, Data: json.RawMessage(`{"token":"T1"}`)})
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Equal(t, 1, f.calls)
}

func TestHandle_HandlerErrorAndPanic(t *testing.T) {
	f := newFixture(t, true)
	id := f.secureSession(t)

	status, resp := f.gate.Handle(context.Background(), "fails", Request{Session: id})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, `Errors in "fails": nope`, resp.Msg)

	status, resp = f.gate.Handle(context.Background(), "boom", Request{Session: id})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, `Errors in "boom": internal error`, resp.Msg)
	assert.NotContains(t, resp.Msg, "secret detail")
	assert.Contains(t, f.rec.seen, "boom:panic")
	assert.Contains(t, f.rec.seen, "fails:failed")
}

func TestHandshake_InsecureNeedsKey(t *testing.T) {
	f := newFixture(t, false)

	status, resp := f.gate.Handshake(context.Background(), "1.1.1.1", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Missing user's public key", resp.Msg)

	status, resp = f.gate.Handshake(context.Background(), "1.1.1.1", "garbage")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Handshake failed", resp.Msg)
}

func TestInsecureRoundTrip(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	pub, priv, err := cryptox.GenerateRSAKeyPair(cryptox.DefaultRSABits)
	require.NoError(t, err)

	status, resp := f.gate.Handshake(ctx, "1.1.1.1", pub)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0.0.2", resp.APIVersion)

	var wrapped string
	require.NoError(t, json.Unmarshal(resp.Data, &wrapped))
	plain, err := cryptox.DecryptRSA(wrapped, priv)
	require.NoError(t, err)
	var keys struct{ ID, Key string }
	require.NoError(t, json.Unmarshal(plain, &keys))

	ct, err := cryptox.Encrypt([]byte(`{"name":"y","count":3}`), keys.Key)
	require.NoError(t, err)
	data, _ := json.Marshal(ct)

	status, resp = f.gate.Handle(ctx, "echo", Request{Session: keys.ID, Data: data})
	require.Equal(t, http.StatusOK, status, resp.Msg)

	var out string
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	dec, err := cryptox.Decrypt(out, keys.Key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"y","count":3}`, string(dec))

	status, resp = f.gate.Handle(ctx, "echo", Request{Session: keys.ID, Data: json.RawMessage(`{"name":"y","count":3}`)})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, resp.Msg, "decryption failed")
}

func TestCloseSession(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id := f.secureSession(t)
	f.gate.Bindings().Bind(id, "u1")

	status, resp := f.gate.CloseSession(ctx, id)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)
	_, bound := f.gate.Bindings().Lookup(id)
	assert.False(t, bound)

	status, _ = f.gate.CloseSession(ctx, id)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.gate.CloseSession(ctx, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.gate.Handle(ctx, "void", Request{Session: id})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRegister_Panics(t *testing.T) {
	g := New(nil, nil, nil)
	noop := func(context.Context, *Call, any) (any, error) { return nil, nil }
	mk := func() any { return &struct{}{} }

	assert.Panics(t, func() { g.Register(Endpoint{Name: "bad name", New: mk, Handle: noop}) })
	assert.Panics(t, func() { g.Register(Endpoint{Name: "", New: mk, Handle: noop}) })
	assert.Panics(t, func() { g.Register(Endpoint{Name: "x"}) })

	g.Register(Endpoint{Name: "ok_name-1", New: mk, Handle: noop})
	assert.Panics(t, func() { g.Register(Endpoint{Name: "ok_name-1", New: mk, Handle: noop}) })
	assert.True(t, g.Has("ok_name-1"))
	assert.Equal(t, []string{"ok_name-1"}, g.Endpoints())
}

func TestBindings_LastWriterWins(t *testing.T) {
	b := NewBindings()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Bind("s", "u")
		}()
	}
	wg.Wait()
	b.Bind("s", "v")

	u, ok := b.Lookup("s")
	require.True(t, ok)
	assert.Equal(t, "v", u)
	assert.Equal(t, 1, b.Len())
	b.Unbind("s")
	assert.Zero(t, b.Len())
}

func TestBindings_DroppedWhenSessionEvicted(t *testing.T) {
	ctx := context.Background()
	bindings := NewBindings()
	store := sessions.NewMemoryStore(1, 0, sessions.WithGoneHook(bindings.Unbind))
	g := New(sessions.NewManager(store, nil), tokenTable{}, nil, WithSecureTransport(true), WithBindings(bindings))

	status, resp := g.Handshake(ctx, "127.0.0.1", "")
	require.Equal(t, http.StatusOK, status)
	var first struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &first))
	bindings.Bind(first.ID, "u1")

	status, _ = g.Handshake(ctx, "127.0.0.1", "")
	require.Equal(t, http.StatusOK, status)

	assert.Zero(t, bindings.Len())
	assert.False(t, g.HaveSession(ctx, first.ID))
}

func TestHandle_UnknownSessionDropsBinding(t *testing.T) {
	f := newFixture(t, true)
	f.gate.Bindings().Bind("expired", "u1")

	status, _ := f.gate.Handle(context.Background(), "void", Request{Session: "expired"})
	require.Equal(t, http.StatusUnauthorized, status)
	_, bound := f.gate.Bindings().Lookup("expired")
	assert.False(t, bound)
}

func TestPruneBindings(t *testing.T) {
	f := newFixture(t, true)
	live := f.secureSession(t)
	f.gate.Bindings().Bind(live, "u1")
	f.gate.Bindings().Bind("gone-1", "u2")
	f.gate.Bindings().Bind("gone-2", "u3")

	assert.Equal(t, 2, f.gate.PruneBindings(context.Background()))
	assert.Equal(t, []string{live}, f.gate.Bindings().Sessions())
	assert.Zero(t, f.gate.PruneBindings(context.Background()))
}

type countingSessions struct {
	*sessions.Manager
	decrypts int
}

func (c *countingSessions) DecryptClientData(ctx context.Context, data json.RawMessage, id string) (json.RawMessage, error) {
	c.decrypts++
	return c.Manager.DecryptClientData(ctx, data, id)
}

func TestHandle_SecureTransportSkipsDecryption(t *testing.T) {
	ctx := context.Background()
	s := &countingSessions{Manager: sessions.NewManager(sessions.NewMemoryStore(10, 0), nil)}
	g := New(s, tokenTable{}, nil, WithSecureTransport(true))
	g.Register(Endpoint{
		Name: "echo",
		New:  func() any { return &echoPayload{} },
		Handle: func(ctx context.Context, call *Call, payload any) (any, error) {
			return payload, nil
		},
	})

	status, resp := g.Handshake(ctx, "127.0.0.1", "")
	require.Equal(t, http.StatusOK, status)
	var body struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &body))

	status, resp = g.Handle(ctx, "echo", Request{Session: body.ID, Data: json.RawMessage(`{"name":"x","count":1}`)})
	require.Equal(t, http.StatusOK, status, resp.Msg)
	assert.JSONEq(t, `{"name":"x","count":1}`, string(resp.Data))
	assert.Zero(t, s.decrypts)

	status, resp = g.Handle(ctx, "echo", Request{Session: body.ID, Data: json.RawMessage(`{"name":`)})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, resp.Msg, "malformed JSON")
}
