package cli

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/volunteerhub/internal/client/client"
	"github.com/dmitrijs2005/volunteerhub/internal/server/api"
	"github.com/dmitrijs2005/volunteerhub/internal/server/auth"
	"github.com/dmitrijs2005/volunteerhub/internal/server/datastore"
	"github.com/dmitrijs2005/volunteerhub/internal/server/gate"
	"github.com/dmitrijs2005/volunteerhub/internal/server/httpapi"
	"github.com/dmitrijs2005/volunteerhub/internal/server/sessions"
	"github.com/dmitrijs2005/volunteerhub/internal/server/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	gs "github.com/dmitrijs2005/volunteerhub/internal/server/grpc"
)

func newTestGate(t *testing.T) *gate.Gate {
	t.Helper()
	ctx := context.Background()

	store, err := datastore.Open(ctx, "sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	accounts := users.NewService(users.NewStoreRepository(store), hasher, nil,
		users.Config{SecretKey: []byte("k"), TokenTTL: time.Hour}, nil)

	require.NoError(t, accounts.EnsureAdmin(ctx, "root", "s3cret", api.PermissionAdmin))

	g := gate.New(sessions.NewManager(sessions.NewMemoryStore(100, 0), nil), accounts, nil)
	g.Register(api.AuthEndpoints(accounts)...)
	return g
}

func newTestServer(t *testing.T) string {
	t.Helper()
	s, err := httpapi.New(newTestGate(t), nil, httpapi.Options{})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func stubPassword(t *testing.T, pw string) {
	t.Helper()
	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) { return []byte(pw), nil }
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHandshakeCmd(t *testing.T) {
	url := newTestServer(t)

	out, err := run(t, "--server", url, "handshake")
	require.NoError(t, err)
	assert.Contains(t, out, "(encrypted)")
	assert.Contains(t, out, "api 0.0.2")
}

func TestAccountCommands(t *testing.T) {
	url := newTestServer(t)
	stubPassword(t, "s3cret")

	_, err := run(t, "--server", url, "sign-up", "--id", "ann", "--permissions", "editor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	out, err := run(t, "--server", url, "sign-up", "--id", "ann", "--permissions", "editor", "--admin", "root")
	require.NoError(t, err)
	assert.Contains(t, out, `account "ann" created`)

	out, err = run(t, "--server", url, "sign-in", "--id", "ann")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	token := lines[len(lines)-1]
	assert.Len(t, strings.Split(token, "."), 3, "expected a JWT, got %q", token)

	out, err = run(t, "--server", url, "permissions", "--id", "ann")
	require.NoError(t, err)
	assert.Contains(t, out, `ann: "editor"`)

	_, err = run(t, "--server", url, "sign-up", "--id", "ann")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user already exists")

	_, err = run(t, "--server", url, "sign-up", "--id", "bea")
	require.NoError(t, err)
	out, err = run(t, "--server", url, "permissions", "--id", "bea")
	require.NoError(t, err)
	assert.Contains(t, out, `bea: "user"`)
}

func TestSignInCmd_WrongPassword(t *testing.T) {
	url := newTestServer(t)
	stubPassword(t, "right")
	_, err := run(t, "--server", url, "sign-up", "--id", "bob")
	require.NoError(t, err)

	stubPassword(t, "wrong")
	_, err = run(t, "--server", url, "sign-in", "--id", "bob")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Contains(t, apiErr.Msg, `Errors in "sign-in"`)
}

func TestCommands_RequireID(t *testing.T) {
	for _, name := range []string{"sign-up", "sign-in", "permissions"} {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, name)
			require.Error(t, err)
			assert.Contains(t, err.Error(), `required flag(s) "id" not set`)
		})
	}
}

func TestSignInCmd_PasswordReadError(t *testing.T) {
	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) { return nil, errors.New("no tty") }

	_, err := run(t, "--server", "http://127.0.0.1:1", "sign-in", "--id", "x")
	require.EqualError(t, err, "no tty")
}

func TestHandshakeCmd_Unavailable(t *testing.T) {
	_, err := run(t, "--server", "http://127.0.0.1:1", "--timeout", "2s", "handshake")
	assert.ErrorIs(t, err, client.ErrUnavailable)
}

func TestHeartbeatCmd_OverGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := gs.NewServer("", nil, newTestGate(t)).NewGRPCServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	old := newTransport
	t.Cleanup(func() { newTransport = old })
	newTransport = func(o *options) (client.Transport, error) {
		require.Equal(t, "bufnet", o.grpc)
		return client.NewGRPCTransport("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	out, err := run(t, "--grpc", "bufnet", "heartbeat")
	require.NoError(t, err)
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(out))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestGetPassword_Error(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()
	readPassword = func(int) ([]byte, error) {
		return nil, errors.New("boom")
	}
	var out bytes.Buffer
	_, err := GetPassword(&out, "Enter password: ")
	if err == nil {
		t.Fatal("expected error")
	}
}
