package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dmitrijs2005/volunteerhub/internal/cryptox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keysOnce sync.Once
	testPub  string
	testPriv string
	keysErr  error
)

func testKeys(t *testing.T) (string, string) {
	t.Helper()
	keysOnce.Do(func() {
		testPub, testPriv, keysErr = cryptox.GenerateRSAKeyPair(cryptox.DefaultRSABits)
	})
	require.NoError(t, keysErr)
	return testPub, testPriv
}

func newManager() *Manager {
	return NewManager(NewMemoryStore(100, 0), nil)
}

func TestCreateSession_InsecureRequiresPublicKey(t *testing.T) {
	m := newManager()

	_, err := m.CreateSession(context.Background(), "1.2.3.4", false, "")
	require.ErrorIs(t, err, ErrConfiguration)

	n, err := m.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateSession_Insecure(t *testing.T) {
	ctx := context.Background()
	pub, _ := testKeys(t)
	m := newManager()

	id, err := m.CreateSession(ctx, "1.2.3.4", false, pub)
	require.NoError(t, err)
	assert.True(t, m.HaveSession(ctx, id))

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	s, err := m.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, s.Key, 96)
	assert.Equal(t, pub, s.UserPublicKey)
	assert.False(t, s.Secure)
}

func TestCreateSession_SecureHasNoKey(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	id, err := m.CreateSession(ctx, "1.2.3.4", true, "")
	require.NoError(t, err)

	s, err := m.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, s.Key)
	assert.True(t, s.Secure)
}

func TestCreateSession_UniqueIDs(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id, err := m.CreateSession(ctx, "", true, "")
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestHandshake_Secure(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	res, err := m.Handshake(ctx, "1.2.3.4", true, "")
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, json.Unmarshal(res.Data, &body))
	assert.Equal(t, map[string]string{"id": res.ID}, body)
}

func TestHandshake_InsecureWrapsSecret(t *testing.T) {
	ctx := context.Background()
	pub, priv := testKeys(t)
	m := newManager()

	res, err := m.Handshake(ctx, "1.2.3.4", false, pub)
	require.NoError(t, err)

	var wrapped string
	require.NoError(t, json.Unmarshal(res.Data, &wrapped))

	plain, err := cryptox.DecryptRSA(wrapped, priv)
	require.NoError(t, err)

	var body struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	require.NoError(t, json.Unmarshal(plain, &body))
	assert.Equal(t, res.ID, body.ID)

	s, err := m.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Key, body.Key)
}

func TestHandshake_BadPublicKeyLeavesNoSession(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	_, err := m.Handshake(ctx, "1.2.3.4", false, "bm90IGEga2V5")
	require.ErrorIs(t, err, cryptox.ErrInvalidKey)

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEncryptDecrypt_Insecure(t *testing.T) {
	ctx := context.Background()
	pub, _ := testKeys(t)
	m := newManager()

	id, err := m.CreateSession(ctx, "", false, pub)
	require.NoError(t, err)

	enc, err := m.EncryptClientData(ctx, map[string]any{"token": "T"}, id)
	require.NoError(t, err)

	var ciphertext string
	require.NoError(t, json.Unmarshal(enc, &ciphertext))
	assert.NotContains(t, ciphertext, "token")

	dec, err := m.DecryptClientData(ctx, enc, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"T"}`, string(dec))
}

func TestDecryptClientData_Failures(t *testing.T) {
	ctx := context.Background()
	pub, _ := testKeys(t)
	m := newManager()

	id, err := m.CreateSession(ctx, "", false, pub)
	require.NoError(t, err)
	other, err := m.CreateSession(ctx, "", false, pub)
	require.NoError(t, err)

	_, err = m.DecryptClientData(ctx, json.RawMessage(`"x"`), "nope")
	require.ErrorIs(t, err, ErrUnknownSession)

	_, err = m.DecryptClientData(ctx, json.RawMessage(`{"plain":true}`), id)
	require.ErrorIs(t, err, cryptox.ErrDecryption)

	_, err = m.DecryptClientData(ctx, json.RawMessage(`"not base64!"`), id)
	require.ErrorIs(t, err, cryptox.ErrDecryption)

	s, err := m.store.Get(ctx, id)
	require.NoError(t, err)
	notJSON, err := cryptox.Encrypt([]byte("hello"), s.Key)
	require.NoError(t, err)
	raw, _ := json.Marshal(notJSON)
	_, err = m.DecryptClientData(ctx, raw, id)
	require.ErrorIs(t, err, cryptox.ErrDecryption)

	// Ciphertext for one session must not open under another.
	enc, err := m.EncryptClientData(ctx, map[string]string{"a": "b"}, other)
	require.NoError(t, err)
	out, err := m.DecryptClientData(ctx, enc, id)
	if err == nil {
		assert.NotEqual(t, `{"a":"b"}`, string(out))
	} else {
		assert.True(t, errors.Is(err, cryptox.ErrDecryption))
	}
}

func TestEncryptDecrypt_SecurePassThrough(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	id, err := m.CreateSession(ctx, "", true, "")
	require.NoError(t, err)

	enc, err := m.EncryptClientData(ctx, map[string]int{"n": 1}, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(enc))

	dec, err := m.DecryptClientData(ctx, json.RawMessage(`{"n":1}`), id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(dec))

	_, err = m.DecryptClientData(ctx, json.RawMessage(`{"n":`), id)
	require.ErrorIs(t, err, cryptox.ErrDecryption)
}

func TestEncryptClientData_UnknownSession(t *testing.T) {
	_, err := newManager().EncryptClientData(context.Background(), struct{}{}, "nope")
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestCloseSession_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	id, err := m.CreateSession(ctx, "", true, "")
	require.NoError(t, err)

	require.NoError(t, m.CloseSession(ctx, id))
	require.NoError(t, m.CloseSession(ctx, id))
	require.NoError(t, m.CloseSession(ctx, "unknown"))
	assert.False(t, m.HaveSession(ctx, id))
	assert.False(t, m.HaveSession(ctx, ""))
}

type failingStore struct{ Store }

func (failingStore) Get(context.Context, string) (*Session, error) {
	return nil, errors.New("backend down")
}

func TestHaveSession_StoreErrorIsFalse(t *testing.T) {
	m := NewManager(failingStore{Store: NewMemoryStore(1, 0)}, nil)
	assert.False(t, m.HaveSession(context.Background(), "x"))
}
