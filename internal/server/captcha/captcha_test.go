package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnstile_Success(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		got = map[string]string{
			"secret":          r.PostForm.Get("secret"),
			"response":        r.PostForm.Get("response"),
			"remoteip":        r.PostForm.Get("remoteip"),
			"idempotency_key": r.PostForm.Get("idempotency_key"),
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	v := NewTurnstile("s3cr3t", WithURL(srv.URL))
	require.NoError(t, v.Verify(context.Background(), "proof", "10.0.0.1"))

	assert.Equal(t, "s3cr3t", got["secret"])
	assert.Equal(t, "proof", got["response"])
	assert.Equal(t, "10.0.0.1", got["remoteip"])
	assert.NotEmpty(t, got["idempotency_key"])
}

func TestTurnstile_FailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "rejected with codes",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response","timeout-or-duplicate"]}`))
			},
			want: "invalid-input-response, timeout-or-duplicate",
		},
		{
			name: "rejected without codes",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"success":false}`))
			},
			want: "human verification failed",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"success":true}`))
			},
			want: "status 500",
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
			want: "decoding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			err := NewTurnstile("k", WithURL(srv.URL)).Verify(context.Background(), "proof", "")
			require.ErrorIs(t, err, ErrVerificationFailed)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTurnstile_EmptyTokenSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	err := NewTurnstile("k", WithURL(srv.URL)).Verify(context.Background(), "  ", "")
	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.Zero(t, calls.Load())
}

func TestTurnstile_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewTurnstile("k", WithURL(url)).Verify(context.Background(), "proof", "")
	require.ErrorIs(t, err, ErrVerificationFailed)
}

func TestTurnstile_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	v := NewTurnstile("k", WithURL(srv.URL), WithTimeout(50*time.Millisecond))

	start := time.Now()
	err := v.Verify(context.Background(), "proof", "")
	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTurnstile_Options(t *testing.T) {
	c := &http.Client{}
	v := NewTurnstile("k", WithURL(""), WithHTTPClient(c))

	assert.Equal(t, "https://challenges.cloudflare.com/turnstile/v0/siteverify", v.url)
	assert.Same(t, c, v.client)
}

func TestTurnstile_TimeoutLeavesCallerClientAlone(t *testing.T) {
	tr := &http.Transport{}
	c := &http.Client{Transport: tr, Timeout: time.Minute}
	v := NewTurnstile("k", WithHTTPClient(c), WithTimeout(time.Second))

	assert.Equal(t, time.Minute, c.Timeout)
	assert.NotSame(t, c, v.client)
	assert.Equal(t, time.Second, v.client.Timeout)
	assert.Same(t, tr, v.client.Transport)

	v = NewTurnstile("k", WithHTTPClient(http.DefaultClient), WithTimeout(time.Second))
	assert.Zero(t, http.DefaultClient.Timeout)
	assert.Equal(t, time.Second, v.client.Timeout)
}
