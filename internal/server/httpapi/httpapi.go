// Package httpapi serves the gate over plain HTTP: one POST route per
// endpoint plus the handshake, close-session, metrics and health routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/volunteerhub/internal/logging"
	"github.com/dmitrijs2005/volunteerhub/internal/server/gate"
)

const DefaultMaxBodyBytes = 8 << 20

// Rejections is notified about requests refused by middleware.
type Rejections interface {
	Rejected(reason string)
}

type Options struct {
	// IPMaxPerMin caps requests per client IP per minute. Zero disables.
	IPMaxPerMin int
	// Banned lists IPs or CIDRs refused outright.
	Banned       []string
	MaxBodyBytes int64
	// Metrics, when set, is served on GET /metrics.
	Metrics    http.Handler
	Rejections Rejections
}

type Server struct {
	gate    *gate.Gate
	logger  logging.Logger
	opts    Options
	limiter *ipLimiter
	banned  []*net.IPNet
}

func New(g *gate.Gate, logger logging.Logger, opts Options) (*Server, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		gate:   g,
		logger: logger.With("module", "http_server"),
		opts:   opts,
	}

	for _, b := range opts.Banned {
		n, err := parseCIDRorIP(b)
		if err != nil {
			return nil, errors.New("invalid banned address " + b + ": " + err.Error())
		}
		s.banned = append(s.banned, n)
	}

	if opts.IPMaxPerMin > 0 {
		s.limiter = newIPLimiter(opts.IPMaxPerMin, time.Minute)
	}

	return s, nil
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /handshake", s.handleHandshake)
	mux.HandleFunc("POST /close-session", s.handleCloseSession)
	mux.HandleFunc("POST /{endpoint}", s.handleEndpoint)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}

	var h http.Handler = mux
	h = s.withBodyLimit(h)
	h = s.withRateLimit(h)
	h = s.withBanList(h)
	h = withCORS(h)
	h = s.withRecover(h)
	h = s.withRequestLog(h)
	return h
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "HTTP server started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.Close()
		s.logger.Info(ctx, "HTTP server stopped")
		return err
	}
}

// Close stops background work.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

type handshakeRequest struct {
	UserPublicKey string `json:"userPublicKey"`
}

type sessionRequest struct {
	Session string          `json:"session"`
	Data    json.RawMessage `json:"data"`
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req handshakeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, gate.Response{Msg: "Malformed request body"})
		return
	}
	status, resp := s.gate.Handshake(r.Context(), clientIP(r), req.UserPublicKey)
	writeJSON(w, status, resp)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, gate.Response{Msg: "Malformed request body"})
		return
	}
	status, resp := s.gate.CloseSession(r.Context(), req.Session)
	writeJSON(w, status, resp)
}

func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("endpoint")

	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, gate.Response{Msg: "Malformed request body"})
		return
	}

	status, resp := s.gate.Handle(r.Context(), name, gate.Request{
		Session:  req.Session,
		Data:     req.Data,
		RemoteIP: clientIP(r),
	})
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gate.Response{Success: true})
}

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// clientIP extracts the remote IP without a port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
