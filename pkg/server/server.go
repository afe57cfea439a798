// Package server is the HTTP front of toshi-authd. Every route under /v1
// except /v1/timestamp requires valid Token-* headers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/toshiapp/toshi-auth-go/pkg/metrics"
	"github.com/toshiapp/toshi-auth-go/pkg/types"
	"github.com/toshiapp/toshi-auth-go/pkg/verifier"
)

// HealthChecker reports backend health. persistence.IAuthPersistence implements it.
type HealthChecker interface {
	HealthCheck() error
}

type Config struct {
	// Port 0 binds an ephemeral port, see Addr
	Port     int
	Verifier *verifier.Verifier
	Health   HealthChecker
	Metrics  *metrics.Metrics

	// RequestsPerSecond limits each verified address. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int

	Now    func() time.Time
	Logger *zap.Logger
}

// Server handles HTTP requests for the auth daemon
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	verifier   *verifier.Verifier
	health     HealthChecker
	metrics    *metrics.Metrics
	limiter    *addressLimiter
	now        func() time.Time
	logger     *zap.Logger
}

func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	s := &Server{
		verifier: cfg.Verifier,
		health:   cfg.Health,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = newAddressLimiter(cfg.RequestsPerSecond, cfg.Burst, s.now)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/timestamp", s.handleTimestamp)

		v1.Group(func(protected chi.Router) {
			protected.Use(verifier.Middleware(s.verifier, verifier.MiddlewareConfig{OnError: s.onVerifyError}))
			if s.limiter != nil {
				protected.Use(s.limiter.middleware)
			}
			protected.HandleFunc("/whoami", s.handleWhoAmI)
		})
	})

	return r
}

// Start binds the listen address and serves in the background. Bind errors
// are returned to the caller.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Addr is the bound address once Start has succeeded, "" before
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests until ctx is done
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		if err := s.health.HealthCheck(); err != nil {
			s.logger.Sugar().Warnw("Health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type timestampResponse struct {
	Timestamp int64 `json:"timestamp"`
}

func (s *Server) handleTimestamp(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, timestampResponse{Timestamp: s.now().Unix()})
}

// WhoAmIResponse describes the verified caller
type WhoAmIResponse struct {
	Address   string `json:"toshi_id"`
	Timestamp int64  `json:"timestamp"`
	Method    string `json:"method"`
	Path      string `json:"path"`
}

func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	res := verifier.ResultFromContext(r.Context())
	writeJSON(w, http.StatusOK, WhoAmIResponse{
		Address:   strings.ToLower(res.Address.Hex()),
		Timestamp: res.Timestamp.Unix(),
		Method:    r.Method,
		Path:      r.URL.RequestURI(),
	})
}

func (s *Server) onVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Sugar().Infow("Rejected request",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimw.GetReqID(r.Context()),
		"error", err)
	verifier.DefaultOnError(w, r, err)
}

// observe records request metrics labelled with the matched route pattern
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(route, r.Method, status, time.Since(start))
		s.logger.Sugar().Debugw("Handled request",
			"method", r.Method,
			"route", route,
			"status", status,
			"request_id", chimw.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, id, message string) {
	writeJSON(w, status, types.ErrorResponse{Errors: []types.ServiceError{{ID: id, Message: message}}})
}
