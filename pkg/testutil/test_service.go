package testutil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/toshiapp/toshi-auth-go/pkg/persistence/memory"
	"github.com/toshiapp/toshi-auth-go/pkg/verifier"
)

// RecordedRequest is a request the TestService accepted
type RecordedRequest struct {
	Method  string
	Path    string
	Address string
	Header  http.Header
	Body    []byte
}

// TestServiceConfig configures a TestService. The zero value verifies against
// the real clock with a one minute window and a replay guard.
type TestServiceConfig struct {
	Window   time.Duration
	Now      func() time.Time
	NoReplay bool

	// Handler answers accepted requests. Defaults to writing the caller's
	// lowercase address.
	Handler http.Handler
}

// TestService is an httptest server that verifies Token-* headers and
// records every request it accepts
type TestService struct {
	Server   *httptest.Server
	Verifier *verifier.Verifier

	mu       sync.Mutex
	requests []RecordedRequest
}

func NewTestService(t *testing.T, cfg TestServiceConfig) *TestService {
	t.Helper()
	if cfg.Window == 0 {
		cfg.Window = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	vcfg := verifier.Config{
		Window: cfg.Window,
		Now:    cfg.Now,
		Logger: zaptest.NewLogger(t),
	}
	if !cfg.NoReplay {
		vcfg.Replay = memory.NewMemoryPersistenceWithClock(cfg.Now)
	}

	ts := &TestService{Verifier: verifier.NewVerifier(vcfg)}
	handler := cfg.Handler
	if handler == nil {
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(strings.ToLower(verifier.ResultFromContext(r.Context()).Address.Hex())))
		})
	}

	record := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		ts.mu.Lock()
		ts.requests = append(ts.requests, RecordedRequest{
			Method:  r.Method,
			Path:    r.URL.RequestURI(),
			Address: strings.ToLower(verifier.ResultFromContext(r.Context()).Address.Hex()),
			Header:  r.Header.Clone(),
			Body:    body,
		})
		ts.mu.Unlock()

		handler.ServeHTTP(w, r)
	})

	ts.Server = httptest.NewServer(verifier.Middleware(ts.Verifier, verifier.MiddlewareConfig{})(record))
	t.Cleanup(ts.Server.Close)
	return ts
}

func (ts *TestService) URL() string {
	return ts.Server.URL
}

// Requests returns a copy of the accepted requests in arrival order
func (ts *TestService) Requests() []RecordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]RecordedRequest(nil), ts.requests...)
}
