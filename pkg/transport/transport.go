package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/toshiapp/toshi-auth-go/pkg/cereal"
	"github.com/toshiapp/toshi-auth-go/pkg/headers"
	"github.com/toshiapp/toshi-auth-go/pkg/metrics"
)

var ErrNoIdentitySource = errors.New("transport: identity source must not be nil")

// IdentitySource returns the identity that signs the next request. It is
// called once per attempt so an identity swapped mid-flight is picked up.
// A nil identity with a nil error sends the request unsigned.
type IdentitySource func() (headers.Identity, error)

// Unsigned never signs. Used for the public lookup endpoints.
func Unsigned() IdentitySource {
	return func() (headers.Identity, error) { return nil, nil }
}

// StaticIdentity always signs with id
func StaticIdentity(id headers.Identity) IdentitySource {
	return func() (headers.Identity, error) {
		if id == nil {
			return nil, headers.ErrNilIdentity
		}
		return id, nil
	}
}

// HolderIdentity signs with whatever identity h holds at call time
func HolderIdentity(h *cereal.Holder) IdentitySource {
	return func() (headers.Identity, error) {
		c, err := h.Get()
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Transport is an http.RoundTripper that adds Token-* headers to every
// outgoing request. The signed path is the request URI including the query.
type Transport struct {
	base     http.RoundTripper
	identity IdentitySource
	now      func() time.Time
	metrics  *metrics.Metrics
}

// NewTransport wraps base, or a clone of http.DefaultTransport when base is nil.
// now defaults to time.Now.
func NewTransport(base http.RoundTripper, identity IdentitySource, now func() time.Time, m *metrics.Metrics) (*Transport, error) {
	if identity == nil {
		return nil, ErrNoIdentitySource
	}
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	if now == nil {
		now = time.Now
	}
	return &Transport{base: base, identity: identity, now: now, metrics: m}, nil
}

// RoundTrip signs a clone of req and delegates to the base transport. The body
// is buffered to hash it, read through GetBody when one is set.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	payload, err := readBody(req)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		clone.Body = io.NopCloser(bytes.NewReader(payload))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
		clone.ContentLength = int64(len(payload))
	}

	id, err := t.identity()
	if err != nil {
		t.metrics.ObserveSignError()
		return nil, fmt.Errorf("failed to resolve signing identity: %w", err)
	}
	if id != nil {
		m, err := t.sign(id, clone, payload)
		if err != nil {
			t.metrics.ObserveSignError()
			return nil, err
		}
		m.Apply(clone.Header)
		t.metrics.ObserveSigned(clone.Method)
	}

	return t.base.RoundTrip(clone)
}

func (t *Transport) sign(id headers.Identity, req *http.Request, payload []byte) (headers.HeaderMap, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	timestamp := strconv.FormatInt(t.now().Unix(), 10)
	path := req.URL.RequestURI()

	if mediaType, params, err := mime.ParseMediaType(req.Header.Get(headers.ContentTypeHeader)); err == nil &&
		mediaType == headers.MultipartFormData {
		return headers.MultipartHeaders(id, method, params["boundary"], path, timestamp, payload)
	}
	return headers.Generate(id, headers.Request{
		Method:    method,
		Path:      path,
		Timestamp: timestamp,
		Payload:   payload,
	})
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}

	defer func() { _ = req.Body.Close() }()

	var src io.ReadCloser = req.Body
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to copy request body: %w", err)
		}
		defer func() { _ = body.Close() }()
		src = body
	}

	payload, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return payload, nil
}
