// Package headers builds the Token-* authentication headers attached to every
// Toshi API request. The signature binds the method, path, timestamp and body
// of a request to the caller's identity address.
package headers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/toshiapp/toshi-auth-go/pkg/cereal"
)

var ErrNilIdentity = errors.New("signing identity is nil")

// Identity signs canonical requests. *cereal.Cereal implements it.
type Identity interface {
	Address() string
	Sign(message []byte) ([]byte, byte, error)
}

var _ Identity = (*cereal.Cereal)(nil)

// Request describes one outbound call. ContentType, when set, is emitted
// together with Content-Length computed from Payload.
type Request struct {
	Method      string
	Path        string
	Timestamp   string
	Payload     []byte
	ContentType string
}

// Generate signs req with id and returns the header map
func Generate(id Identity, req Request) (HeaderMap, error) {
	if id == nil {
		return nil, ErrNilIdentity
	}
	if c, ok := id.(*cereal.Cereal); ok && c == nil {
		return nil, ErrNilIdentity
	}

	canonical := CanonicalString(req.Method, req.Path, req.Timestamp, req.Payload)
	sig, recovery, err := id.Sign(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	m := HeaderMap{
		Timestamp: req.Timestamp,
		Address:   id.Address(),
		Signature: cereal.FormatSignature(sig, recovery),
	}
	if req.ContentType != "" {
		m[ContentType] = req.ContentType
		m[ContentLength] = strconv.Itoa(len(req.Payload))
	}
	return m, nil
}

// GetHeaders signs a GET request without a body
func GetHeaders(id Identity, path, timestamp string) (HeaderMap, error) {
	return Generate(id, Request{Method: http.MethodGet, Path: path, Timestamp: timestamp})
}

// DictionaryHeaders signs a structured payload. The method defaults to POST.
func DictionaryHeaders(id Identity, method, path, timestamp string, payload map[string]interface{}) (HeaderMap, error) {
	body, err := EncodeDictionary(payload)
	if err != nil {
		return nil, err
	}
	return DataHeaders(id, method, path, timestamp, body)
}

// DataHeaders signs a pre-encoded payload. The method defaults to POST.
func DataHeaders(id Identity, method, path, timestamp string, payload []byte) (HeaderMap, error) {
	if method == "" {
		method = http.MethodPost
	}
	return Generate(id, Request{Method: method, Path: path, Timestamp: timestamp, Payload: payload})
}

// MultipartHeaders signs a multipart upload. The method defaults to POST. The
// signature and Content-Length cover body as given; boundary only appears in
// the Content-Type value.
func MultipartHeaders(id Identity, method, boundary, path, timestamp string, body []byte) (HeaderMap, error) {
	if method == "" {
		method = http.MethodPost
	}
	return Generate(id, Request{
		Method:      method,
		Path:        path,
		Timestamp:   timestamp,
		Payload:     body,
		ContentType: ContentTypeFor(boundary),
	})
}
