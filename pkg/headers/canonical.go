package headers

import (
	"bytes"
	"encoding/base64"
	"net/http"

	"github.com/ethereum/go-ethereum/crypto"
)

// CanonicalRequest holds the only inputs that influence a request signature
type CanonicalRequest struct {
	Method    string
	Path      string
	Timestamp string
	Payload   []byte
}

// Bytes renders the request as
//
//	METHOD "\n" PATH "\n" TIMESTAMP "\n" BASE64(KECCAK256(PAYLOAD))
//
// The hash line is empty when there is no payload. An empty method is GET,
// the path is used as given.
func (r CanonicalRequest) Bytes() []byte {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var buf bytes.Buffer
	buf.WriteString(method)
	buf.WriteByte('\n')
	buf.WriteString(r.Path)
	buf.WriteByte('\n')
	buf.WriteString(r.Timestamp)
	buf.WriteByte('\n')
	buf.WriteString(PayloadHash(r.Payload))
	return buf.Bytes()
}

// CanonicalString is CanonicalRequest{...}.Bytes()
func CanonicalString(method, path, timestamp string, payload []byte) []byte {
	return CanonicalRequest{Method: method, Path: path, Timestamp: timestamp, Payload: payload}.Bytes()
}

// PayloadHash is the base64 encoded keccak256 of payload, or "" for an empty payload
func PayloadHash(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(crypto.Keccak256(payload))
}
