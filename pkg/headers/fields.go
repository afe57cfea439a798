package headers

import (
	"fmt"
	"net/http"
)

// HeaderField enumerates the outbound headers produced by the generator
type HeaderField int

const (
	Timestamp HeaderField = iota
	Address
	Signature
	ContentType
	ContentLength
)

// Wire names expected by the Toshi services.
const (
	TimestampHeader     = "Token-Timestamp"
	AddressHeader       = "Token-ID-Address"
	SignatureHeader     = "Token-Signature"
	ContentTypeHeader   = "Content-Type"
	ContentLengthHeader = "Content-Length"
)

var wireNames = [...]string{
	Timestamp:     TimestampHeader,
	Address:       AddressHeader,
	Signature:     SignatureHeader,
	ContentType:   ContentTypeHeader,
	ContentLength: ContentLengthHeader,
}

// AllFields lists every HeaderField in wire order
var AllFields = []HeaderField{Timestamp, Address, Signature, ContentType, ContentLength}

// AuthFields are present in every generated HeaderMap
var AuthFields = []HeaderField{Timestamp, Address, Signature}

func (f HeaderField) Valid() bool {
	return f >= Timestamp && f <= ContentLength
}

// WireName is the HTTP header name of the field
func (f HeaderField) WireName() string {
	if !f.Valid() {
		return ""
	}
	return wireNames[f]
}

func (f HeaderField) String() string {
	if !f.Valid() {
		return fmt.Sprintf("HeaderField(%d)", int(f))
	}
	return wireNames[f]
}

// HeaderMap is the complete output of the generator
type HeaderMap map[HeaderField]string

// Get returns the value of f and whether it is set
func (m HeaderMap) Get(f HeaderField) (string, bool) {
	v, ok := m[f]
	return v, ok
}

// Validate checks that every key is a known field and the auth fields are present
func (m HeaderMap) Validate() error {
	for f := range m {
		if !f.Valid() {
			return fmt.Errorf("unknown header field %d", int(f))
		}
	}
	for _, f := range AuthFields {
		if m[f] == "" {
			return fmt.Errorf("missing required header %s", f.WireName())
		}
	}
	return nil
}

// Strings returns the map keyed by wire name
func (m HeaderMap) Strings() map[string]string {
	out := make(map[string]string, len(m))
	for f, v := range m {
		if f.Valid() {
			out[f.WireName()] = v
		}
	}
	return out
}

// Apply sets every field on h, overwriting existing values
func (m HeaderMap) Apply(h http.Header) {
	for _, f := range AllFields {
		if v, ok := m[f]; ok {
			h.Set(f.WireName(), v)
		}
	}
}

// FromHTTPHeader reads the known fields present in h
func FromHTTPHeader(h http.Header) HeaderMap {
	m := make(HeaderMap)
	for _, f := range AllFields {
		if v := h.Get(f.WireName()); v != "" {
			m[f] = v
		}
	}
	return m
}
