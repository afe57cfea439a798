package headers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrEncoding = errors.New("payload encoding failed")

// EncodeDictionary serializes a structured payload to compact JSON. Object keys
// are emitted in sorted order at every level, so equal maps always encode to
// the same bytes. HTML characters are left unescaped.
func EncodeDictionary(payload map[string]interface{}) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	// Encoder terminates every value with a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
