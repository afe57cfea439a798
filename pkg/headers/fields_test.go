package headers

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderField_WireNames(t *testing.T) {
	tests := []struct {
		field    HeaderField
		expected string
	}{
		{Timestamp, "Token-Timestamp"},
		{Address, "Token-ID-Address"},
		{Signature, "Token-Signature"},
		{ContentType, "Content-Type"},
		{ContentLength, "Content-Length"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.True(t, tt.field.Valid())
			assert.Equal(t, tt.expected, tt.field.WireName())
			assert.Equal(t, tt.expected, tt.field.String())
		})
	}

	unknown := HeaderField(42)
	assert.False(t, unknown.Valid())
	assert.Empty(t, unknown.WireName())
	assert.Equal(t, "HeaderField(42)", unknown.String())
}

func TestHeaderMap_Validate(t *testing.T) {
	complete := HeaderMap{Timestamp: "1", Address: "0xabc", Signature: "0xdef"}
	require.NoError(t, complete.Validate())

	missing := HeaderMap{Timestamp: "1", Address: "0xabc"}
	err := missing.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Token-Signature")

	unknown := HeaderMap{Timestamp: "1", Address: "0xabc", Signature: "0xdef", HeaderField(9): "x"}
	require.Error(t, unknown.Validate())
}

func TestHeaderMap_ApplyAndRead(t *testing.T) {
	m := HeaderMap{
		Timestamp:     "12345",
		Address:       testAddress,
		Signature:     "0x01",
		ContentType:   "multipart/form-data; boundary=b",
		ContentLength: "10",
	}

	h := http.Header{}
	h.Set("Token-Signature", "stale")
	h.Set("Accept", "application/json")
	m.Apply(h)

	assert.Equal(t, "0x01", h.Get("Token-Signature"))
	assert.Equal(t, "12345", h.Get("Token-Timestamp"))
	assert.Equal(t, testAddress, h.Get("Token-ID-Address"))
	assert.Equal(t, "application/json", h.Get("Accept"))

	assert.Equal(t, m, FromHTTPHeader(h))

	s := m.Strings()
	assert.Len(t, s, 5)
	assert.Equal(t, "10", s["Content-Length"])

	v, ok := m.Get(ContentType)
	assert.True(t, ok)
	assert.Equal(t, "multipart/form-data; boundary=b", v)
	_, ok = HeaderMap{}.Get(Signature)
	assert.False(t, ok)
}

func TestCanonicalString(t *testing.T) {
	assert.Equal(t, "GET\n/v1/get\n12345\n", string(CanonicalString("", "/v1/get", "12345", nil)))
	assert.Equal(t, "GET\n/v1/get\n12345\n", string(CanonicalString(http.MethodGet, "/v1/get", "12345", []byte{})))

	got := string(CanonicalString(http.MethodPost, "/v1/profile", "44444444", []byte(`{"foo":"bar"}`)))
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"POST", "/v1/profile", "44444444"}, lines[:3])
	assert.Equal(t, PayloadHash([]byte(`{"foo":"bar"}`)), lines[3])
	assert.Len(t, lines[3], 44)
}

func TestEncodeDictionary(t *testing.T) {
	body, err := EncodeDictionary(map[string]interface{}{"b": "<x>", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"<x>"}`, string(body))

	body, err = EncodeDictionary(nil)
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestMultipartBody_Encode(t *testing.T) {
	body := &MultipartBody{
		Boundary: "boundary1",
		Parts:    []Part{ImagePart("avatar.png", []byte("big checkmark png"))},
	}
	encoded, err := body.Encode()
	require.NoError(t, err)

	expected := "--boundary1\r\n" +
		"Content-Disposition: form-data; name=\"image\"; filename=\"avatar.png\"\r\n" +
		"Content-Type: image/png\r\n" +
		"\r\n" +
		"big checkmark png" +
		"\r\n--boundary1--\r\n"
	assert.Equal(t, expected, string(encoded))
	assert.Equal(t, "multipart/form-data; boundary=boundary1", body.ContentType())

	mediaType, params, err := mime.ParseMediaType(body.ContentType())
	require.NoError(t, err)
	assert.Equal(t, MultipartFormData, mediaType)

	r := multipart.NewReader(strings.NewReader(string(encoded)), params["boundary"])
	part, err := r.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image", part.FormName())
	assert.Equal(t, "avatar.png", part.FileName())
	data, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, "big checkmark png", string(data))
	_, err = r.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultipartBody_EncodeErrors(t *testing.T) {
	tests := []struct {
		name string
		body *MultipartBody
	}{
		{name: "no parts", body: &MultipartBody{Boundary: "b"}},
		{name: "unnamed part", body: &MultipartBody{Boundary: "b", Parts: []Part{{Data: []byte("x")}}}},
		{name: "invalid boundary", body: &MultipartBody{Boundary: "bad boundary\n", Parts: []Part{ImagePart("a.png", nil)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.body.Encode()
			require.ErrorIs(t, err, ErrEncoding)
		})
	}
}

func TestMultipartBody_GeneratesBoundary(t *testing.T) {
	body := &MultipartBody{Parts: []Part{{Name: "note", Data: []byte("hi")}}}
	_, err := body.Encode()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(body.Boundary, "Boundary-"))
	assert.NotEqual(t, body.Boundary, NewBoundary())
}
