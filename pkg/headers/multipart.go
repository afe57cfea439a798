package headers

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

const (
	MultipartFormData = "multipart/form-data"
	JSONContentType   = "application/json"
)

// Part is one field of a multipart form. Parts with a FileName are encoded as
// file uploads.
type Part struct {
	Name        string
	FileName    string
	ContentType string
	Data        []byte
}

// MultipartBody builds a multipart/form-data request body
type MultipartBody struct {
	Boundary string
	Parts    []Part
}

// NewBoundary returns a random boundary in the form Boundary-<uuid>
func NewBoundary() string {
	return "Boundary-" + uuid.New().String()
}

// ImagePart is the avatar upload part sent to the ID service
func ImagePart(fileName string, png []byte) Part {
	return Part{
		Name:        "image",
		FileName:    fileName,
		ContentType: "image/png",
		Data:        png,
	}
}

// ContentTypeFor returns the Content-Type header value for a multipart boundary
func ContentTypeFor(boundary string) string {
	return fmt.Sprintf("%s; boundary=%s", MultipartFormData, boundary)
}

// Encode renders the body. When Boundary is empty one is generated and stored
// on the receiver.
func (b *MultipartBody) Encode() ([]byte, error) {
	if b.Boundary == "" {
		b.Boundary = NewBoundary()
	}
	if len(b.Parts) == 0 {
		return nil, fmt.Errorf("%w: multipart body has no parts", ErrEncoding)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(b.Boundary); err != nil {
		return nil, fmt.Errorf("%w: invalid boundary %q: %v", ErrEncoding, b.Boundary, err)
	}

	for i, p := range b.Parts {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: part %d has no name", ErrEncoding, i)
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", contentDisposition(p))
		if p.ContentType != "" {
			h.Set("Content-Type", p.ContentType)
		} else if p.FileName != "" {
			h.Set("Content-Type", "application/octet-stream")
		}

		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create part %s: %v", ErrEncoding, p.Name, err)
		}
		if _, err := pw.Write(p.Data); err != nil {
			return nil, fmt.Errorf("%w: failed to write part %s: %v", ErrEncoding, p.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: failed to close multipart writer: %v", ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

// ContentType is the Content-Type header for this body
func (b *MultipartBody) ContentType() string {
	return ContentTypeFor(b.Boundary)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func contentDisposition(p Part) string {
	if p.FileName == "" {
		return fmt.Sprintf(`form-data; name="%s"`, quoteEscaper.Replace(p.Name))
	}
	return fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(p.Name), quoteEscaper.Replace(p.FileName))
}
