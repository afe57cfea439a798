package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/toshiapp/toshi-auth-go/pkg/types"
)

type contextKey struct{}

// WithResult stores an accepted verification result on ctx
func WithResult(ctx context.Context, res *Result) context.Context {
	return context.WithValue(ctx, contextKey{}, res)
}

// ResultFromContext returns the result stored by Middleware, or nil
func ResultFromContext(ctx context.Context) *Result {
	res, _ := ctx.Value(contextKey{}).(*Result)
	return res
}

// MiddlewareConfig configures the verifying middleware
type MiddlewareConfig struct {
	// OnError is called when verification fails. When nil, DefaultOnError is used.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware verifies every request before passing it on. Accepted results
// are available to handlers through ResultFromContext.
func Middleware(v *Verifier, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	onError := cfg.OnError
	if onError == nil {
		onError = DefaultOnError
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := v.VerifyRequest(r)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithResult(r.Context(), res)))
		})
	}
}

// StatusFor maps a verification error to an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrMissingHeader), errors.Is(err, ErrMalformedSignature),
		errors.Is(err, ErrMalformedTimestamp), errors.Is(err, ErrAddressMismatch),
		errors.Is(err, ErrTimestampExpired), errors.Is(err, ErrReplayed):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// DefaultOnError writes the Toshi error envelope with the status from StatusFor.
// Internal errors are not echoed to the client.
func DefaultOnError(w http.ResponseWriter, _ *http.Request, err error) {
	status := StatusFor(err)
	id, message := "unauthorized", err.Error()
	switch status {
	case http.StatusRequestEntityTooLarge:
		id = "body_too_large"
	case http.StatusInternalServerError:
		id, message = "internal_error", http.StatusText(status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{
		Errors: []types.ServiceError{{ID: id, Message: message}},
	})
}
