// Package verifier checks Token-* authentication headers on the server side.
//
// A request is accepted when the signature over the canonical request
// recovers to Token-ID-Address, Token-Timestamp is within the configured
// window of the server clock, and the signature has not been seen before.
package verifier

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/toshiapp/toshi-auth-go/pkg/cereal"
	"github.com/toshiapp/toshi-auth-go/pkg/headers"
	"github.com/toshiapp/toshi-auth-go/pkg/metrics"
)

const (
	DefaultWindow       = 5 * time.Minute
	DefaultMaxBodyBytes = 10 << 20
)

// ReplayGuard remembers accepted signatures. persistence.IAuthPersistence
// implements it.
type ReplayGuard interface {
	RecordSignature(signature string, expiresAt time.Time) (bool, error)
}

type Config struct {
	// Window is the allowed distance between Token-Timestamp and Now in
	// either direction. Defaults to DefaultWindow.
	Window time.Duration

	// Replay is optional. Without it replayed signatures are accepted.
	Replay ReplayGuard

	// MaxBodyBytes caps how much of a request body VerifyRequest reads.
	MaxBodyBytes int64

	Now     func() time.Time
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Result describes an accepted request
type Result struct {
	Address   common.Address
	Timestamp time.Time
	Signature string
}

type Verifier struct {
	window       time.Duration
	replay       ReplayGuard
	maxBodyBytes int64
	now          func() time.Time
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

func NewVerifier(cfg Config) *Verifier {
	v := &Verifier{
		window:       cfg.Window,
		replay:       cfg.Replay,
		maxBodyBytes: cfg.MaxBodyBytes,
		now:          cfg.Now,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
	if v.window <= 0 {
		v.window = DefaultWindow
	}
	if v.maxBodyBytes <= 0 {
		v.maxBodyBytes = DefaultMaxBodyBytes
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	return v
}

// Verify checks m against the request it claims to sign
func (v *Verifier) Verify(method, path string, payload []byte, m headers.HeaderMap) (*Result, error) {
	start := time.Now()
	res, err := v.verify(method, path, payload, m)
	v.metrics.ObserveVerification(resultLabel(err), time.Since(start))
	if err != nil {
		v.logger.Sugar().Debugw("Rejected signed request",
			"method", method,
			"path", path,
			"address", m[headers.Address],
			"error", err)
		return nil, err
	}
	return res, nil
}

func (v *Verifier) verify(method, path string, payload []byte, m headers.HeaderMap) (*Result, error) {
	for _, f := range headers.AuthFields {
		if m[f] == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingHeader, f.WireName())
		}
	}

	rawTimestamp := m[headers.Timestamp]
	seconds, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedTimestamp, rawTimestamp)
	}
	timestamp := time.Unix(seconds, 0)
	if skew := v.now().Sub(timestamp); skew > v.window || skew < -v.window {
		return nil, fmt.Errorf("%w: skew %s exceeds %s", ErrTimestampExpired, skew.Truncate(time.Second), v.window)
	}

	signature, err := canonicalSignature(m[headers.Signature])
	if err != nil {
		return nil, err
	}

	claimed := m[headers.Address]
	if !common.IsHexAddress(claimed) {
		return nil, fmt.Errorf("%w: invalid address %q", ErrAddressMismatch, claimed)
	}

	canonical := headers.CanonicalString(method, path, rawTimestamp, payload)
	recovered, err := cereal.RecoverAddress(canonical, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if recovered != common.HexToAddress(claimed) {
		return nil, fmt.Errorf("%w: recovered %s", ErrAddressMismatch, strings.ToLower(recovered.Hex()))
	}

	if v.replay != nil {
		fresh, err := v.replay.RecordSignature(signature, timestamp.Add(v.window))
		if err != nil {
			return nil, fmt.Errorf("failed to record signature: %w", err)
		}
		if !fresh {
			return nil, ErrReplayed
		}
	}

	return &Result{Address: recovered, Timestamp: timestamp, Signature: signature}, nil
}

// VerifyRequest verifies r using its method, request URI and body. The body
// is read in full and replaced so handlers can still consume it.
func (v *Verifier) VerifyRequest(r *http.Request) (*Result, error) {
	var payload []byte
	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, v.maxBodyBytes+1))
		_ = r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		if int64(len(body)) > v.maxBodyBytes {
			return nil, ErrBodyTooLarge
		}
		payload = body
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	return v.Verify(r.Method, r.URL.RequestURI(), payload, headers.FromHTTPHeader(r.Header))
}

// canonicalSignature rejects signatures that are not 65 bytes or use a high
// S value, and returns the lowercase hex form with the recovery byte as 0 or
// 1. Every encoding of one signature maps to the same replay key.
func canonicalSignature(signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(sig) != cereal.SignatureLength {
		return "", fmt.Errorf("%w: signature must be %d bytes, got %d", ErrMalformedSignature, cereal.SignatureLength, len(sig))
	}

	recovery := sig[64]
	if recovery >= 27 {
		recovery -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(recovery, r, s, true) {
		return "", fmt.Errorf("%w: invalid signature values", ErrMalformedSignature)
	}
	return cereal.FormatSignature(sig[:64], recovery), nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultAccepted
	case errors.Is(err, ErrMissingHeader):
		return metrics.ResultMissingHeader
	case errors.Is(err, ErrMalformedSignature), errors.Is(err, ErrMalformedTimestamp):
		return metrics.ResultMalformedSignature
	case errors.Is(err, ErrAddressMismatch):
		return metrics.ResultAddressMismatch
	case errors.Is(err, ErrTimestampExpired):
		return metrics.ResultTimestampExpired
	case errors.Is(err, ErrReplayed):
		return metrics.ResultReplayed
	default:
		return metrics.ResultError
	}
}
