package verifier

import "errors"

var (
	// ErrMissingHeader is returned when a Token-* header is absent or empty.
	ErrMissingHeader = errors.New("verifier: missing authentication header")

	// ErrMalformedSignature is returned when Token-Signature is not a 65 byte
	// low-S secp256k1 signature or no public key can be recovered from it.
	ErrMalformedSignature = errors.New("verifier: malformed signature")

	// ErrMalformedTimestamp is returned when Token-Timestamp is not unix seconds.
	ErrMalformedTimestamp = errors.New("verifier: malformed timestamp")

	// ErrAddressMismatch is returned when the recovered signer is not Token-ID-Address.
	ErrAddressMismatch = errors.New("verifier: signer does not match address")

	// ErrTimestampExpired is returned when Token-Timestamp is outside the window.
	ErrTimestampExpired = errors.New("verifier: timestamp outside allowed window")

	// ErrReplayed is returned when a signature has already been accepted.
	ErrReplayed = errors.New("verifier: signature already used")

	// ErrBodyTooLarge is returned when the request body exceeds MaxBodyBytes.
	ErrBodyTooLarge = errors.New("verifier: request body too large")
)
