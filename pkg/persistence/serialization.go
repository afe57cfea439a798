package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/toshiapp/toshi-auth-go/pkg/types"
)

// MarshalSessionState serializes SessionState to JSON bytes.
func MarshalSessionState(s *SessionState) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot marshal nil SessionState")
	}

	return json.Marshal(s)
}

// UnmarshalSessionState deserializes SessionState from JSON bytes.
func UnmarshalSessionState(data []byte) (*SessionState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var s SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to SessionState: %w", err)
	}

	return &s, nil
}

// MarshalUser serializes a cached profile to JSON bytes.
func MarshalUser(u *types.User) ([]byte, error) {
	if u == nil {
		return nil, fmt.Errorf("cannot marshal nil User")
	}

	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal User to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalUser deserializes a cached profile from JSON bytes.
func UnmarshalUser(data []byte) (*types.User, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var u types.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to User: %w", err)
	}

	return &u, nil
}
