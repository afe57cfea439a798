package types

import "strings"

// User is a Toshi ID service profile
type User struct {
	// Address is the identity address (Token-ID-Address) that owns the profile
	Address        string  `json:"toshi_id"`
	PaymentAddress string  `json:"payment_address"`
	Username       string  `json:"username"`
	Name           string  `json:"name,omitempty"`
	About          string  `json:"about,omitempty"`
	Location       string  `json:"location,omitempty"`
	Avatar         string  `json:"avatar,omitempty"`
	IsApp          bool    `json:"is_app"`
	Public         bool    `json:"public"`
	Reputation     float64 `json:"reputation_score,omitempty"`
	ReviewCount    int     `json:"review_count,omitempty"`
	Verified       bool    `json:"verified,omitempty"`
}

// DisplayName prefers the profile name and falls back to @username
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	if u.Username == "" {
		return ""
	}
	return "@" + u.Username
}

// Clone returns a copy that shares no memory with u
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
