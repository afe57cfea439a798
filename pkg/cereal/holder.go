package cereal

import (
	"errors"
	"sync/atomic"
)

var ErrNoIdentity = errors.New("no signing identity loaded")

// Holder carries the active signing identity for a session. Replace swaps the
// identity atomically, so concurrent readers observe either the previous or
// the new Cereal.
type Holder struct {
	current atomic.Pointer[Cereal]
}

// NewHolder returns a holder seeded with c, which may be nil
func NewHolder(c *Cereal) *Holder {
	h := &Holder{}
	if c != nil {
		h.current.Store(c)
	}
	return h
}

// Load returns the active identity or nil
func (h *Holder) Load() *Cereal {
	return h.current.Load()
}

// Get returns the active identity or ErrNoIdentity
func (h *Holder) Get() (*Cereal, error) {
	c := h.current.Load()
	if c == nil {
		return nil, ErrNoIdentity
	}
	return c, nil
}

// Replace installs c as the active identity and returns the one it replaced
func (h *Holder) Replace(c *Cereal) *Cereal {
	return h.current.Swap(c)
}

// Clear removes the active identity
func (h *Holder) Clear() {
	h.current.Store(nil)
}
