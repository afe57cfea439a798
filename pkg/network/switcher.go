package network

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/toshiapp/toshi-auth-go/pkg/config"
)

// PushRegistrar (de)registers the device for push notifications on a network
type PushRegistrar interface {
	RegisterForPush(ctx context.Context, n Network) error
	DeregisterFromPush(ctx context.Context, n Network) error
}

// Store persists the switched network id. An empty id means none.
type Store interface {
	SetActiveNetworkID(networkID string) error
	GetActiveNetworkID() (string, error)
}

// Listener is told the active network after every switch. Listeners must not
// call Activate.
type Listener func(active Network)

type SwitcherConfig struct {
	Profile config.BuildProfile
	Store   Store
	Push    PushRegistrar
	Logger  *zap.Logger
}

// Switcher tracks the user selected network. Activate calls are serialized.
type Switcher struct {
	profile config.BuildProfile
	store   Store
	push    PushRegistrar
	logger  *zap.Logger

	switchMu sync.Mutex

	mu        sync.RWMutex
	switched  *Network
	loaded    bool
	listeners []Listener
}

func NewSwitcher(cfg *SwitcherConfig) (*Switcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Push == nil {
		return nil, fmt.Errorf("push registrar is required")
	}
	if !cfg.Profile.Valid() {
		return nil, fmt.Errorf("invalid build profile %q", cfg.Profile)
	}
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Switcher{
		profile: cfg.Profile,
		store:   cfg.Store,
		push:    cfg.Push,
		logger:  l,
	}, nil
}

// OnChange registers fn to be called after each switch
func (s *Switcher) OnChange(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Switcher) DefaultNetwork() Network {
	return DefaultNetwork(s.profile)
}

func (s *Switcher) AvailableNetworks() []Network {
	return AvailableNetworks(s.profile)
}

// ActiveNetwork is the switched network, or the default when none is set
func (s *Switcher) ActiveNetwork() Network {
	if n := s.switchedNetwork(); n != nil {
		return *n
	}
	return s.DefaultNetwork()
}

func (s *Switcher) IsDefaultNetworkActive() bool {
	return s.ActiveNetwork() == s.DefaultNetwork()
}

// ActiveBaseURL is the ethereum service root of the active network
func (s *Switcher) ActiveBaseURL() string {
	return s.ActiveNetwork().BaseURL(s.profile)
}

// switchedNetwork returns the in-memory selection, loading the persisted one
// on first use. Unknown persisted ids are ignored.
func (s *Switcher) switchedNetwork() *Network {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		return s.switched
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.switched
	}
	s.loaded = true

	id, err := s.store.GetActiveNetworkID()
	if err != nil {
		s.logger.Sugar().Warnw("Failed to load active network", "error", err)
		return nil
	}
	if id == "" {
		return nil
	}
	n, err := ParseNetwork(id)
	if err != nil {
		s.logger.Sugar().Warnw("Ignoring persisted network", "network_id", id, "error", err)
		return nil
	}
	s.switched = &n
	return s.switched
}

// Activate switches to n, or back to the default network when n is nil.
//
// Push notifications on the current switched network are deregistered first
// unless it is the default network; a failed deregistration aborts the switch.
// Switching to a network registers push there before the choice is persisted.
// If that registration fails the switcher falls back to no switched network
// and the registration error is returned. Listeners run once the switch lock
// is released, so they may call back into the switcher.
func (s *Switcher) Activate(ctx context.Context, n *Network) error {
	if n != nil && !n.Valid() {
		return fmt.Errorf("unknown network id %q", string(*n))
	}

	s.switchMu.Lock()
	changed, err := s.activate(ctx, n)
	s.switchMu.Unlock()

	if changed != nil {
		s.notify(*changed)
	}
	return err
}

// activate runs under switchMu. It returns the active network listeners
// should be told about, or nil when nothing changed.
func (s *Switcher) activate(ctx context.Context, n *Network) (*Network, error) {
	current := s.switchedNetwork()
	if sameNetwork(current, n) {
		return nil, nil
	}

	if current != nil && *current != s.DefaultNetwork() {
		if err := s.push.DeregisterFromPush(ctx, *current); err != nil {
			s.logger.Sugar().Warnw("Error deregistering from network", "network_id", current.ID(), "error", err)
			return nil, fmt.Errorf("failed to deregister push on network %s: %w", current.ID(), err)
		}
	}

	if n == nil {
		return s.clear()
	}

	if err := s.push.RegisterForPush(ctx, *n); err != nil {
		s.logger.Sugar().Warnw("Error registering on network", "network_id", n.ID(), "error", err)
		active, clearErr := s.clear()
		if clearErr != nil {
			return nil, fmt.Errorf("failed to register push on network %s: %w (reset failed: %v)", n.ID(), err, clearErr)
		}
		return active, fmt.Errorf("failed to register push on network %s: %w", n.ID(), err)
	}

	if err := s.store.SetActiveNetworkID(n.ID()); err != nil {
		return nil, fmt.Errorf("failed to persist active network: %w", err)
	}
	target := *n
	s.set(&target)

	s.logger.Sugar().Infow("Switched network", "network_id", target.ID(), "base_url", target.BaseURL(s.profile))
	return &target, nil
}

// SignOut drops the switched network
func (s *Switcher) SignOut(ctx context.Context) error {
	return s.Activate(ctx, nil)
}

func (s *Switcher) clear() (*Network, error) {
	if err := s.store.SetActiveNetworkID(""); err != nil {
		return nil, fmt.Errorf("failed to clear active network: %w", err)
	}
	s.set(nil)
	active := s.DefaultNetwork()
	return &active, nil
}

func (s *Switcher) set(n *Network) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switched = n
	s.loaded = true
}

func (s *Switcher) notify(active Network) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(active)
	}
}

func sameNetwork(a, b *Network) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
