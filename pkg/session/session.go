// Package session signs users in and out of Toshi.
//
// Signing in recovers an identity from its passphrase and checks that the ID
// service knows it. Signing out resets the network, stops mainnet payment
// notifications and wipes every piece of local session state.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/toshiapp/toshi-auth-go/pkg/cereal"
	"github.com/toshiapp/toshi-auth-go/pkg/clients/idAPI"
	"github.com/toshiapp/toshi-auth-go/pkg/network"
	"github.com/toshiapp/toshi-auth-go/pkg/persistence"
	"github.com/toshiapp/toshi-auth-go/pkg/transport"
	"github.com/toshiapp/toshi-auth-go/pkg/types"
)

type SignInResult int

const (
	Succeeded SignInResult = iota
	PassphraseVerificationFailure
	SignUpWithPassphrase
	NotConnected
)

func (r SignInResult) String() string {
	switch r {
	case Succeeded:
		return "succeeded"
	case PassphraseVerificationFailure:
		return "passphrase_verification_failure"
	case SignUpWithPassphrase:
		return "sign_up_with_passphrase"
	case NotConnected:
		return "not_connected"
	default:
		return fmt.Sprintf("SignInResult(%d)", int(r))
	}
}

// UserDirectory is the part of the ID service the session needs
type UserDirectory interface {
	RetrieveUser(ctx context.Context, usernameOrAddress string) (*types.User, error)
	RegisterUserIfNeeded(ctx context.Context, reg types.UserRegistration) (idAPI.RegisterStatus, *types.User, error)
}

// MainNetPush stops payment notifications on mainnet
type MainNetPush interface {
	DeregisterFromMainNetworkPush(ctx context.Context) error
}

// NetworkResetter drops any switched network. *network.Switcher implements it.
type NetworkResetter interface {
	SignOut(ctx context.Context) error
}

var _ NetworkResetter = (*network.Switcher)(nil)

type Config struct {
	Holder   *cereal.Holder
	Users    UserDirectory
	Push     MainNetPush
	Networks NetworkResetter
	Store    persistence.IAuthPersistence
	Now      func() time.Time
	Logger   *zap.Logger
}

type Manager struct {
	holder   *cereal.Holder
	users    UserDirectory
	push     MainNetPush
	networks NetworkResetter
	store    persistence.IAuthPersistence
	now      func() time.Time
	logger   *zap.Logger
}

func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	switch {
	case cfg.Holder == nil:
		return nil, fmt.Errorf("identity holder is required")
	case cfg.Users == nil:
		return nil, fmt.Errorf("user directory is required")
	case cfg.Push == nil:
		return nil, fmt.Errorf("push client is required")
	case cfg.Networks == nil:
		return nil, fmt.Errorf("network switcher is required")
	case cfg.Store == nil:
		return nil, fmt.Errorf("store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Manager{
		holder:   cfg.Holder,
		users:    cfg.Users,
		push:     cfg.Push,
		networks: cfg.Networks,
		store:    cfg.Store,
		now:      now,
		logger:   l,
	}, nil
}

// RequiresSignIn is true until a sign in or sign up succeeds
func (m *Manager) RequiresSignIn() (bool, error) {
	state, err := m.store.LoadSessionState()
	if err != nil {
		return false, err
	}
	return !state.IsSignedIn(), nil
}

// CurrentUser is the stored profile of the active identity, or nil
func (m *Manager) CurrentUser() (*types.User, error) {
	id := m.holder.Load()
	if id == nil {
		return nil, nil
	}
	return m.store.LoadUser(id.Address())
}

// SignIn restores the identity behind words. The returned error carries the
// cause of NotConnected; the other results are not errors.
func (m *Manager) SignIn(ctx context.Context, words []string) (SignInResult, error) {
	if !cereal.AreWordsValid(words) {
		return PassphraseVerificationFailure, nil
	}
	id, err := cereal.NewCerealFromWords(words)
	if err != nil {
		return PassphraseVerificationFailure, nil
	}

	user, err := m.users.RetrieveUser(ctx, id.Address())
	if err != nil {
		if isConnectivityError(err) {
			m.logger.Sugar().Warnw("Sign in could not reach the ID service", "address", id.Address(), "error", err)
			return NotConnected, err
		}
		m.logger.Sugar().Infow("No profile for passphrase", "address", id.Address(), "error", err)
		return SignUpWithPassphrase, nil
	}

	if err := m.activate(id, user); err != nil {
		return NotConnected, err
	}
	m.logger.Sugar().Infow("Signed in", "address", id.Address(), "username", user.Username)
	return Succeeded, nil
}

// CreateNewUser registers the identity in the holder with the ID service.
// It reports true only when a new profile was created.
func (m *Manager) CreateNewUser(ctx context.Context, reg types.UserRegistration) (bool, error) {
	id, err := m.holder.Get()
	if err != nil {
		return false, err
	}

	status, user, err := m.users.RegisterUserIfNeeded(ctx, reg)
	if status == idAPI.RegisterFailed {
		if err == nil {
			err = fmt.Errorf("registration failed")
		}
		return false, err
	}

	if err := m.store.ClearUsers(); err != nil {
		return false, fmt.Errorf("failed to clear cached profiles: %w", err)
	}
	if err := m.activate(id, user); err != nil {
		return false, err
	}

	m.logger.Sugar().Infow("Created user", "address", id.Address(), "status", status.String())
	return status == idAPI.RegisterRegistered, nil
}

// NewIdentity generates a fresh passphrase and installs its identity. The
// caller shows the words to the user, then calls CreateNewUser.
func (m *Manager) NewIdentity() ([]string, error) {
	words, err := cereal.GenerateWords()
	if err != nil {
		return nil, err
	}
	id, err := cereal.NewCerealFromWords(words)
	if err != nil {
		return nil, err
	}
	m.holder.Replace(id)
	return words, nil
}

// SignOut resets the network and wipes local state. A failure to reset the
// network aborts sign out with nothing wiped; mainnet push deregistration is
// best effort.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.networks.SignOut(ctx); err != nil {
		return fmt.Errorf("failed to reset network: %w", err)
	}

	if err := m.push.DeregisterFromMainNetworkPush(ctx); err != nil {
		m.logger.Sugar().Warnw("Failed to deregister mainnet push", "error", err)
	}

	var errs []error
	errs = append(errs, m.store.ClearUsers())
	errs = append(errs, m.store.ClearSessionState())
	errs = append(errs, m.store.SetActiveNetworkID(""))
	state := persistence.NewSignedOutState()
	state.UpdatedAt = m.now().Unix()
	errs = append(errs, m.store.SaveSessionState(state))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to wipe session state: %w", err)
	}

	m.holder.Clear()
	m.logger.Sugar().Infow("Signed out")
	return nil
}

func (m *Manager) activate(id *cereal.Cereal, user *types.User) error {
	if user != nil {
		if err := m.store.SaveUser(user); err != nil {
			return fmt.Errorf("failed to store profile: %w", err)
		}
	}
	state := &persistence.SessionState{
		Address:        id.Address(),
		RequiresSignIn: false,
		UpdatedAt:      m.now().Unix(),
	}
	if err := m.store.SaveSessionState(state); err != nil {
		return fmt.Errorf("failed to store session state: %w", err)
	}
	m.holder.Replace(id)
	return nil
}

// isConnectivityError is true for failures where the service never answered
// or answered with a server error
func isConnectivityError(err error) bool {
	if errors.Is(err, idAPI.ErrUserNotFound) {
		return false
	}
	status := transport.StatusCode(err)
	return status == 0 || status >= http.StatusInternalServerError
}
