package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/toshiapp/toshi-auth-go/pkg/cereal"
	"github.com/toshiapp/toshi-auth-go/pkg/clients/idAPI"
	"github.com/toshiapp/toshi-auth-go/pkg/persistence"
	"github.com/toshiapp/toshi-auth-go/pkg/persistence/memory"
	"github.com/toshiapp/toshi-auth-go/pkg/testutil"
	"github.com/toshiapp/toshi-auth-go/pkg/transport"
	"github.com/toshiapp/toshi-auth-go/pkg/types"
)

var (
	knownWords   = testutil.Words(testutil.AbandonMnemonic)
	unknownWords = testutil.Words(testutil.LegalWinnerMnemonic)
)

const knownAddress = testutil.AbandonIdentityAddress

type fakeDirectory struct {
	users       map[string]*types.User
	retrieveErr error
	status      idAPI.RegisterStatus
	registerErr error
}

func (f *fakeDirectory) RetrieveUser(_ context.Context, address string) (*types.User, error) {
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	u, ok := f.users[address]
	if !ok {
		return nil, idAPI.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (f *fakeDirectory) RegisterUserIfNeeded(_ context.Context, reg types.UserRegistration) (idAPI.RegisterStatus, *types.User, error) {
	if f.registerErr != nil {
		return idAPI.RegisterFailed, nil, f.registerErr
	}
	return f.status, &types.User{Address: knownAddress, Username: reg.Username}, nil
}

type fakePush struct {
	calls int
	err   error
}

func (f *fakePush) DeregisterFromMainNetworkPush(context.Context) error {
	f.calls++
	return f.err
}

type fakeNetworks struct {
	calls int
	err   error
}

func (f *fakeNetworks) SignOut(context.Context) error {
	f.calls++
	return f.err
}

type fixture struct {
	manager  *Manager
	holder   *cereal.Holder
	users    *fakeDirectory
	push     *fakePush
	networks *fakeNetworks
	store    *memory.MemoryPersistence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		holder: cereal.NewHolder(nil),
		users: &fakeDirectory{
			users:  map[string]*types.User{knownAddress: {Address: knownAddress, Username: "toshi"}},
			status: idAPI.RegisterRegistered,
		},
		push:     &fakePush{},
		networks: &fakeNetworks{},
		store:    memory.NewMemoryPersistenceWithClock(nil),
	}
	m, err := NewManager(&Config{
		Holder:   f.holder,
		Users:    f.users,
		Push:     f.push,
		Networks: f.networks,
		Store:    f.store,
		Now:      testutil.FixedClock(1500000000),
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	f.manager = m
	return f
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil)
	require.Error(t, err)
	_, err = NewManager(&Config{})
	require.Error(t, err)
}

func TestSignIn_Succeeded(t *testing.T) {
	f := newFixture(t)

	requires, err := f.manager.RequiresSignIn()
	require.NoError(t, err)
	assert.True(t, requires)

	result, err := f.manager.SignIn(context.Background(), knownWords)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, result)

	require.NotNil(t, f.holder.Load())
	assert.Equal(t, knownAddress, f.holder.Load().Address())

	requires, err = f.manager.RequiresSignIn()
	require.NoError(t, err)
	assert.False(t, requires)

	state, err := f.store.LoadSessionState()
	require.NoError(t, err)
	assert.Equal(t, knownAddress, state.Address)
	assert.Equal(t, int64(1500000000), state.UpdatedAt)

	user, err := f.manager.CurrentUser()
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "toshi", user.Username)
}

func TestSignIn_Results(t *testing.T) {
	tests := []struct {
		name        string
		words       []string
		retrieveErr error
		want        SignInResult
		wantErr     bool
	}{
		{name: "invalid checksum", words: strings.Fields("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon"), want: PassphraseVerificationFailure},
		{name: "not a word", words: strings.Fields("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon toshi"), want: PassphraseVerificationFailure},
		{name: "empty", words: nil, want: PassphraseVerificationFailure},
		{name: "unknown user", words: unknownWords, want: SignUpWithPassphrase},
		{name: "network down", words: knownWords, retrieveErr: errors.New("dial tcp: connection refused"), want: NotConnected, wantErr: true},
		{name: "server error", words: knownWords, retrieveErr: &transport.HTTPError{StatusCode: http.StatusBadGateway}, want: NotConnected, wantErr: true},
		{name: "client error", words: knownWords, retrieveErr: &transport.HTTPError{StatusCode: http.StatusBadRequest}, want: SignUpWithPassphrase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.users.retrieveErr = tt.retrieveErr

			result, err := f.manager.SignIn(context.Background(), tt.words)
			assert.Equal(t, tt.want, result)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Nil(t, f.holder.Load(), "identity is only installed on success")
		})
	}
}

func TestCreateNewUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.CreateNewUser(context.Background(), types.UserRegistration{})
	require.ErrorIs(t, err, cereal.ErrNoIdentity)

	id, err := cereal.NewCerealFromWords(knownWords)
	require.NoError(t, err)
	f.holder.Replace(id)
	require.NoError(t, f.store.SaveUser(&types.User{Address: "0x1", Username: "stale"}))

	created, err := f.manager.CreateNewUser(context.Background(), types.UserRegistration{Username: "satoshi"})
	require.NoError(t, err)
	assert.True(t, created)

	users, err := f.store.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "satoshi", users[0].Username)

	requires, err := f.manager.RequiresSignIn()
	require.NoError(t, err)
	assert.False(t, requires)
}

func TestCreateNewUser_ExistingAndFailed(t *testing.T) {
	f := newFixture(t)
	id, err := cereal.NewCerealFromWords(knownWords)
	require.NoError(t, err)
	f.holder.Replace(id)

	f.users.status = idAPI.RegisterExisting
	created, err := f.manager.CreateNewUser(context.Background(), types.UserRegistration{})
	require.NoError(t, err)
	assert.False(t, created)

	f.users.registerErr = errors.New("boom")
	created, err = f.manager.CreateNewUser(context.Background(), types.UserRegistration{})
	require.Error(t, err)
	assert.False(t, created)
}

func TestNewIdentity(t *testing.T) {
	f := newFixture(t)

	words, err := f.manager.NewIdentity()
	require.NoError(t, err)
	assert.Len(t, words, 12)
	assert.True(t, cereal.AreWordsValid(words))

	id := f.holder.Load()
	require.NotNil(t, id)
	expected, err := cereal.NewCerealFromWords(words)
	require.NoError(t, err)
	assert.Equal(t, expected.Address(), id.Address())
}

func TestSignOut(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.SignIn(context.Background(), knownWords)
	require.NoError(t, err)
	require.NoError(t, f.store.SetActiveNetworkID("3"))

	f.push.err = errors.New("offline")
	require.NoError(t, f.manager.SignOut(context.Background()))

	assert.Equal(t, 1, f.networks.calls)
	assert.Equal(t, 1, f.push.calls)
	assert.Nil(t, f.holder.Load())

	state, err := f.store.LoadSessionState()
	require.NoError(t, err)
	assert.True(t, state.RequiresSignIn)
	assert.False(t, state.IsSignedIn())

	users, err := f.store.ListUsers()
	require.NoError(t, err)
	assert.Empty(t, users)

	id, err := f.store.GetActiveNetworkID()
	require.NoError(t, err)
	assert.Empty(t, id)

	user, err := f.manager.CurrentUser()
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestSignOut_NetworkFailureAborts(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.SignIn(context.Background(), knownWords)
	require.NoError(t, err)

	f.networks.err = errors.New("deregistration failed")
	require.Error(t, f.manager.SignOut(context.Background()))

	assert.Zero(t, f.push.calls)
	assert.NotNil(t, f.holder.Load())
	state, err := f.store.LoadSessionState()
	require.NoError(t, err)
	assert.True(t, state.IsSignedIn())
}

func TestSignOut_ClosedStore(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Close())

	err := f.manager.SignOut(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrClosed)
}

func TestSignInResult_String(t *testing.T) {
	assert.Equal(t, "succeeded", Succeeded.String())
	assert.Equal(t, "not_connected", NotConnected.String())
	assert.Equal(t, "SignInResult(9)", SignInResult(9).String())
}
