package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toshiapp/toshi-auth-go/pkg/persistence"
	"github.com/toshiapp/toshi-auth-go/pkg/types"
)

func TestMemoryPersistence_SessionState(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	loaded, err := mp.LoadSessionState()
	require.NoError(t, err)
	assert.Nil(t, loaded, "first run has no session")

	state := &persistence.SessionState{
		Address:        "0xa391af6a522436f335b7c6486640153641847ea2",
		RequiresSignIn: false,
		UpdatedAt:      100,
	}
	require.NoError(t, mp.SaveSessionState(state))

	// Mutating the caller's copy must not leak into storage
	state.Address = "mutated"

	loaded, err = mp.LoadSessionState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "0xa391af6a522436f335b7c6486640153641847ea2", loaded.Address)
	assert.True(t, loaded.IsSignedIn())

	require.NoError(t, mp.ClearSessionState())
	loaded, err = mp.LoadSessionState()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Idempotent
	require.NoError(t, mp.ClearSessionState())
}

func TestMemoryPersistence_SaveSessionState_Nil(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	err := mp.SaveSessionState(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil SessionState")
}

func TestMemoryPersistence_ActiveNetwork(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	id, err := mp.GetActiveNetworkID()
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, mp.SetActiveNetworkID("3"))
	id, err = mp.GetActiveNetworkID()
	require.NoError(t, err)
	assert.Equal(t, "3", id)

	require.NoError(t, mp.SetActiveNetworkID(""))
	id, err = mp.GetActiveNetworkID()
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestMemoryPersistence_Users(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	users := []*types.User{
		{Address: "0xBBB", Username: "bob"},
		{Address: "0xaaa", Username: "alice"},
	}
	for _, u := range users {
		require.NoError(t, mp.SaveUser(u))
	}

	loaded, err := mp.LoadUser("0xbbb")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "bob", loaded.Username)

	// Returned copies are independent
	loaded.Username = "mallory"
	again, err := mp.LoadUser("0xBBB")
	require.NoError(t, err)
	assert.Equal(t, "bob", again.Username)

	missing, err := mp.LoadUser("0xccc")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := mp.ListUsers()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Username)
	assert.Equal(t, "bob", list[1].Username)

	require.NoError(t, mp.ClearUsers())
	list, err = mp.ListUsers()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryPersistence_SaveUser_Invalid(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	require.Error(t, mp.SaveUser(nil))
	require.Error(t, mp.SaveUser(&types.User{Username: "nobody"}))
}

func TestMemoryPersistence_RecordSignature(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	mp := NewMemoryPersistenceWithClock(clock)
	defer func() { _ = mp.Close() }()

	fresh, err := mp.RecordSignature("0xsig", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = mp.RecordSignature("0xsig", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, fresh, "second use is a replay")

	fresh, err = mp.RecordSignature("0xother", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, fresh)

	// After expiry the signature is forgotten
	now = now.Add(2 * time.Minute)
	fresh, err = mp.RecordSignature("0xsig", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, fresh)

	_, err = mp.RecordSignature("", now.Add(time.Minute))
	require.Error(t, err)
}

func TestMemoryPersistence_RecordSignature_AlreadyExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	mp := NewMemoryPersistenceWithClock(func() time.Time { return now })
	defer func() { _ = mp.Close() }()

	fresh, err := mp.RecordSignature("0xsig", now.Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, fresh)

	// Nothing was stored, so nothing to replay against
	fresh, err = mp.RecordSignature("0xsig", now.Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryPersistence_RecordSignature_Concurrent(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	const workers = 20
	expiresAt := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := mp.RecordSignature("0xshared", expiresAt)
			assert.NoError(t, err)
			if fresh {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted, "exactly one concurrent caller wins")
}

func TestMemoryPersistence_ConcurrentUsers(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := fmt.Sprintf("0x%040d", i)
			assert.NoError(t, mp.SaveUser(&types.User{Address: addr}))
			u, err := mp.LoadUser(addr)
			assert.NoError(t, err)
			assert.NotNil(t, u)
		}(i)
	}
	wg.Wait()

	list, err := mp.ListUsers()
	require.NoError(t, err)
	assert.Len(t, list, 10)
}

func TestMemoryPersistence_Closed(t *testing.T) {
	mp := NewMemoryPersistence()
	require.NoError(t, mp.HealthCheck())
	require.NoError(t, mp.Close())
	require.NoError(t, mp.Close(), "Close is idempotent")

	require.ErrorIs(t, mp.HealthCheck(), persistence.ErrClosed)
	require.ErrorIs(t, mp.SaveSessionState(&persistence.SessionState{}), persistence.ErrClosed)
	_, err := mp.LoadSessionState()
	require.ErrorIs(t, err, persistence.ErrClosed)
	require.ErrorIs(t, mp.SetActiveNetworkID("1"), persistence.ErrClosed)
	_, err = mp.GetActiveNetworkID()
	require.ErrorIs(t, err, persistence.ErrClosed)
	_, err = mp.RecordSignature("0xsig", time.Now().Add(time.Minute))
	require.ErrorIs(t, err, persistence.ErrClosed)
	_, err = mp.ListUsers()
	require.ErrorIs(t, err, persistence.ErrClosed)
}
