package idAPI

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/toshiapp/toshi-auth-go/pkg/cereal"
	"github.com/toshiapp/toshi-auth-go/pkg/persistence/memory"
	"github.com/toshiapp/toshi-auth-go/pkg/transport"
	"github.com/toshiapp/toshi-auth-go/pkg/types"
	"github.com/toshiapp/toshi-auth-go/pkg/verifier"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// fakeIDService keeps profiles keyed by lowercase toshi ID
type fakeIDService struct {
	mu     sync.Mutex
	users  map[string]*types.User
	avatar []byte
}

func (f *fakeIDService) handler(t *testing.T) http.Handler {
	v := verifier.NewVerifier(verifier.Config{
		Window: time.Minute,
		Replay: memory.NewMemoryPersistenceWithClock(time.Now),
		Logger: zaptest.NewLogger(t),
	})

	mux := http.NewServeMux()
	mux.HandleFunc(timestampPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"timestamp":1500000000}`))
	})
	mux.HandleFunc(userPath+"/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		u, ok := f.users[strings.ToLower(strings.TrimPrefix(r.URL.Path, userPath+"/"))]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[{"id":"not_found","message":"Not found"}]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(u)
	})
	mux.Handle(userPath, verifier.Middleware(v, verifier.MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := strings.ToLower(verifier.ResultFromContext(r.Context()).Address.Hex())

		f.mu.Lock()
		defer f.mu.Unlock()

		mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "multipart/form-data" {
			part, err := multipart.NewReader(r.Body, params["boundary"]).NextPart()
			require.NoError(t, err)
			f.avatar, _ = io.ReadAll(part)
			u := f.users[caller]
			u.Avatar = "https://identity.service.toshi.org/avatar/" + caller + ".png"
			_ = json.NewEncoder(w).Encode(u)
			return
		}

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		u, ok := f.users[caller]
		if !ok {
			u = &types.User{Address: caller}
			f.users[caller] = u
		}
		if v, ok := body["payment_address"].(string); ok {
			u.PaymentAddress = v
		}
		if v, ok := body["username"].(string); ok {
			u.Username = v
		}
		if v, ok := body["name"].(string); ok {
			u.Name = v
		}
		_ = json.NewEncoder(w).Encode(u)
	})))
	return mux
}

func newTestClient(t *testing.T, holder *cereal.Holder) (*Client, *fakeIDService) {
	t.Helper()
	svc := &fakeIDService{users: map[string]*types.User{}}
	srv := httptest.NewServer(svc.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewClient(&ClientConfig{
		BaseURL: srv.URL,
		Holder:  holder,
		Retry:   &transport.RetryConfig{MaxAttempts: 1},
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return c, svc
}

func testIdentity(t *testing.T) *cereal.Cereal {
	t.Helper()
	c, err := cereal.NewCerealFromMnemonic(testMnemonic)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
	_, err = NewClient(&ClientConfig{})
	require.Error(t, err)

	c, err := NewClient(&ClientConfig{Holder: cereal.NewHolder(nil)})
	require.NoError(t, err)
	assert.Equal(t, "https://identity.service.toshi.org", c.api.BaseURL())
}

func TestRetrieveUser(t *testing.T) {
	c, svc := newTestClient(t, cereal.NewHolder(nil))
	svc.users["0xa391af6a522436f335b7c6486640153641847ea2"] = &types.User{
		Address:  "0xa391af6a522436f335b7c6486640153641847ea2",
		Username: "toshi",
	}

	u, err := c.RetrieveUser(context.Background(), "0xa391af6a522436f335b7c6486640153641847ea2")
	require.NoError(t, err)
	assert.Equal(t, "toshi", u.Username)

	_, err = c.RetrieveUser(context.Background(), "0x0000000000000000000000000000000000000000")
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = c.RetrieveUser(context.Background(), "")
	require.Error(t, err)
}

func TestRegisterUserIfNeeded(t *testing.T) {
	id := testIdentity(t)
	c, svc := newTestClient(t, cereal.NewHolder(id))

	status, user, err := c.RegisterUserIfNeeded(context.Background(), types.UserRegistration{Username: "satoshi"})
	require.NoError(t, err)
	assert.Equal(t, RegisterRegistered, status)
	assert.Equal(t, id.Address(), user.Address)
	assert.Equal(t, id.PaymentAddress(), user.PaymentAddress)
	assert.Equal(t, "satoshi", user.Username)
	require.Contains(t, svc.users, id.Address())

	status, user, err = c.RegisterUserIfNeeded(context.Background(), types.UserRegistration{Username: "other"})
	require.NoError(t, err)
	assert.Equal(t, RegisterExisting, status)
	assert.Equal(t, "satoshi", user.Username)
}

func TestRegisterUserIfNeeded_NoIdentity(t *testing.T) {
	c, _ := newTestClient(t, cereal.NewHolder(nil))

	status, _, err := c.RegisterUserIfNeeded(context.Background(), types.UserRegistration{})
	require.ErrorIs(t, err, cereal.ErrNoIdentity)
	assert.Equal(t, RegisterFailed, status)
}

func TestRegisterUserIfNeeded_ServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(&ClientConfig{
		BaseURL: srv.URL,
		Holder:  cereal.NewHolder(testIdentity(t)),
		Retry:   &transport.RetryConfig{MaxAttempts: 1},
	})
	require.NoError(t, err)

	status, _, err := c.RegisterUserIfNeeded(context.Background(), types.UserRegistration{})
	require.Error(t, err)
	assert.Equal(t, RegisterFailed, status)
	assert.Equal(t, http.StatusInternalServerError, transport.StatusCode(err))
}

func TestUpdateProfileAndAvatar(t *testing.T) {
	id := testIdentity(t)
	c, svc := newTestClient(t, cereal.NewHolder(id))

	_, err := c.RegisterUser(context.Background(), types.UserRegistration{Username: "satoshi"})
	require.NoError(t, err)

	user, err := c.UpdateProfile(context.Background(), map[string]interface{}{"name": "Satoshi"})
	require.NoError(t, err)
	assert.Equal(t, "Satoshi", user.Name)
	assert.Equal(t, "Satoshi", user.DisplayName())

	_, err = c.UpdateProfile(context.Background(), nil)
	require.Error(t, err)

	user, err = c.UploadAvatar(context.Background(), []byte("big checkmark png"))
	require.NoError(t, err)
	assert.NotEmpty(t, user.Avatar)
	assert.Equal(t, []byte("big checkmark png"), svc.avatar)

	_, err = c.UploadAvatar(context.Background(), nil)
	require.Error(t, err)
}

func TestFetchTimestamp(t *testing.T) {
	c, _ := newTestClient(t, cereal.NewHolder(nil))

	ts, err := c.FetchTimestamp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1500000000), ts)
}

func TestRegisterStatus_String(t *testing.T) {
	assert.Equal(t, "failed", RegisterFailed.String())
	assert.Equal(t, "existing", RegisterExisting.String())
	assert.Equal(t, "registered", RegisterRegistered.String())
}
