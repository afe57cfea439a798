// Package idAPI is the client of the Toshi identity service.
package idAPI

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/toshiapp/toshi-auth-go/pkg/cereal"
	"github.com/toshiapp/toshi-auth-go/pkg/config"
	"github.com/toshiapp/toshi-auth-go/pkg/headers"
	"github.com/toshiapp/toshi-auth-go/pkg/metrics"
	"github.com/toshiapp/toshi-auth-go/pkg/transport"
	"github.com/toshiapp/toshi-auth-go/pkg/types"
)

var ErrUserNotFound = errors.New("user not found")

const (
	userPath      = "/v1/user"
	timestampPath = "/v1/timestamp"
	avatarName    = "avatar.png"
)

// RegisterStatus is the outcome of RegisterUserIfNeeded
type RegisterStatus int

const (
	RegisterFailed RegisterStatus = iota
	RegisterExisting
	RegisterRegistered
)

func (s RegisterStatus) String() string {
	switch s {
	case RegisterExisting:
		return "existing"
	case RegisterRegistered:
		return "registered"
	default:
		return "failed"
	}
}

// ClientConfig holds the configuration for the identity service client
type ClientConfig struct {
	// BaseURL defaults to config.DefaultIDServiceURL
	BaseURL string
	Holder  *cereal.Holder

	Base              http.RoundTripper
	Timeout           time.Duration
	Retry             *transport.RetryConfig
	RequestsPerSecond float64
	Now               func() time.Time
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
}

type Client struct {
	holder *cereal.Holder
	api    *transport.Client
	public *transport.Client
	logger *zap.Logger
}

func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Holder == nil {
		return nil, fmt.Errorf("identity holder is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultIDServiceURL
	}
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}

	newTransportClient := func(identity transport.IdentitySource) (*transport.Client, error) {
		return transport.NewClient(&transport.ClientConfig{
			BaseURL:           baseURL,
			Identity:          identity,
			Base:              cfg.Base,
			Timeout:           cfg.Timeout,
			Retry:             cfg.Retry,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Now:               cfg.Now,
			Logger:            l,
			Metrics:           cfg.Metrics,
		})
	}

	signed, err := newTransportClient(transport.HolderIdentity(cfg.Holder))
	if err != nil {
		return nil, err
	}
	public, err := newTransportClient(transport.Unsigned())
	if err != nil {
		return nil, err
	}
	return &Client{holder: cfg.Holder, api: signed, public: public, logger: l}, nil
}

// RetrieveUser looks a user up by toshi ID or username. The lookup is public
// so it works before an identity is loaded. A 404 is ErrUserNotFound.
func (c *Client) RetrieveUser(ctx context.Context, usernameOrAddress string) (*types.User, error) {
	if usernameOrAddress == "" {
		return nil, fmt.Errorf("username or address is required")
	}
	var user types.User
	err := c.public.GetJSON(ctx, userPath+"/"+url.PathEscape(usernameOrAddress), &user)
	if transport.StatusCode(err) == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to retrieve user %s", usernameOrAddress)
	}
	return &user, nil
}

// RegisterUser creates the profile of the current identity
func (c *Client) RegisterUser(ctx context.Context, reg types.UserRegistration) (*types.User, error) {
	id, err := c.holder.Get()
	if err != nil {
		return nil, err
	}
	if reg.PaymentAddress == "" {
		reg.PaymentAddress = id.PaymentAddress()
	}

	var user types.User
	if err := c.api.SendDictionary(ctx, http.MethodPost, userPath, reg.Payload(), &user); err != nil {
		return nil, errors.Wrapf(err, "failed to register user %s", id.Address())
	}
	c.logger.Sugar().Infow("Registered user", "toshi_id", user.Address, "username", user.Username)
	return &user, nil
}

// RegisterUserIfNeeded registers the current identity unless the service
// already knows it. RegisterFailed always comes with an error.
func (c *Client) RegisterUserIfNeeded(ctx context.Context, reg types.UserRegistration) (RegisterStatus, *types.User, error) {
	id, err := c.holder.Get()
	if err != nil {
		return RegisterFailed, nil, err
	}

	existing, err := c.RetrieveUser(ctx, id.Address())
	switch {
	case err == nil:
		return RegisterExisting, existing, nil
	case !errors.Is(err, ErrUserNotFound):
		return RegisterFailed, nil, err
	}

	user, err := c.RegisterUser(ctx, reg)
	if err != nil {
		return RegisterFailed, nil, err
	}
	return RegisterRegistered, user, nil
}

// UpdateProfile sends changed profile fields with a signed PUT
func (c *Client) UpdateProfile(ctx context.Context, fields map[string]interface{}) (*types.User, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no profile fields to update")
	}
	var user types.User
	if err := c.api.SendDictionary(ctx, http.MethodPut, userPath, fields, &user); err != nil {
		return nil, errors.Wrapf(err, "failed to update profile")
	}
	return &user, nil
}

// UploadAvatar replaces the profile picture with png
func (c *Client) UploadAvatar(ctx context.Context, png []byte) (*types.User, error) {
	if len(png) == 0 {
		return nil, fmt.Errorf("avatar image is empty")
	}
	body := &headers.MultipartBody{Parts: []headers.Part{headers.ImagePart(avatarName, png)}}

	var user types.User
	if err := c.api.SendMultipart(ctx, userPath, body, &user); err != nil {
		return nil, errors.Wrapf(err, "failed to upload avatar")
	}
	return &user, nil
}

type timestampResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// FetchTimestamp returns the service clock in unix seconds. Callers may sign
// with it when the local clock is not trusted.
func (c *Client) FetchTimestamp(ctx context.Context) (int64, error) {
	var resp timestampResponse
	if err := c.public.GetJSON(ctx, timestampPath, &resp); err != nil {
		return 0, errors.Wrapf(err, "failed to fetch server timestamp")
	}
	return resp.Timestamp, nil
}
