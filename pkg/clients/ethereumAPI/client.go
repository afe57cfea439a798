// Package ethereumAPI talks to the per-network Toshi ethereum service.
package ethereumAPI

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/toshiapp/toshi-auth-go/pkg/cereal"
	"github.com/toshiapp/toshi-auth-go/pkg/config"
	"github.com/toshiapp/toshi-auth-go/pkg/metrics"
	"github.com/toshiapp/toshi-auth-go/pkg/network"
	"github.com/toshiapp/toshi-auth-go/pkg/transport"
	"github.com/toshiapp/toshi-auth-go/pkg/types"
)

const (
	registerPath   = "/v1/apn/register"
	deregisterPath = "/v1/apn/deregister"
	timestampPath  = "/v1/timestamp"
)

// ClientConfig holds the configuration for the ethereum service client
type ClientConfig struct {
	Profile config.BuildProfile
	Holder  *cereal.Holder

	// RegistrationID is the device push token sent with (de)registration
	RegistrationID string

	// BaseURLs overrides the service root per network
	BaseURLs map[network.Network]string

	Base              http.RoundTripper
	Timeout           time.Duration
	Retry             *transport.RetryConfig
	RequestsPerSecond float64
	Now               func() time.Time
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
}

// Client keeps one signed transport client per network
type Client struct {
	cfg    ClientConfig
	logger *zap.Logger

	mu      sync.Mutex
	clients map[network.Network]*transport.Client
}

var _ network.PushRegistrar = (*Client)(nil)

func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Holder == nil {
		return nil, fmt.Errorf("identity holder is required")
	}
	if config.RegistrationID == "" {
		return nil, fmt.Errorf("registration ID is required")
	}
	if !config.Profile.Valid() {
		return nil, fmt.Errorf("invalid build profile %q", config.Profile)
	}
	l := config.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Client{
		cfg:     *config,
		logger:  l,
		clients: make(map[network.Network]*transport.Client),
	}, nil
}

// BaseURL is the service root used for n
func (c *Client) BaseURL(n network.Network) string {
	if u, ok := c.cfg.BaseURLs[n]; ok {
		return u
	}
	return n.BaseURL(c.cfg.Profile)
}

func (c *Client) clientFor(n network.Network) (*transport.Client, error) {
	if !n.Valid() {
		return nil, fmt.Errorf("unknown network id %q", n.ID())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if tc, ok := c.clients[n]; ok {
		return tc, nil
	}
	tc, err := transport.NewClient(&transport.ClientConfig{
		BaseURL:           c.BaseURL(n),
		Identity:          transport.HolderIdentity(c.cfg.Holder),
		Base:              c.cfg.Base,
		Timeout:           c.cfg.Timeout,
		Retry:             c.cfg.Retry,
		RequestsPerSecond: c.cfg.RequestsPerSecond,
		Now:               c.cfg.Now,
		Logger:            c.logger,
		Metrics:           c.cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	c.clients[n] = tc
	return tc, nil
}

func (c *Client) registration() (types.PushRegistration, error) {
	id, err := c.cfg.Holder.Get()
	if err != nil {
		return types.PushRegistration{}, err
	}
	return types.PushRegistration{
		RegistrationID: c.cfg.RegistrationID,
		Address:        id.PaymentAddress(),
	}, nil
}

// RegisterForPush registers the device for payment notifications on n
func (c *Client) RegisterForPush(ctx context.Context, n network.Network) error {
	return c.sendRegistration(ctx, n, registerPath)
}

// DeregisterFromPush stops payment notifications on n
func (c *Client) DeregisterFromPush(ctx context.Context, n network.Network) error {
	return c.sendRegistration(ctx, n, deregisterPath)
}

// DeregisterFromMainNetworkPush is called on sign out, whatever network is active
func (c *Client) DeregisterFromMainNetworkPush(ctx context.Context) error {
	return c.DeregisterFromPush(ctx, network.MainNet)
}

func (c *Client) sendRegistration(ctx context.Context, n network.Network, path string) error {
	reg, err := c.registration()
	if err != nil {
		return errors.Wrapf(err, "failed to build push registration for network %s", n.ID())
	}
	tc, err := c.clientFor(n)
	if err != nil {
		return err
	}
	if err := tc.SendDictionary(ctx, http.MethodPost, path, reg.Payload(), nil); err != nil {
		return errors.Wrapf(err, "push request %s failed on network %s", path, n.ID())
	}
	c.logger.Sugar().Debugw("Sent push registration",
		"network_id", n.ID(),
		"path", path,
		"address", reg.Address)
	return nil
}

type timestampResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// Timestamp returns the service clock of n in unix seconds
func (c *Client) Timestamp(ctx context.Context, n network.Network) (int64, error) {
	tc, err := c.clientFor(n)
	if err != nil {
		return 0, err
	}
	var resp timestampResponse
	if err := tc.GetJSON(ctx, timestampPath, &resp); err != nil {
		return 0, errors.Wrapf(err, "failed to fetch timestamp on network %s", n.ID())
	}
	return resp.Timestamp, nil
}
