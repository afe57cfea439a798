// Package network describes the Ethereum networks the Toshi ethereum service
// is deployed on and tracks which one is active.
package network

import (
	"fmt"

	"github.com/toshiapp/toshi-auth-go/pkg/config"
)

// Network is identified by its chain ID in decimal form
type Network string

const (
	MainNet          Network = "1"
	ToshiTestNetwork Network = "116"
	Kovan            Network = "42"
	Rinkeby          Network = "4"
	Ropsten          Network = "3"
)

var networkInfo = map[Network]struct {
	baseURL string
	label   string
}{
	MainNet:          {baseURL: "https://ethereum.service.toshi.org", label: "Mainnet"},
	ToshiTestNetwork: {baseURL: "https://ethereum.internal.service.toshi.org", label: "Toshi Internal Test Network"},
	Kovan:            {baseURL: "https://toshi-eth-service-kovan.herokuapp.com", label: "Kovan Test Network"},
	Rinkeby:          {baseURL: "https://toshi-eth-service-rinkeby.herokuapp.com", label: "Rinkeby Test Network"},
	Ropsten:          {baseURL: "https://toshi-eth-service-ropsten.herokuapp.com", label: "Ropsten Test Network"},
}

// DevRopstenBaseURL replaces the Ropsten service under the dev build profile
const DevRopstenBaseURL = "https://ethereum.development.service.toshi.org"

// ParseNetwork maps a chain ID to a known network
func ParseNetwork(id string) (Network, error) {
	n := Network(id)
	if !n.Valid() {
		return "", fmt.Errorf("unknown network id %q", id)
	}
	return n, nil
}

func (n Network) Valid() bool {
	_, ok := networkInfo[n]
	return ok
}

func (n Network) ID() string {
	return string(n)
}

func (n Network) Label() string {
	return networkInfo[n].label
}

// BaseURL is the ethereum service root for n under profile
func (n Network) BaseURL(profile config.BuildProfile) string {
	if n == Ropsten && profile == config.BuildProfileDev {
		return DevRopstenBaseURL
	}
	return networkInfo[n].baseURL
}

// DefaultNetwork is the network used when none has been switched to
func DefaultNetwork(profile config.BuildProfile) Network {
	switch profile {
	case config.BuildProfileDebug:
		return ToshiTestNetwork
	case config.BuildProfileDev:
		return Ropsten
	default:
		return MainNet
	}
}

// AvailableNetworks lists the networks a user may switch to
func AvailableNetworks(profile config.BuildProfile) []Network {
	switch profile {
	case config.BuildProfileDebug:
		return []Network{ToshiTestNetwork}
	case config.BuildProfileDev:
		return []Network{Ropsten}
	default:
		return []Network{MainNet, Ropsten, Rinkeby, Kovan}
	}
}
