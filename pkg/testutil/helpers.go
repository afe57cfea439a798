package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/toshiapp/toshi-auth-go/pkg/cereal"
)

// Known BIP-39 vectors and the addresses they derive to
const (
	AbandonMnemonic        = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	AbandonIdentityAddress = "0xa391af6a522436f335b7c6486640153641847ea2"
	AbandonPaymentAddress  = "0x9858effd232b4033e47d90003d41ec34ecaeda94"

	LegalWinnerMnemonic        = "legal winner thank year wave sausage worth useful legal winner thank yellow"
	LegalWinnerIdentityAddress = "0x9a530b0f6527c7335edcf0b9343b5d07f3d88120"
)

// CreateTestCereal returns the identity of mnemonic, failing t on error
func CreateTestCereal(t *testing.T, mnemonic string) *cereal.Cereal {
	t.Helper()
	c, err := cereal.NewCerealFromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("Failed to create test identity: %v", err)
	}
	return c
}

// AbandonCereal is the identity most tests sign with
func AbandonCereal(t *testing.T) *cereal.Cereal {
	t.Helper()
	return CreateTestCereal(t, AbandonMnemonic)
}

// Words splits a mnemonic into its word list
func Words(mnemonic string) []string {
	return strings.Fields(mnemonic)
}

// FixedClock always returns unix
func FixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}
