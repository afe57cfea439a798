package cereal

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrDerivation      = errors.New("key derivation failed")
)

const (
	// entropyBits of a freshly generated passphrase, 128 bits gives 12 words
	entropyBits = 128

	SignatureLength = crypto.SignatureLength
)

// Derivation paths of the two keys held by a Cereal.
var (
	// IdentityPath (m/0'/1/0) identifies the user to Toshi services and signs API requests
	IdentityPath = []uint32{hdkeychain.HardenedKeyStart + 0, 1, 0}

	// WalletPath (m/44'/60'/0'/0/0) is the payment wallet shown in the app
	WalletPath = []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		0,
	}
)

// Cereal is the signing identity derived from a passphrase. It is immutable
// after construction and safe for concurrent use.
type Cereal struct {
	words []string

	identityKey     *ecdsa.PrivateKey
	identityAddress common.Address

	walletKey     *ecdsa.PrivateKey
	walletAddress common.Address
}

// NewCerealFromWords derives a Cereal from a BIP-39 word list. The words are
// checked against the english dictionary and the mnemonic checksum.
func NewCerealFromWords(words []string) (*Cereal, error) {
	if !AreWordsValid(words) {
		return nil, ErrInvalidMnemonic
	}

	normalized := normalizeWords(words)
	seed := bip39.NewSeed(strings.Join(normalized, " "), "")

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivation, err)
	}

	identityKey, err := deriveKey(master, IdentityPath)
	if err != nil {
		return nil, err
	}
	walletKey, err := deriveKey(master, WalletPath)
	if err != nil {
		return nil, err
	}

	return &Cereal{
		words:           normalized,
		identityKey:     identityKey,
		identityAddress: crypto.PubkeyToAddress(identityKey.PublicKey),
		walletKey:       walletKey,
		walletAddress:   crypto.PubkeyToAddress(walletKey.PublicKey),
	}, nil
}

// NewCerealFromMnemonic splits a space separated mnemonic and derives a Cereal from it
func NewCerealFromMnemonic(mnemonic string) (*Cereal, error) {
	return NewCerealFromWords(strings.Fields(mnemonic))
}

// GenerateWords returns a new random 12 word passphrase
func GenerateWords() ([]string, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return strings.Fields(mnemonic), nil
}

// AreWordsValid reports whether words form a valid BIP-39 mnemonic
func AreWordsValid(words []string) bool {
	if len(words) == 0 {
		return false
	}
	return bip39.IsMnemonicValid(strings.Join(normalizeWords(words), " "))
}

func normalizeWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func deriveKey(master *hdkeychain.ExtendedKey, path []uint32) (*ecdsa.PrivateKey, error) {
	key := master
	for _, index := range path {
		child, err := key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("%w: index %d: %v", ErrDerivation, index, err)
		}
		key = child
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivation, err)
	}

	ecdsaKey, err := crypto.ToECDSA(priv.Serialize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivation, err)
	}
	return ecdsaKey, nil
}

// Address is the lowercase hex identity address, e.g. 0xa391af6a522436f335b7c6486640153641847ea2
func (c *Cereal) Address() string {
	if c == nil {
		return ""
	}
	return strings.ToLower(c.identityAddress.Hex())
}

// IdentityAddress returns the identity address as a go-ethereum address
func (c *Cereal) IdentityAddress() common.Address {
	return c.identityAddress
}

// PaymentAddress is the lowercase hex wallet address used for payments and push registration
func (c *Cereal) PaymentAddress() string {
	return strings.ToLower(c.walletAddress.Hex())
}

// Words returns a copy of the normalized passphrase
func (c *Cereal) Words() []string {
	return append([]string(nil), c.words...)
}

// Sign hashes message with keccak256 and signs it with the identity key. It
// returns the 64 byte R||S signature and the recovery byte (0 or 1). A nil
// Cereal returns ErrNoIdentity.
func (c *Cereal) Sign(message []byte) ([]byte, byte, error) {
	if c == nil {
		return nil, 0, ErrNoIdentity
	}
	return signWith(c.identityKey, message)
}

// SignWithWallet is Sign using the wallet key
func (c *Cereal) SignWithWallet(message []byte) ([]byte, byte, error) {
	if c == nil {
		return nil, 0, ErrNoIdentity
	}
	return signWith(c.walletKey, message)
}

// SignHex signs message with the identity key and returns 0x prefixed
// lowercase hex of the signature followed by the recovery byte.
func (c *Cereal) SignHex(message []byte) (string, error) {
	sig, recovery, err := c.Sign(message)
	if err != nil {
		return "", err
	}
	return FormatSignature(sig, recovery), nil
}

func signWith(key *ecdsa.PrivateKey, message []byte) ([]byte, byte, error) {
	sig, err := crypto.Sign(crypto.Keccak256(message), key)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to sign message: %w", err)
	}
	return sig[:SignatureLength-1], sig[SignatureLength-1], nil
}

// FormatSignature renders a signature and recovery byte as 0x prefixed lowercase hex
func FormatSignature(sig []byte, recovery byte) string {
	out := make([]byte, 0, len(sig)+1)
	out = append(out, sig...)
	out = append(out, recovery)
	return hexutil.Encode(out)
}

// RecoverAddress returns the address that produced signatureHex over message.
// Recovery bytes of 27/28 are accepted alongside 0/1.
func RecoverAddress(message []byte, signatureHex string) (common.Address, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	if sig[SignatureLength-1] >= 27 {
		sig[SignatureLength-1] -= 27
	}

	pub, err := crypto.SigToPub(crypto.Keccak256(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
