package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/sha3"
)

// ErrInvalidKey is returned when a private key cannot be parsed.
var ErrInvalidKey = errors.New("invalid private key")

// Signer signs on behalf of one account.
type Signer interface {
	// Address returns the 0x-prefixed checksummed account address.
	Address() string

	// SignPayload signs the Keccak-256 digest of data.
	SignPayload(data []byte) (string, error)

	// SignTypedData signs an EIP-712 typed data structure.
	SignTypedData(td apitypes.TypedData) (string, error)
}

// Wallet is a Signer holding a secp256k1 private key in memory.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewWallet parses a hex-encoded private key, with or without 0x prefix.
func NewWallet(hexKey string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return walletFromKey(key), nil
}

// GenerateWallet creates a wallet with a fresh random key.
func GenerateWallet() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return walletFromKey(key), nil
}

func walletFromKey(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address implements Signer.
func (w *Wallet) Address() string {
	return w.address.Hex()
}

// PrivateKeyHex returns the 0x-prefixed private key.
func (w *Wallet) PrivateKeyHex() string {
	return hexutil.Encode(crypto.FromECDSA(w.key))
}

// SignPayload implements Signer.
func (w *Wallet) SignPayload(data []byte) (string, error) {
	return w.signDigest(PayloadDigest(data))
}

// SignTypedData implements Signer.
func (w *Wallet) SignTypedData(td apitypes.TypedData) (string, error) {
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return "", fmt.Errorf("hash typed data: %w", err)
	}
	return w.signDigest(digest)
}

func (w *Wallet) signDigest(digest []byte) (string, error) {
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// PayloadDigest returns the Keccak-256 hash of data.
func PayloadDigest(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// Recover returns the address that produced sig over digest.
func Recover(digest []byte, sig string) (string, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != crypto.SignatureLength {
		return "", fmt.Errorf("signature length %d, want %d", len(raw), crypto.SignatureLength)
	}
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return "", fmt.Errorf("recover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// PolicyMessage is the content of the EIP-712 Policy the wallet signs to
// authorize a session key.
type PolicyMessage struct {
	Challenge   string
	Scope       string
	Wallet      string
	Application string
	Participant string
	Expire      int64
	Allowances  []Allowance
}

// Allowance is one entry of the Policy allowances array.
type Allowance struct {
	Asset  string
	Amount string
}

// PolicyTypedData builds the EIP-712 Policy structure in the domain named
// appName.
func PolicyTypedData(appName string, msg PolicyMessage) apitypes.TypedData {
	allowances := make([]interface{}, 0, len(msg.Allowances))
	for _, a := range msg.Allowances {
		allowances = append(allowances, map[string]interface{}{
			"asset":  a.Asset,
			"amount": a.Amount,
		})
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
			},
			"Policy": {
				{Name: "challenge", Type: "string"},
				{Name: "scope", Type: "string"},
				{Name: "wallet", Type: "address"},
				{Name: "application", Type: "address"},
				{Name: "participant", Type: "address"},
				{Name: "expire", Type: "uint256"},
				{Name: "allowances", Type: "Allowance[]"},
			},
			"Allowance": {
				{Name: "asset", Type: "string"},
				{Name: "amount", Type: "string"},
			},
		},
		PrimaryType: "Policy",
		Domain:      apitypes.TypedDataDomain{Name: appName},
		Message: apitypes.TypedDataMessage{
			"challenge":   msg.Challenge,
			"scope":       msg.Scope,
			"wallet":      msg.Wallet,
			"application": msg.Application,
			"participant": msg.Participant,
			"expire":      big.NewInt(msg.Expire),
			"allowances":  allowances,
		},
	}
}

var _ Signer = (*Wallet)(nil)
