package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey wraps the secp256k1 key that signs custody transactions.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// GeneratePrivateKey creates a fresh random key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{PrivateKey: key}, nil
}

// PrivateKeyFromHex parses a hex encoded key with or without the 0x prefix.
func PrivateKeyFromHex(value string) (*PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, errors.New("crypto: empty private key")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &PrivateKey{PrivateKey: key}, nil
}

// Address returns the account controlled by the key.
func (k *PrivateKey) Address() common.Address {
	return crypto.PubkeyToAddress(k.PublicKey)
}

// KeySource describes where a signer key comes from. Exactly one of HexKey
// and KeystorePath must be set.
type KeySource struct {
	HexKey       string
	KeystorePath string
	Passphrase   func() (string, error)
}

// Load resolves the configured key.
func (s KeySource) Load() (*PrivateKey, error) {
	hexKey := strings.TrimSpace(s.HexKey)
	path := strings.TrimSpace(s.KeystorePath)
	switch {
	case hexKey != "" && path != "":
		return nil, errors.New("crypto: configure either a hex key or a keystore, not both")
	case hexKey != "":
		return PrivateKeyFromHex(hexKey)
	case path != "":
		if s.Passphrase == nil {
			return nil, errors.New("crypto: keystore passphrase source required")
		}
		passphrase, err := s.Passphrase()
		if err != nil {
			return nil, err
		}
		return LoadFromKeystore(path, passphrase)
	default:
		return nil, errors.New("crypto: no signer key configured")
	}
}
