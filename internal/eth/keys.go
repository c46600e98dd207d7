package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidPrivateKey = errors.New("eth: invalid private key")

// ParsePrivateKeyHex parses a single secp256k1 private key: 32 bytes hex, optional 0x prefix,
// surrounding whitespace ignored.
//
// The returned error is sanitized and must not include key material.
func ParsePrivateKeyHex(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPrivateKey)
	}
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not a 32-byte hex key", ErrInvalidPrivateKey)
	}
	return key, nil
}

// ParsePrivateKeysHexList parses one or more keys from a comma-separated list, each in the
// format accepted by ParsePrivateKeyHex. Errors name the failing index only.
func ParsePrivateKeysHexList(s string) ([]*ecdsa.PrivateKey, error) {
	parts := strings.Split(s, ",")
	var out []*ecdsa.PrivateKey
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		key, err := ParsePrivateKeyHex(p)
		if err != nil {
			return nil, fmt.Errorf("%w: index %d", ErrInvalidPrivateKey, i)
		}
		out = append(out, key)
	}
	if len(out) == 0 {
		return nil, ErrInvalidPrivateKey
	}
	return out, nil
}
