// Package accounts resolves the labelled test accounts a run signs with.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradegen/tgen-e2e/internal/eth"
	"github.com/tradegen/tgen-e2e/internal/secrets"
)

var (
	ErrUnknownAccount = errors.New("accounts: unknown account")
	ErrInvalidConfig  = errors.New("accounts: invalid config")
)

// Spec names an account and the secret reference holding its private key.
type Spec struct {
	Label  string `mapstructure:"label" yaml:"label"`
	KeyRef string `mapstructure:"key_ref" yaml:"key_ref"`
}

// Account is a resolved test account.
type Account struct {
	Label   string
	Address common.Address
	KeyRef  string

	signer eth.Signer
}

func (a Account) Signer() eth.Signer { return a.signer }

// Set is immutable after Load.
type Set struct {
	byLabel map[string]Account
	labels  []string
}

// Load resolves every spec through p. Errors name the label and key reference, never the key.
func Load(ctx context.Context, p secrets.Provider, specs []Spec) (*Set, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil secrets provider", ErrInvalidConfig)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no accounts", ErrInvalidConfig)
	}
	s := &Set{byLabel: make(map[string]Account, len(specs))}
	for i, sp := range specs {
		label := strings.TrimSpace(sp.Label)
		if label == "" {
			return nil, fmt.Errorf("%w: accounts[%d]: missing label", ErrInvalidConfig, i)
		}
		if _, dup := s.byLabel[label]; dup {
			return nil, fmt.Errorf("%w: duplicate label %q", ErrInvalidConfig, label)
		}
		raw, err := p.Get(ctx, sp.KeyRef)
		if err != nil {
			return nil, fmt.Errorf("accounts: %s: %w", label, err)
		}
		key, err := eth.ParsePrivateKeyHex(raw)
		if err != nil {
			return nil, fmt.Errorf("accounts: %s (%s): %w", label, sp.KeyRef, err)
		}
		signer := eth.NewLocalSigner(key)
		s.byLabel[label] = Account{Label: label, Address: signer.Address(), KeyRef: sp.KeyRef, signer: signer}
		s.labels = append(s.labels, label)
	}
	return s, nil
}

// NewSet builds a set from signers keyed by label.
func NewSet(signers map[string]eth.Signer) *Set {
	s := &Set{byLabel: make(map[string]Account, len(signers))}
	for label, signer := range signers {
		s.byLabel[label] = Account{Label: label, Address: signer.Address(), signer: signer}
		s.labels = append(s.labels, label)
	}
	sort.Strings(s.labels)
	return s
}

func (s *Set) Get(label string) (Account, error) {
	a, ok := s.byLabel[label]
	if !ok {
		return Account{}, fmt.Errorf("%w: %q", ErrUnknownAccount, label)
	}
	return a, nil
}

// Labels returns the labels in configuration order.
func (s *Set) Labels() []string {
	return append([]string(nil), s.labels...)
}

// Addresses maps every label to its address.
func (s *Set) Addresses() map[string]common.Address {
	out := make(map[string]common.Address, len(s.byLabel))
	for l, a := range s.byLabel {
		out[l] = a.Address
	}
	return out
}
