package accounts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tradegen/tgen-e2e/internal/eth"
	"github.com/tradegen/tgen-e2e/internal/secrets"
)

type mapProvider map[string]string

func (m mapProvider) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", secrets.ErrNotFound
	}
	return v, nil
}

const ownerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestLoad(t *testing.T) {
	p := mapProvider{"OWNER_KEY": "0x" + ownerKey, "SECOND_KEY": ownerKey}
	set, err := Load(context.Background(), p, []Spec{
		{Label: "owner", KeyRef: "OWNER_KEY"},
		{Label: "second", KeyRef: "SECOND_KEY"},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	key, _ := crypto.HexToECDSA(ownerKey)
	want := crypto.PubkeyToAddress(key.PublicKey)

	owner, err := set.Get("owner")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if owner.Address != want || owner.Signer().Address() != want {
		t.Fatalf("owner address: got %s want %s", owner.Address, want)
	}
	if got := set.Labels(); len(got) != 2 || got[0] != "owner" || got[1] != "second" {
		t.Fatalf("labels: got %v", got)
	}
	if got := set.Addresses()["second"]; got != want {
		t.Fatalf("second address: got %s", got)
	}
	if _, err := set.Get("third"); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestLoad_ErrorsHideKeyMaterial(t *testing.T) {
	bad := "zz" + ownerKey[2:]
	_, err := Load(context.Background(), mapProvider{"K": bad}, []Spec{{Label: "owner", KeyRef: "K"}})
	if !errors.Is(err, eth.ErrInvalidPrivateKey) {
		t.Fatalf("expected ErrInvalidPrivateKey, got %v", err)
	}
	if strings.Contains(err.Error(), bad) {
		t.Fatalf("error leaks key material: %v", err)
	}

	_, err = Load(context.Background(), mapProvider{}, []Spec{{Label: "owner", KeyRef: "MISSING"}})
	if !errors.Is(err, secrets.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = Load(context.Background(), mapProvider{"K": ownerKey}, []Spec{{Label: "a", KeyRef: "K"}, {Label: "a", KeyRef: "K"}})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
