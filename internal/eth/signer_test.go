package eth

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestLocalSigner_SignsDynamicAndLegacyTx(t *testing.T) {
	chainID := big.NewInt(44787)

	key, err := ParsePrivateKeyHex(testKeyHex)
	if err != nil {
		t.Fatalf("ParsePrivateKeyHex: %v", err)
	}
	s := NewLocalSigner(key)
	if (s.Address() == common.Address{}) {
		t.Fatalf("expected non-zero address")
	}

	to := common.HexToAddress("0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1")
	txs := map[string]*types.Transaction{
		"dynamic": types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     7,
			GasTipCap: big.NewInt(1),
			GasFeeCap: big.NewInt(2),
			Gas:       21000,
			To:        &to,
			Value:     big.NewInt(0),
		}),
		"legacy": types.NewTx(&types.LegacyTx{
			Nonce:    8,
			GasPrice: big.NewInt(5),
			Gas:      21000,
			To:       &to,
			Value:    big.NewInt(0),
		}),
	}

	for name, tx := range txs {
		t.Run(name, func(t *testing.T) {
			signed, err := s.SignTx(tx, chainID)
			if err != nil {
				t.Fatalf("SignTx: %v", err)
			}
			from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
			if err != nil {
				t.Fatalf("Sender: %v", err)
			}
			if from != s.Address() {
				t.Fatalf("from mismatch: got %s want %s", from, s.Address())
			}
		})
	}
}

func TestLocalSigner_RejectsMissingKeyOrChain(t *testing.T) {
	to := common.HexToAddress("0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1")
	tx := types.NewTx(&types.LegacyTx{Gas: 21000, To: &to, GasPrice: big.NewInt(1)})

	if _, err := NewLocalSigner(nil).SignTx(tx, big.NewInt(1)); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("nil key: expected ErrInvalidSigner, got %v", err)
	}

	key, _ := ParsePrivateKeyHex(testKeyHex)
	if _, err := NewLocalSigner(key).SignTx(tx, nil); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("nil chain: expected ErrInvalidSigner, got %v", err)
	}
}

func TestLocalSigner_StringHidesKey(t *testing.T) {
	key, _ := ParsePrivateKeyHex(testKeyHex)
	s := NewLocalSigner(key)
	if strings.Contains(s.String(), testKeyHex[:16]) {
		t.Fatalf("String leaks key: %s", s)
	}
	if !strings.Contains(s.String(), s.Address().Hex()) {
		t.Fatalf("String: got %q", s)
	}
}
