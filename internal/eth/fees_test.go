package eth

import (
	"errors"
	"math/big"
	"testing"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func TestCalc1559Fees_UsesMinTipAndTwoXBaseFee(t *testing.T) {
	tip, fee, err := Calc1559Fees(bi(100), bi(2), bi(5))
	if err != nil {
		t.Fatalf("Calc1559Fees: %v", err)
	}
	if tip.Cmp(bi(5)) != 0 {
		t.Fatalf("tip: got %s want %s", tip, bi(5))
	}
	// feeCap = 2*baseFee + tip = 205
	if fee.Cmp(bi(205)) != 0 {
		t.Fatalf("fee: got %s want %s", fee, bi(205))
	}
}

func TestCalc1559Fees_KeepsHigherSuggestedTip(t *testing.T) {
	tip, fee, err := Calc1559Fees(bi(10), bi(7), bi(1))
	if err != nil {
		t.Fatalf("Calc1559Fees: %v", err)
	}
	if tip.Cmp(bi(7)) != 0 {
		t.Fatalf("tip: got %s want %s", tip, bi(7))
	}
	if fee.Cmp(bi(27)) != 0 {
		t.Fatalf("fee: got %s want %s", fee, bi(27))
	}
}

func TestCalc1559Fees_RejectsNegative(t *testing.T) {
	if _, _, err := Calc1559Fees(bi(-1), bi(1), bi(1)); !errors.Is(err, ErrInvalidFeeArgs) {
		t.Fatalf("expected ErrInvalidFeeArgs, got %v", err)
	}
	if _, _, err := Calc1559Fees(nil, bi(1), bi(1)); !errors.Is(err, ErrInvalidFeeArgs) {
		t.Fatalf("expected ErrInvalidFeeArgs, got %v", err)
	}
}

func TestCalcLegacyGasPrice(t *testing.T) {
	got, err := CalcLegacyGasPrice(bi(3), bi(5))
	if err != nil {
		t.Fatalf("CalcLegacyGasPrice: %v", err)
	}
	if got.Cmp(bi(5)) != 0 {
		t.Fatalf("gas price: got %s want %s", got, bi(5))
	}

	got, err = CalcLegacyGasPrice(bi(9), bi(5))
	if err != nil {
		t.Fatalf("CalcLegacyGasPrice: %v", err)
	}
	if got.Cmp(bi(9)) != 0 {
		t.Fatalf("gas price: got %s want %s", got, bi(9))
	}
}
