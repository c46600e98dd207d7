package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

var ErrInvalidArg = errors.New("contracts: invalid argument")

var bigIntType = reflect.TypeOf((*big.Int)(nil))

// CoerceArgs converts declarative literals into the Go values go-ethereum packs for inputs.
//
// Scalars usually arrive as strings holding the literal text, so amounts like "1e27" never
// pass through a float.
func CoerceArgs(inputs abi.Arguments, raw []any) ([]any, error) {
	if len(raw) != len(inputs) {
		return nil, fmt.Errorf("%w: want %d args, got %d", ErrInvalidArg, len(inputs), len(raw))
	}
	out := make([]any, len(raw))
	for i, in := range inputs {
		v, err := Coerce(in.Type, raw[i])
		if err != nil {
			return nil, fmt.Errorf("%w: arg %d (%s %s): %v", ErrInvalidArg, i, in.Type.String(), in.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

// Coerce converts one literal to the Go type of t.
func Coerce(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.IntTy, abi.UintTy:
		return coerceInt(t, v)
	case abi.BoolTy:
		return coerceBool(v)
	case abi.StringTy:
		return coerceString(v)
	case abi.AddressTy:
		return coerceAddress(v)
	case abi.FixedBytesTy:
		return coerceFixedBytes(t, v)
	case abi.BytesTy:
		return coerceBytes(v)
	case abi.SliceTy, abi.ArrayTy:
		return coerceList(t, v)
	default:
		return nil, fmt.Errorf("unsupported type %s", t.String())
	}
}

func coerceInt(t abi.Type, v any) (any, error) {
	n, err := ParseInteger(v)
	if err != nil {
		return nil, err
	}
	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s out of range for %s", n, t.String())
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		min := new(big.Int).Neg(limit)
		max := new(big.Int).Sub(limit, big.NewInt(1))
		if n.Cmp(min) < 0 || n.Cmp(max) > 0 {
			return nil, fmt.Errorf("%s out of range for %s", n, t.String())
		}
	}

	rt := t.GetType()
	if rt == bigIntType {
		return n, nil
	}
	if t.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(rt).Interface(), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(rt).Interface(), nil
}

// ParseInteger reads an integer from Go numbers, decimal or exponent strings ("1e27"),
// underscore separated digits ("1_000") and 0x-prefixed hex.
func ParseInteger(v any) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, errors.New("nil integer")
		}
		return new(big.Int).Set(x), nil
	case int:
		return big.NewInt(int64(x)), nil
	case int32:
		return big.NewInt(int64(x)), nil
	case int64:
		return big.NewInt(x), nil
	case uint:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case float64:
		return integerFromDecimal(decimal.NewFromFloat(x))
	case decimal.Decimal:
		return integerFromDecimal(x)
	case json.Number:
		return parseIntegerString(string(x))
	case string:
		return parseIntegerString(x)
	default:
		return nil, fmt.Errorf("cannot use %T as integer", v)
	}
}

func parseIntegerString(s string) (*big.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return nil, errors.New("empty integer")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex integer %q", s)
		}
		return n, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return integerFromDecimal(d)
}

func integerFromDecimal(d decimal.Decimal) (*big.Int, error) {
	if !d.IsInteger() {
		return nil, fmt.Errorf("%s is not an integer", d.String())
	}
	return d.BigInt(), nil
}

func coerceBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q", x)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cannot use %T as bool", v)
	}
}

func coerceString(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case nil:
		return nil, errors.New("missing string")
	case fmt.Stringer:
		return x.String(), nil
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(x), nil
	default:
		return nil, fmt.Errorf("cannot use %T as string", v)
	}
}

func coerceAddress(v any) (any, error) {
	switch x := v.(type) {
	case common.Address:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", x)
		}
		return common.HexToAddress(s), nil
	default:
		return nil, fmt.Errorf("cannot use %T as address", v)
	}
}

// coerceFixedBytes accepts 0x hex of at most t.Size bytes, or plain text which is right
// padded with zeros.
func coerceFixedBytes(t abi.Type, v any) (any, error) {
	var b []byte
	switch x := v.(type) {
	case []byte:
		b = x
	case common.Hash:
		b = x.Bytes()
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "0x") {
			dec, err := hexutil.Decode(s)
			if err != nil {
				return nil, fmt.Errorf("invalid hex %q: %v", x, err)
			}
			b = dec
		} else {
			b = []byte(x)
		}
	default:
		return nil, fmt.Errorf("cannot use %T as %s", v, t.String())
	}
	if len(b) > t.Size {
		return nil, fmt.Errorf("%d bytes do not fit %s", len(b), t.String())
	}
	arr := reflect.New(t.GetType()).Elem()
	reflect.Copy(arr, reflect.ValueOf(b))
	return arr.Interface(), nil
}

func coerceBytes(v any) (any, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" || s == "0x" {
			return []byte{}, nil
		}
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex %q: %v", x, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cannot use %T as bytes", v)
	}
}

func coerceList(t abi.Type, v any) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("cannot use %T as %s", v, t.String())
	}
	if t.T == abi.ArrayTy && len(items) != t.Size {
		return nil, fmt.Errorf("%s needs %d elements, got %d", t.String(), t.Size, len(items))
	}

	var out reflect.Value
	if t.T == abi.ArrayTy {
		out = reflect.New(t.GetType()).Elem()
	} else {
		out = reflect.MakeSlice(t.GetType(), len(items), len(items))
	}
	for i, item := range items {
		ev, err := Coerce(*t.Elem, item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %v", i, err)
		}
		out.Index(i).Set(reflect.ValueOf(ev))
	}
	return out.Interface(), nil
}
