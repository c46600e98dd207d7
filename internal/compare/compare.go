// Package compare evaluates expectations against normalized contract results.
//
// Numbers are compared as arbitrary precision decimals, so "1e27" equals
// "1000000000000000000000000000". Other strings, addresses and 0x literals included, must
// match exactly; a 0x literal is read as a number only against a numeric expectation.
package compare

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidOp = errors.New("compare: invalid operator")

type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpLen Op = "len"
)

// ParseOp maps an operator name to an Op. The empty string means eq.
func ParseOp(s string) (Op, error) {
	switch op := Op(strings.ToLower(strings.TrimSpace(s))); op {
	case "", "==":
		return OpEq, nil
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpLen:
		return op, nil
	case "!=":
		return OpNe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGte, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLte, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOp, s)
}

// Equal reports whether actual matches expected.
func Equal(expected, actual any) bool {
	if el, ok := asList(expected); ok {
		al, ok := asList(actual)
		if !ok || len(el) != len(al) {
			return false
		}
		for i := range el {
			if !Equal(el[i], al[i]) {
				return false
			}
		}
		return true
	}
	if _, ok := asList(actual); ok {
		return false
	}

	if eb, ok := expected.(bool); ok {
		ab, ok := asBool(actual)
		return ok && ab == eb
	}
	if ab, ok := actual.(bool); ok {
		eb, ok := asBool(expected)
		return ok && ab == eb
	}

	if ed, ok := Decimal(expected); ok {
		ad, ok := number(actual)
		return ok && ed.Equal(ad)
	}
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	return Canonical(expected) == Canonical(actual)
}

// Compare evaluates actual <op> expected.
func Compare(op Op, expected, actual any) (bool, error) {
	switch op {
	case "", OpEq:
		return Equal(expected, actual), nil
	case OpNe:
		return !Equal(expected, actual), nil
	case OpLen:
		l, ok := asList(actual)
		if !ok {
			s, isStr := actual.(string)
			if !isStr {
				return false, fmt.Errorf("%w: len of %T", ErrInvalidOp, actual)
			}
			return Equal(expected, len(s)), nil
		}
		return Equal(expected, len(l)), nil
	case OpGt, OpGte, OpLt, OpLte:
		ed, ok := Decimal(expected)
		if !ok {
			return false, fmt.Errorf("%w: %s needs a numeric expectation, got %s", ErrInvalidOp, op, Canonical(expected))
		}
		ad, ok := number(actual)
		if !ok {
			return false, nil
		}
		c := ad.Cmp(ed)
		switch op {
		case OpGt:
			return c > 0, nil
		case OpGte:
			return c >= 0, nil
		case OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidOp, op)
}

// WithOffset adds offset to a numeric expectation. A nil offset returns expected unchanged.
func WithOffset(expected, offset any) (any, error) {
	if offset == nil {
		return expected, nil
	}
	od, ok := Decimal(offset)
	if !ok {
		return nil, fmt.Errorf("compare: offset %s is not numeric", Canonical(offset))
	}
	ed, ok := Decimal(expected)
	if !ok {
		return nil, fmt.Errorf("compare: cannot offset non-numeric %s", Canonical(expected))
	}
	return ed.Add(od).String(), nil
}

// Decimal parses v as a number. Strings must be plain decimal or scientific ("1e27"); floats
// are rejected.
func Decimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case *big.Int:
		if x == nil {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromBigInt(x, 0), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case int32:
		return decimal.NewFromInt(int64(x)), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0), true
	case uint32:
		return decimal.NewFromInt(int64(x)), true
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(x)), 0), true
	case json.Number:
		return parseDecimal(string(x))
	case string:
		return parseDecimal(x)
	}
	return decimal.Decimal{}, false
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return decimal.Decimal{}, false
	}
	if !looksNumeric(s) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// number is Decimal plus 0x hex strings, for actual values checked against a number.
func number(v any) (decimal.Decimal, bool) {
	if d, ok := Decimal(v); ok {
		return d, true
	}
	s, ok := v.(string)
	if !ok {
		return decimal.Decimal{}, false
	}
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return decimal.Decimal{}, false
	}
	n, ok := new(big.Int).SetString(s[2:], 16)
	if !ok {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromBigInt(n, 0), true
}

// looksNumeric allows digits, a decimal point, signs and an exponent marker only.
func looksNumeric(s string) bool {
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
		case (r == '-' || r == '+') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		case r == 'e' || r == 'E':
		default:
			return false
		}
	}
	return true
}

func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.TrimSpace(x) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func asList(v any) ([]any, bool) {
	switch x := v.(type) {
	case nil, string, []byte:
		return nil, false
	case []any:
		return x, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Canonical renders v the way failures and reports print it.
func Canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case decimal.Decimal:
		return x.String()
	case *big.Int:
		return x.String()
	}
	if d, ok := Decimal(v); ok {
		return d.String()
	}
	if l, ok := asList(v); ok {
		parts := make([]string, len(l))
		for i, e := range l {
			parts[i] = Canonical(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprint(v)
}

// Failure describes an expectation that did not hold.
type Failure struct {
	Step        int    `json:"step"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
	Op          Op     `json:"op"`
	Expected    string `json:"expected"`
	Actual      string `json:"actual"`
}

func NewFailure(step int, description, path string, op Op, expected, actual any) *Failure {
	if op == "" {
		op = OpEq
	}
	return &Failure{
		Step:        step,
		Description: description,
		Path:        path,
		Op:          op,
		Expected:    Canonical(expected),
		Actual:      Canonical(actual),
	}
}

func (f *Failure) Error() string {
	path := f.Path
	if path == "" {
		path = "result"
	}
	step := fmt.Sprintf("step %d", f.Step)
	if f.Description != "" {
		step += " (" + f.Description + ")"
	}
	if f.Op == OpEq {
		return fmt.Sprintf("%s: %s: expected %s, got %s", step, path, f.Expected, f.Actual)
	}
	return fmt.Sprintf("%s: %s: expected %s %s, got %s", step, path, f.Op, f.Expected, f.Actual)
}
