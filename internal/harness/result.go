package harness

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/tradegen/tgen-e2e/internal/chain"
	"github.com/tradegen/tgen-e2e/internal/contracts"
	"github.com/tradegen/tgen-e2e/internal/scenario"
)

// stepValue is what expectations and captures of one step look into: the outputs of a call or
// the outcome of a send.
type stepValue struct {
	call *chain.CallResult
	send *chain.Outcome
}

func (v stepValue) lookup(p scenario.Path) (any, error) {
	switch {
	case v.call != nil:
		return callValue(*v.call, p)
	case v.send != nil:
		return sendValue(*v.send, p)
	}
	return nil, fmt.Errorf("step has no result")
}

func callValue(res chain.CallResult, p scenario.Path) (any, error) {
	if len(res.Values) == 0 {
		return nil, fmt.Errorf("%s returned no values", res.Method)
	}
	if len(p) == 0 {
		return res.Values[0], nil
	}
	first := p[0]
	switch {
	case first.IsIndex():
		if first.Index >= len(res.Values) {
			return nil, fmt.Errorf("%s has %d outputs", res.Method, len(res.Values))
		}
		return walk(res.Values[first.Index], p[1:])
	case first.Name == scenario.FieldLength:
		return walk(res.Values[0], p)
	}
	v, ok := res.Named(first.Name)
	if !ok {
		return nil, fmt.Errorf("%s has no output %q", res.Method, first.Name)
	}
	if first.Index >= 0 {
		return walk(v, append(scenario.Path{{Index: first.Index}}, p[1:]...))
	}
	return walk(v, p[1:])
}

func sendValue(out chain.Outcome, p scenario.Path) (any, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("empty send path")
	}
	first := p[0]
	switch first.Name {
	case scenario.FieldStatus:
		return out.Success, nil
	case scenario.FieldTxHash:
		return out.TxHash.Hex(), nil
	case scenario.FieldGasUsed:
		return strconv.FormatUint(out.GasUsed, 10), nil
	case scenario.FieldBlockNumber:
		return strconv.FormatUint(out.BlockNumber, 10), nil
	case scenario.FieldEvents:
		return len(out.Events), nil
	}
	events := contracts.FindEvents(out.Events, first.Name)
	i := first.Index
	if i < 0 {
		i = 0
	}
	if i >= len(events) {
		return nil, fmt.Errorf("event %s[%d] not emitted (%d found)", first.Name, i, len(events))
	}
	return walk(events[i].Fields, p[1:])
}

// walk descends into lists by index and into maps by name. "length" yields the length of a
// list or string.
func walk(v any, p scenario.Path) (any, error) {
	for _, seg := range p {
		if seg.Name == scenario.FieldLength {
			if s, ok := v.(string); ok {
				v = len(s)
				continue
			}
			l, ok := asList(v)
			if !ok {
				return nil, fmt.Errorf("length of non-list %T", v)
			}
			v = len(l)
			continue
		}
		if !seg.IsIndex() {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("field %q of non-object %T", seg.Name, v)
			}
			f, ok := m[seg.Name]
			if !ok {
				return nil, fmt.Errorf("no field %q", seg.Name)
			}
			v = f
			if seg.Index < 0 {
				continue
			}
		}
		l, ok := asList(v)
		if !ok {
			return nil, fmt.Errorf("index %d of non-list %T", seg.Index, v)
		}
		if seg.Index >= len(l) {
			return nil, fmt.Errorf("index %d out of range (length %d)", seg.Index, len(l))
		}
		v = l[seg.Index]
	}
	return v, nil
}

func asList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if _, isBytes := v.([]byte); isBytes {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
