package scenario

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one element of a result path: a name ("quantity", "ConditionStatus",
// "length"), an index ("0"), or both ("Transfer[1]").
type Segment struct {
	Name  string
	Index int // -1 when absent
}

// Path addresses a value inside a step result.
//
// Call results: "" or "0" is the first output, "n" the n-th, "name" a named output, followed
// by ".n" to index a list or ".length".
//
// Send results: "status", "txHash", "gasUsed", "blockNumber", "events.length",
// "Event.field" or "Event[n].field".
type Path []Segment

func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ".")
	out := make(Path, 0, len(parts))
	for _, p := range parts {
		seg, err := parseSegment(p)
		if err != nil {
			return nil, fmt.Errorf("%w: path %q: %v", ErrInvalidSuite, s, err)
		}
		out = append(out, seg)
	}
	return out, nil
}

func parseSegment(p string) (Segment, error) {
	if p == "" {
		return Segment{}, fmt.Errorf("empty segment")
	}
	if n, err := strconv.Atoi(p); err == nil {
		if n < 0 {
			return Segment{}, fmt.Errorf("negative index %d", n)
		}
		return Segment{Index: n}, nil
	}
	name, idx := p, -1
	if i := strings.IndexByte(p, '['); i >= 0 {
		if !strings.HasSuffix(p, "]") {
			return Segment{}, fmt.Errorf("unterminated index in %q", p)
		}
		n, err := strconv.Atoi(p[i+1 : len(p)-1])
		if err != nil || n < 0 {
			return Segment{}, fmt.Errorf("bad index in %q", p)
		}
		name, idx = p[:i], n
	}
	if !refRE.MatchString(name) || strings.Contains(name, ".") {
		return Segment{}, fmt.Errorf("bad name %q", name)
	}
	return Segment{Name: name, Index: idx}, nil
}

// IsIndex reports whether the segment is a bare index.
func (s Segment) IsIndex() bool { return s.Name == "" }

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		switch {
		case s.IsIndex():
			parts[i] = strconv.Itoa(s.Index)
		case s.Index >= 0:
			parts[i] = fmt.Sprintf("%s[%d]", s.Name, s.Index)
		default:
			parts[i] = s.Name
		}
	}
	return strings.Join(parts, ".")
}

// Receipt fields addressable on send results.
const (
	FieldStatus      = "status"
	FieldTxHash      = "txHash"
	FieldGasUsed     = "gasUsed"
	FieldBlockNumber = "blockNumber"
	FieldEvents      = "events"
	FieldLength      = "length"
)

func isReceiptField(name string) bool {
	switch name {
	case FieldStatus, FieldTxHash, FieldGasUsed, FieldBlockNumber, FieldEvents:
		return true
	}
	return false
}
