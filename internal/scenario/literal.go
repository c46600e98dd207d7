package scenario

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Literal is a YAML value kept in its source form. Numeric scalars stay strings so that
// integers wider than 64 bits never pass through a float.
type Literal struct {
	V   any
	Set bool
}

// Lit wraps v as a set literal.
func Lit(v any) Literal { return Literal{V: v, Set: true} }

func (l *Literal) UnmarshalYAML(n *yaml.Node) error {
	v, err := nodeValue(n)
	if err != nil {
		return err
	}
	l.V = v
	l.Set = true
	return nil
}

func (l Literal) MarshalYAML() (interface{}, error) { return l.V, nil }

// Values returns the raw values of ls.
func Values(ls []Literal) []any {
	out := make([]any, len(ls))
	for i, l := range ls {
		out[i] = l.V
	}
	return out
}

func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return nodeValue(n.Content[0])
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return nil, nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, err
			}
			return b, nil
		}
		return n.Value, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := nodeValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[n.Content[i].Value] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node", n.Line)
}
