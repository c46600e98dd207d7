package scenario

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tradegen/tgen-e2e/internal/compare"
)

const (
	AccountPrefix  = "account."
	ContractPrefix = "contract."
	refNow         = "now"
)

var (
	placeholderRE = regexp.MustCompile(`\$\{([^{}]*)\}`)
	refRE         = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)?$`)
)

// Resolver returns the value a reference stands for: "account.<label>", "contract.<name>",
// "now" or a variable name.
type Resolver func(ref string) (any, error)

// Expr is a parsed placeholder body: a reference with an optional "+ n" or "- n" term. The
// term is a number or another reference.
type Expr struct {
	Ref     string
	Op      byte
	Operand string
}

func ParseExpr(s string) (Expr, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, "+-")
	if i < 0 {
		if !refRE.MatchString(s) {
			return Expr{}, fmt.Errorf("%w: bad reference ${%s}", ErrInvalidSuite, s)
		}
		return Expr{Ref: s}, nil
	}
	e := Expr{
		Ref:     strings.TrimSpace(s[:i]),
		Op:      s[i],
		Operand: strings.TrimSpace(s[i+1:]),
	}
	if !refRE.MatchString(e.Ref) {
		return Expr{}, fmt.Errorf("%w: bad reference ${%s}", ErrInvalidSuite, s)
	}
	if _, ok := compare.Decimal(e.Operand); !ok && !refRE.MatchString(e.Operand) {
		return Expr{}, fmt.Errorf("%w: bad operand in ${%s}", ErrInvalidSuite, s)
	}
	return e, nil
}

// Refs returns the references e depends on.
func (e Expr) Refs() []string {
	out := []string{e.Ref}
	if e.Op != 0 {
		if _, ok := compare.Decimal(e.Operand); !ok {
			out = append(out, e.Operand)
		}
	}
	return out
}

func (e Expr) eval(resolve Resolver) (any, error) {
	base, err := resolve(e.Ref)
	if err != nil {
		return nil, err
	}
	if e.Op == 0 {
		return base, nil
	}
	var operand any = e.Operand
	if _, ok := compare.Decimal(e.Operand); !ok {
		if operand, err = resolve(e.Operand); err != nil {
			return nil, err
		}
	}
	bd, ok := compare.Decimal(base)
	if !ok {
		return nil, fmt.Errorf("scenario: %s is not numeric", e.Ref)
	}
	od, ok := compare.Decimal(operand)
	if !ok {
		return nil, fmt.Errorf("scenario: %s is not numeric", e.Operand)
	}
	if e.Op == '-' {
		return bd.Sub(od).String(), nil
	}
	return bd.Add(od).String(), nil
}

// Substitute replaces placeholders in v. A string that is exactly one placeholder takes the
// resolved value as is; placeholders inside longer strings are rendered canonically. Lists
// and maps are substituted recursively.
func Substitute(v any, resolve Resolver) (any, error) {
	switch x := v.(type) {
	case string:
		m := placeholderRE.FindStringSubmatchIndex(x)
		if m == nil {
			return x, nil
		}
		if m[0] == 0 && m[1] == len(x) {
			e, err := ParseExpr(x[m[2]:m[3]])
			if err != nil {
				return nil, err
			}
			return e.eval(resolve)
		}
		var firstErr error
		out := placeholderRE.ReplaceAllStringFunc(x, func(ph string) string {
			e, err := ParseExpr(ph[2 : len(ph)-1])
			if err == nil {
				var r any
				if r, err = e.eval(resolve); err == nil {
					return compare.Canonical(r)
				}
			}
			if firstErr == nil {
				firstErr = err
			}
			return ph
		})
		return out, firstErr
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			r, err := Substitute(e, resolve)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			r, err := Substitute(e, resolve)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	}
	return v, nil
}

// Placeholders returns every placeholder expression in v, parsed.
func Placeholders(v any) ([]Expr, error) {
	var out []Expr
	var walk func(v any) error
	walk = func(v any) error {
		switch x := v.(type) {
		case string:
			for _, m := range placeholderRE.FindAllStringSubmatch(x, -1) {
				e, err := ParseExpr(m[1])
				if err != nil {
					return err
				}
				out = append(out, e)
			}
		case []any:
			for _, e := range x {
				if err := walk(e); err != nil {
					return err
				}
			}
		case map[string]any:
			for _, e := range x {
				if err := walk(e); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return out, walk(v)
}
