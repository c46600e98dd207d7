package scenario

import (
	"fmt"
	"strings"

	"github.com/tradegen/tgen-e2e/internal/contracts"
)

// Check validates the suite's scenarios against the contracts in book and the known account
// labels: every contract, method, arity, event, account and placeholder must resolve. It
// never talks to a node.
func (s *Suite) Check(book *contracts.Book, accounts []string) error {
	known := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		known[a] = true
	}
	scenarios, err := s.Expand()
	if err != nil {
		return err
	}
	for _, sc := range scenarios {
		vars := map[string]bool{refNow: true}
		for name := range s.Vars {
			vars[name] = true
		}
		for i, st := range sc.Steps {
			if err := s.checkStep(st, book, known, vars); err != nil {
				return fmt.Errorf("%w: %s: %s: step %d: %v", ErrInvalidSuite, s.Name, sc.Name, i, err)
			}
			for name := range st.Capture {
				vars[name] = true
			}
		}
	}
	return nil
}

func (s *Suite) checkStep(st Step, book *contracts.Book, accounts, vars map[string]bool) error {
	for _, v := range st.literals() {
		exprs, err := Placeholders(v)
		if err != nil {
			return err
		}
		for _, e := range exprs {
			for _, ref := range e.Refs() {
				if err := checkRef(ref, book, accounts, vars); err != nil {
					return err
				}
			}
		}
	}
	if st.Kind == KindWait {
		return nil
	}

	h, err := book.Get(st.Contract)
	if err != nil {
		return err
	}
	m, err := h.Method(st.Method)
	if err != nil {
		return err
	}
	if len(st.Args) != len(m.Inputs) {
		return fmt.Errorf("%s.%s takes %d args, got %d", h.Name, m.Name, len(m.Inputs), len(st.Args))
	}
	if st.Kind == KindSend {
		label := st.Account
		if label == "" {
			return fmt.Errorf("send %s.%s needs an account", h.Name, m.Name)
		}
		if !accounts[label] {
			return fmt.Errorf("unknown account %q", label)
		}
		if st.Value.Set && !m.IsPayable() {
			return fmt.Errorf("%s.%s is not payable", h.Name, m.Name)
		}
	} else if st.Account != "" && !accounts[st.Account] {
		return fmt.Errorf("unknown account %q", st.Account)
	}

	paths := make([]string, 0, len(st.Expect)+len(st.Capture))
	for _, e := range st.Expect {
		paths = append(paths, e.Path)
	}
	for _, p := range st.Capture {
		paths = append(paths, p)
	}
	for _, raw := range paths {
		p, err := ParsePath(raw)
		if err != nil {
			return err
		}
		if st.Kind == KindSend {
			if len(p) > 0 && !isReceiptField(p[0].Name) {
				if _, err := h.Event(p[0].Name); err != nil {
					return err
				}
			}
			continue
		}
		if len(p) == 0 {
			if len(m.Outputs) == 0 {
				return fmt.Errorf("%s.%s has no outputs", h.Name, m.Name)
			}
			continue
		}
		first := p[0]
		if first.IsIndex() {
			if first.Index >= len(m.Outputs) {
				return fmt.Errorf("%s.%s has %d outputs, path %q", h.Name, m.Name, len(m.Outputs), raw)
			}
			continue
		}
		if first.Name == FieldLength {
			continue
		}
		found := false
		for _, o := range m.Outputs {
			if o.Name == first.Name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s.%s has no output %q", h.Name, m.Name, first.Name)
		}
	}
	return nil
}

func checkRef(ref string, book *contracts.Book, accounts, vars map[string]bool) error {
	switch {
	case strings.HasPrefix(ref, AccountPrefix):
		if label := strings.TrimPrefix(ref, AccountPrefix); !accounts[label] {
			return fmt.Errorf("unknown account %q in ${%s}", label, ref)
		}
	case strings.HasPrefix(ref, ContractPrefix):
		if _, err := book.Get(strings.TrimPrefix(ref, ContractPrefix)); err != nil {
			return err
		}
	default:
		if !vars[ref] {
			return fmt.Errorf("undefined variable ${%s}", ref)
		}
	}
	return nil
}
