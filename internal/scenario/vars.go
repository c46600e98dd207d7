package scenario

import (
	"fmt"
	"sort"
	"strings"
)

// VarOrder returns the suite's variable names in an order where every variable comes after
// the variables its value refers to. Variables may refer to accounts, contracts, now and
// other variables; a reference to anything else, or a cycle, is an error.
func (s *Suite) VarOrder() ([]string, error) {
	names := make([]string, 0, len(s.Vars))
	for name := range s.Vars {
		names = append(names, name)
	}
	sort.Strings(names)

	deps := make(map[string][]string, len(names))
	for _, name := range names {
		exprs, err := Placeholders(s.Vars[name].V)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: var %s: %v", ErrInvalidSuite, s.Name, name, err)
		}
		for _, e := range exprs {
			for _, ref := range e.Refs() {
				if ref == refNow || strings.Contains(ref, ".") {
					continue
				}
				if _, ok := s.Vars[ref]; !ok {
					return nil, fmt.Errorf("%w: %s: var %s: unknown variable %q", ErrInvalidSuite, s.Name, name, ref)
				}
				deps[name] = append(deps[name], ref)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(names))
	order := make([]string, 0, len(names))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s: variable cycle %s", ErrInvalidSuite, s.Name, strings.Join(append(path, name), " -> "))
		}
		state[name] = visiting
		for _, dep := range deps[name] {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}
	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}
