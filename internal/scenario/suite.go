// Package scenario loads declarative test suites: hand-written scenarios of contract calls
// and transactions, plus indicator and comparator tables that expand into scenarios.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tradegen/tgen-e2e/internal/compare"
	"github.com/tradegen/tgen-e2e/internal/contracts"
)

var ErrInvalidSuite = errors.New("scenario: invalid suite")

type Kind string

const (
	KindCall Kind = "call"
	KindSend Kind = "send"
	KindWait Kind = "wait"
)

// Suite is one YAML file.
type Suite struct {
	Name        string             `yaml:"suite"`
	Description string             `yaml:"description"`
	Contracts   []contracts.Ref    `yaml:"contracts"`
	Vars        map[string]Literal `yaml:"vars"`
	Scenarios   []Scenario         `yaml:"scenarios"`
	Indicators  []IndicatorTable   `yaml:"indicators"`
	Comparators []ComparatorTable  `yaml:"comparators"`

	// Path is the file the suite was loaded from; artifacts resolve relative to its directory.
	Path string `yaml:"-"`
}

// Dir is the directory artifact paths are relative to.
func (s *Suite) Dir() string {
	if s.Path == "" {
		return "."
	}
	return filepath.Dir(s.Path)
}

type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Partition groups scenarios that must run sequentially. Empty means "suite:<suite>".
	Partition string `yaml:"partition"`
	Steps     []Step `yaml:"steps"`

	Suite string `yaml:"-"`
}

type Step struct {
	Description  string            `yaml:"description"`
	Kind         Kind              `yaml:"kind"`
	Contract     string            `yaml:"contract"`
	Method       string            `yaml:"method"`
	Account      string            `yaml:"account"`
	Args         []Literal         `yaml:"args"`
	Value        Literal           `yaml:"value"`
	ExpectRevert bool              `yaml:"expectRevert"`
	Expect       []Expectation     `yaml:"expect"`
	Capture      map[string]string `yaml:"capture"`

	// Wait steps: block until the chain's latest timestamp reaches Until, or for Duration.
	Until    Literal `yaml:"until"`
	Duration string  `yaml:"duration"`
}

type Expectation struct {
	Path   string  `yaml:"path"`
	Op     string  `yaml:"op"`
	Value  Literal `yaml:"value"`
	Offset Literal `yaml:"offset"`
}

// Load reads a suite file. Unknown keys are rejected.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	s, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

// Parse decodes and validates a suite.
func Parse(r io.Reader) (*Suite, error) {
	var s Suite
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSuite, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadPaths loads every suite named by paths. Directories contribute their *.yaml and *.yml
// files in lexical order.
func LoadPaths(paths []string) ([]*Suite, error) {
	var files []string
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("scenario: %w", err)
		}
		if !st.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("scenario: %w", err)
		}
		var found []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}

	suites := make([]*Suite, 0, len(files))
	names := make(map[string]string)
	for _, f := range files {
		s, err := Load(f)
		if err != nil {
			return nil, err
		}
		if prev, dup := names[s.Name]; dup {
			return nil, fmt.Errorf("%w: suite %q defined in %s and %s", ErrInvalidSuite, s.Name, prev, f)
		}
		names[s.Name] = f
		suites = append(suites, s)
	}
	return suites, nil
}

// Validate checks the suite's structure. It does not look at ABIs or accounts; see Check.
func (s *Suite) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: suite name is required", ErrInvalidSuite)
	}
	if len(s.Scenarios) == 0 && len(s.Indicators) == 0 && len(s.Comparators) == 0 {
		return fmt.Errorf("%w: %s: no scenarios", ErrInvalidSuite, s.Name)
	}
	for name := range s.Vars {
		if !refRE.MatchString(name) || strings.Contains(name, ".") || name == refNow {
			return fmt.Errorf("%w: %s: bad variable name %q", ErrInvalidSuite, s.Name, name)
		}
	}
	if _, err := s.VarOrder(); err != nil {
		return err
	}
	scenarios, err := s.Expand()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(scenarios))
	for _, sc := range scenarios {
		if strings.TrimSpace(sc.Name) == "" {
			return fmt.Errorf("%w: %s: scenario name is required", ErrInvalidSuite, s.Name)
		}
		if seen[sc.Name] {
			return fmt.Errorf("%w: %s: duplicate scenario %q", ErrInvalidSuite, s.Name, sc.Name)
		}
		seen[sc.Name] = true
		if len(sc.Steps) == 0 {
			return fmt.Errorf("%w: %s: %s: no steps", ErrInvalidSuite, s.Name, sc.Name)
		}
		for i, st := range sc.Steps {
			if err := st.validate(); err != nil {
				return fmt.Errorf("%w: %s: %s: step %d: %v", ErrInvalidSuite, s.Name, sc.Name, i, err)
			}
		}
	}
	return nil
}

func (st Step) validate() error {
	switch st.Kind {
	case KindCall, KindSend:
		if st.Contract == "" || st.Method == "" {
			return errors.New("contract and method are required")
		}
		if st.Until.Set || st.Duration != "" {
			return errors.New("until and duration are only valid on wait steps")
		}
	case KindWait:
		if st.Until.Set == (st.Duration != "") {
			return errors.New("wait needs exactly one of until or duration")
		}
		if st.Duration != "" {
			if d, err := time.ParseDuration(st.Duration); err != nil || d <= 0 {
				return fmt.Errorf("bad duration %q", st.Duration)
			}
		}
		if st.Contract != "" || st.Method != "" || len(st.Args) > 0 || len(st.Expect) > 0 || st.ExpectRevert {
			return errors.New("wait steps take no contract, method, args or expectations")
		}
		return nil
	case "":
		return errors.New("kind is required")
	default:
		return fmt.Errorf("unknown kind %q", st.Kind)
	}
	if st.Kind == KindCall && st.Value.Set {
		return errors.New("value is only valid on send steps")
	}
	if st.ExpectRevert && (len(st.Expect) > 0 || len(st.Capture) > 0) {
		return errors.New("expectRevert steps take no expectations or captures")
	}

	for _, e := range st.Expect {
		if _, err := ParsePath(e.Path); err != nil {
			return err
		}
		if _, err := compare.ParseOp(e.Op); err != nil {
			return err
		}
		if !e.Value.Set {
			return fmt.Errorf("expectation %q has no value", e.Path)
		}
	}
	for name, p := range st.Capture {
		if !refRE.MatchString(name) || strings.Contains(name, ".") || name == refNow {
			return fmt.Errorf("bad capture name %q", name)
		}
		if _, err := ParsePath(p); err != nil {
			return err
		}
	}
	if st.Kind == KindSend {
		for _, e := range st.Expect {
			if err := checkSendPath(e.Path); err != nil {
				return err
			}
		}
		for _, p := range st.Capture {
			if err := checkSendPath(p); err != nil {
				return err
			}
		}
	}

	for _, v := range st.literals() {
		if _, err := Placeholders(v); err != nil {
			return err
		}
	}
	return nil
}

func checkSendPath(s string) error {
	p, err := ParsePath(s)
	if err != nil {
		return err
	}
	if len(p) == 0 || p[0].IsIndex() {
		return fmt.Errorf("%w: send result path %q must name a receipt field or event", ErrInvalidSuite, s)
	}
	if p[0].Name == FieldEvents {
		if len(p) != 2 || p[1].Name != FieldLength {
			return fmt.Errorf("%w: only events.length is supported", ErrInvalidSuite)
		}
		return nil
	}
	if isReceiptField(p[0].Name) {
		if len(p) != 1 {
			return fmt.Errorf("%w: %s has no fields", ErrInvalidSuite, p[0].Name)
		}
		return nil
	}
	if len(p) < 2 {
		return fmt.Errorf("%w: event path %q needs a field", ErrInvalidSuite, s)
	}
	return nil
}

// literals returns every raw value of the step that may carry placeholders.
func (st Step) literals() []any {
	out := Values(st.Args)
	out = append(out, st.Value.V, st.Until.V)
	for _, e := range st.Expect {
		out = append(out, e.Value.V, e.Offset.V)
	}
	return out
}

// Expand returns the suite's hand-written scenarios followed by the scenarios generated from
// its indicator and comparator tables, with partitions filled in.
func (s *Suite) Expand() ([]Scenario, error) {
	var out []Scenario
	for _, sc := range s.Scenarios {
		sc.Suite = s.Name
		if sc.Partition == "" {
			sc.Partition = "suite:" + s.Name
		}
		out = append(out, sc)
	}
	for i, t := range s.Indicators {
		gen, err := t.expand()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: indicators[%d]: %v", ErrInvalidSuite, s.Name, i, err)
		}
		out = append(out, gen...)
	}
	for i, t := range s.Comparators {
		gen, err := t.expand()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: comparators[%d]: %v", ErrInvalidSuite, s.Name, i, err)
		}
		out = append(out, gen...)
	}
	for i := range out {
		out[i].Suite = s.Name
	}
	return out, nil
}
