package contracts

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownContract = errors.New("contracts: unknown contract")
	ErrUnknownMethod   = errors.New("contracts: unknown method")
	ErrUnknownEvent    = errors.New("contracts: unknown event")
	ErrInvalidRef      = errors.New("contracts: invalid contract reference")
)

// Handle is a deployed contract the harness talks to.
type Handle struct {
	Name         string
	Address      common.Address
	ABI          abi.ABI
	ArtifactPath string
}

// Method resolves a method by name, or by full signature for overloaded methods
// ("getIndicatorFromIndex(bool,uint256)").
func (h Handle) Method(name string) (abi.Method, error) {
	name = strings.TrimSpace(name)
	if m, ok := h.ABI.Methods[name]; ok {
		return m, nil
	}
	if strings.Contains(name, "(") {
		for _, m := range h.ABI.Methods {
			if m.Sig == name {
				return m, nil
			}
		}
	}
	return abi.Method{}, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, h.Name, name)
}

func (h Handle) Event(name string) (abi.Event, error) {
	if ev, ok := h.ABI.Events[name]; ok {
		return ev, nil
	}
	return abi.Event{}, fmt.Errorf("%w: %s.%s", ErrUnknownEvent, h.Name, name)
}

// Pack coerces raw literals to the method's input types and returns the calldata.
func (h Handle) Pack(method string, raw []any) ([]byte, abi.Method, error) {
	m, err := h.Method(method)
	if err != nil {
		return nil, abi.Method{}, err
	}
	args, err := CoerceArgs(m.Inputs, raw)
	if err != nil {
		return nil, abi.Method{}, fmt.Errorf("%s.%s: %w", h.Name, m.Name, err)
	}
	packed, err := m.Inputs.Pack(args...)
	if err != nil {
		return nil, abi.Method{}, fmt.Errorf("%w: %s.%s: %v", ErrInvalidArg, h.Name, m.Name, err)
	}
	return append(append([]byte{}, m.ID...), packed...), m, nil
}

// Ref declares a contract by name, address and artifact path.
type Ref struct {
	Name     string `yaml:"name" json:"name"`
	Address  string `yaml:"address" json:"address"`
	Artifact string `yaml:"artifact" json:"artifact"`
}

// Book is the set of handles one suite works with.
type Book struct {
	handles map[string]Handle
}

// NewBook resolves refs into handles. Relative artifact paths are resolved against baseDir.
func NewBook(refs []Ref, baseDir string, cache *ArtifactCache) (*Book, error) {
	if cache == nil {
		cache = NewArtifactCache()
	}
	b := &Book{handles: make(map[string]Handle, len(refs))}
	for i, r := range refs {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: contracts[%d]: missing name", ErrInvalidRef, i)
		}
		if _, dup := b.handles[name]; dup {
			return nil, fmt.Errorf("%w: duplicate contract %q", ErrInvalidRef, name)
		}
		if !common.IsHexAddress(strings.TrimSpace(r.Address)) {
			return nil, fmt.Errorf("%w: %s: invalid address %q", ErrInvalidRef, name, r.Address)
		}
		if strings.TrimSpace(r.Artifact) == "" {
			return nil, fmt.Errorf("%w: %s: missing artifact", ErrInvalidRef, name)
		}
		path := r.Artifact
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		a, err := cache.Load(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		b.handles[name] = Handle{
			Name:         name,
			Address:      common.HexToAddress(strings.TrimSpace(r.Address)),
			ABI:          a.ABI,
			ArtifactPath: path,
		}
	}
	return b, nil
}

func (b *Book) Get(name string) (Handle, error) {
	h, ok := b.handles[name]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %q", ErrUnknownContract, name)
	}
	return h, nil
}

func (b *Book) Names() []string {
	out := make([]string, 0, len(b.handles))
	for n := range b.handles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
