// Package contracts turns ABI artifacts and declarative literals into calldata, and decodes
// call outputs and receipt logs back into canonical values for comparison.
package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrInvalidArtifact = errors.New("contracts: invalid artifact")

// Artifact is a compiled contract description. Bytecode is empty for ABI-only artifacts.
type Artifact struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
}

type artifactJSON struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

// ParseArtifact accepts Truffle artifacts ({"contractName","abi","bytecode":"0x.."}),
// Foundry artifacts ({"abi","bytecode":{"object":"0x.."}}) and bare ABI arrays.
func ParseArtifact(name string, raw []byte) (Artifact, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Artifact{}, fmt.Errorf("%w: %s: empty", ErrInvalidArtifact, name)
	}

	abiJSON := raw
	var code []byte
	if raw[0] != '[' {
		var a artifactJSON
		if err := json.Unmarshal(raw, &a); err != nil {
			return Artifact{}, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, name, err)
		}
		if len(a.ABI) == 0 {
			return Artifact{}, fmt.Errorf("%w: %s: missing abi", ErrInvalidArtifact, name)
		}
		abiJSON = a.ABI
		if name == "" {
			name = a.ContractName
		}
		var err error
		code, err = parseBytecode(a.Bytecode)
		if err != nil {
			return Artifact{}, fmt.Errorf("%w: %s: bytecode: %v", ErrInvalidArtifact, name, err)
		}
	}

	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %s: parse abi: %v", ErrInvalidArtifact, name, err)
	}
	return Artifact{Name: name, ABI: parsed, Bytecode: code}, nil
}

func parseBytecode(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		s = obj.Object
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// LoadArtifact reads an artifact file. The artifact name defaults to the file name without
// its extension.
func LoadArtifact(path string) (Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: read %s: %v", ErrInvalidArtifact, path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ParseArtifact(name, b)
}

// ArtifactCache loads each artifact path once. It is safe for concurrent use.
type ArtifactCache struct {
	mu    sync.Mutex
	items map[string]Artifact
}

func NewArtifactCache() *ArtifactCache {
	return &ArtifactCache{items: make(map[string]Artifact)}
}

func (c *ArtifactCache) Load(path string) (Artifact, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.items[abs]; ok {
		return a, nil
	}
	a, err := LoadArtifact(abs)
	if err != nil {
		return Artifact{}, err
	}
	c.items[abs] = a
	return a, nil
}
