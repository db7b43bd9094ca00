// Package artifacts loads Hardhat compilation output and encodes contract
// creation and call data against it.
package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is a compiled Solidity contract in Hardhat's artifact format.
type Artifact struct {
	Format           string          `json:"_format,omitempty"`
	ContractName     string          `json:"contractName"`
	SourceName       string          `json:"sourceName,omitempty"`
	RawABI           json.RawMessage `json:"abi"`
	Bytecode         Bytecode        `json:"bytecode"`
	DeployedBytecode Bytecode        `json:"deployedBytecode,omitempty"`

	abi abi.ABI
}

// Bytecode contains the contract bytecode.
// It handles both formats:
// - Simple string: "0x608060..."
// - Object with "object" field: {"object": "0x608060..."}
type Bytecode struct {
	hex string
}

// NewBytecode wraps a hex string.
func NewBytecode(hex string) Bytecode {
	return Bytecode{hex: hex}
}

// UnmarshalJSON handles both string and object bytecode formats.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.hex = s
		return nil
	}

	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		b.hex = obj.Object
		return nil
	}

	return fmt.Errorf("bytecode must be a string or object with 'object' field")
}

// MarshalJSON marshals the bytecode as a string.
func (b Bytecode) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.hex)
}

// String returns the bytecode hex string.
func (b Bytecode) String() string {
	return b.hex
}

// Bytes decodes the bytecode. Unlinked library placeholders are rejected.
func (b Bytecode) Bytes() ([]byte, error) {
	h := b.hex
	if h == "" || h == "0x" {
		return nil, ErrEmptyBytecode
	}
	if strings.Contains(h, "__") {
		return nil, ErrUnlinkedBytecode
	}
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	out, err := hexutil.Decode(h)
	if err != nil {
		return nil, fmt.Errorf("decode bytecode: %w", err)
	}
	return out, nil
}

// ParseArtifact decodes a Hardhat artifact and its ABI.
func ParseArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	if a.ContractName == "" {
		return nil, fmt.Errorf("parse artifact: %w", ErrNotAnArtifact)
	}
	if err := a.parseABI(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (a *Artifact) parseABI() error {
	raw := a.RawABI
	if len(raw) == 0 {
		raw = []byte("[]")
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse abi of %s: %w", a.ContractName, err)
	}
	a.abi = parsed
	return nil
}

// ABI returns the parsed contract ABI.
func (a *Artifact) ABI() abi.ABI {
	return a.abi
}

// FullyQualifiedName returns "sourceName:contractName", or the bare contract
// name when the source is unknown.
func (a *Artifact) FullyQualifiedName() string {
	if a.SourceName == "" {
		return a.ContractName
	}
	return a.SourceName + ":" + a.ContractName
}
