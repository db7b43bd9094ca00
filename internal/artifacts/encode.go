package artifacts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// EncodeConstructorArgs ABI-encodes constructor arguments without the
// creation bytecode, as explorers expect for verification.
func (a *Artifact) EncodeConstructorArgs(values []any) ([]byte, error) {
	args, err := CoerceArgs(a.abi.Constructor.Inputs, values)
	if err != nil {
		return nil, fmt.Errorf("%s constructor: %w", a.ContractName, err)
	}
	packed, err := a.abi.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("%s constructor: %w", a.ContractName, err)
	}
	return packed, nil
}

// EncodeDeployment returns creation bytecode followed by the encoded
// constructor arguments.
func (a *Artifact) EncodeDeployment(values []any) ([]byte, error) {
	code, err := a.Bytecode.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.ContractName, err)
	}
	args, err := a.EncodeConstructorArgs(values)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, len(code)+len(args))
	data = append(data, code...)
	return append(data, args...), nil
}

// Method looks up a method by name or by signature, e.g.
// "setMessageAdapter(address,bool)" for overloaded methods.
func (a *Artifact) Method(name string) (abi.Method, error) {
	if m, ok := a.abi.Methods[name]; ok {
		return m, nil
	}
	if strings.Contains(name, "(") {
		for _, m := range a.abi.Methods {
			if m.Sig == name {
				return m, nil
			}
		}
	}
	return abi.Method{}, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, a.ContractName, name)
}

// EncodeCall returns calldata for method.
func (a *Artifact) EncodeCall(method string, values []any) ([]byte, error) {
	m, err := a.Method(method)
	if err != nil {
		return nil, err
	}
	args, err := CoerceArgs(m.Inputs, values)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", a.ContractName, method, err)
	}
	packed, err := m.Inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", a.ContractName, method, err)
	}
	data := make([]byte, 0, len(m.ID)+len(packed))
	data = append(data, m.ID...)
	return append(data, packed...), nil
}

// EncodeDeployment encodes the creation transaction data for contract.
func (r *Registry) EncodeDeployment(contract string, args []any) ([]byte, error) {
	a, err := r.Artifact(contract)
	if err != nil {
		return nil, err
	}
	return a.EncodeDeployment(args)
}

// EncodeConstructorArgs encodes contract's constructor arguments.
func (r *Registry) EncodeConstructorArgs(contract string, args []any) ([]byte, error) {
	a, err := r.Artifact(contract)
	if err != nil {
		return nil, err
	}
	return a.EncodeConstructorArgs(args)
}

// EncodeCall encodes calldata for method on contract.
func (r *Registry) EncodeCall(contract, method string, args []any) ([]byte, error) {
	a, err := r.Artifact(contract)
	if err != nil {
		return nil, err
	}
	return a.EncodeCall(method, args)
}

// DeployedBytecode returns contract's runtime bytecode. Runtime code of
// contracts with immutables differs on chain, so callers compare it only
// as a hint.
func (r *Registry) DeployedBytecode(contract string) ([]byte, error) {
	a, err := r.Artifact(contract)
	if err != nil {
		return nil, err
	}
	return a.DeployedBytecode.Bytes()
}
