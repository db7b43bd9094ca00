package execution

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/OneStable-limited/onestable-bridge/internal/plan"
)

// inputs are the resolved, encoded inputs of a node.
type inputs struct {
	contractName string
	to           *common.Address
	data         []byte
	// constructorArgs is set for contract creations.
	constructorArgs []byte
	// address is set for address bindings.
	address common.Address
	hash    string
}

// encode resolves and encodes f against the addresses known so far.
func (r *run) encode(f plan.Future) (*inputs, error) {
	switch x := f.(type) {
	case *plan.Contract:
		args, err := r.resolveArgs(x.Args)
		if err != nil {
			return nil, err
		}
		data, err := r.artifacts.EncodeDeployment(x.ContractName(), args)
		if err != nil {
			return nil, err
		}
		ctorArgs, err := r.artifacts.EncodeConstructorArgs(x.ContractName(), args)
		if err != nil {
			return nil, err
		}
		return &inputs{
			contractName:    x.ContractName(),
			data:            data,
			constructorArgs: ctorArgs,
			hash:            inputHash(plan.KindContract, []byte(x.ContractName()), data),
		}, nil

	case *plan.ContractAt:
		v, err := r.resolve(x.Address)
		if err != nil {
			return nil, err
		}
		addr, err := toAddress(v)
		if err != nil {
			return nil, fmt.Errorf("address of %s: %w", x.ID(), err)
		}
		return &inputs{
			contractName: x.ContractName(),
			address:      addr,
			hash:         inputHash(plan.KindContractAt, []byte(x.ContractName()), addr.Bytes()),
		}, nil

	case *plan.Call:
		to, ok := r.address(x.Contract.ID())
		if !ok {
			return nil, fmt.Errorf("target %s has no address", x.Contract.ID())
		}
		args, err := r.resolveArgs(x.Args)
		if err != nil {
			return nil, err
		}
		data, err := r.artifacts.EncodeCall(x.Contract.ContractName(), x.Method, args)
		if err != nil {
			return nil, err
		}
		return &inputs{
			contractName: x.Contract.ContractName(),
			to:           &to,
			data:         data,
			hash:         inputHash(plan.KindCall, to.Bytes(), data),
		}, nil
	}
	return nil, fmt.Errorf("unsupported future %T", f)
}

func (r *run) resolveArgs(args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := r.resolve(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// resolve replaces parameters, accounts, futures and encoded calls with
// concrete values.
func (r *run) resolve(v any) (any, error) {
	switch x := v.(type) {
	case *plan.Parameter:
		val, ok := r.resolved.Value(x)
		if !ok {
			return nil, &plan.MissingParameterError{Module: x.Module, Name: x.Name}
		}
		return r.resolve(val)
	case plan.Account:
		return r.resolved.Account(x.Index)
	case plan.ContractFuture:
		addr, ok := r.address(x.ID())
		if !ok {
			return nil, fmt.Errorf("future %s has no address", x.ID())
		}
		return addr, nil
	case plan.Future:
		return nil, fmt.Errorf("future %s does not resolve to a value", x.ID())
	case *plan.EncodedCall:
		args, err := r.resolveArgs(x.Args)
		if err != nil {
			return nil, err
		}
		data, err := r.artifacts.EncodeCall(x.Contract.ContractName(), x.Method, args)
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", x.Contract.ContractName(), x.Method, err)
		}
		return data, nil
	case []any:
		return r.resolveArgs(x)
	}
	return v, nil
}

func toAddress(v any) (common.Address, error) {
	switch x := v.(type) {
	case common.Address:
		return x, nil
	case string:
		if common.IsHexAddress(x) {
			return common.HexToAddress(x), nil
		}
	}
	return common.Address{}, fmt.Errorf("%v is not an address", v)
}

// inputHash fingerprints everything that determines a node's transaction.
func inputHash(kind plan.Kind, parts ...[]byte) string {
	return crypto.Keccak256Hash(append([][]byte{[]byte(kind)}, parts...)...).Hex()
}
