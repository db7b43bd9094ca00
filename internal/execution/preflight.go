package execution

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"

	"github.com/OneStable-limited/onestable-bridge/internal/plan"
)

// Preflight encodes every future of p before anything is signed.
// Contracts that do not exist yet stand in with placeholder addresses, so
// the checks cover argument coercion and ABI encoding. All failures are
// reported together.
func Preflight(p *plan.Plan, resolved *plan.Resolved, artifacts Artifacts) error {
	r := &run{
		resolved:  resolved,
		artifacts: artifacts,
		addresses: make(map[string]common.Address),
	}
	for i, f := range p.Futures() {
		if _, ok := f.(plan.ContractFuture); ok {
			r.addresses[f.ID()] = placeholderAddress(i)
		}
	}

	var result *multierror.Error
	for _, f := range p.Futures() {
		if _, err := r.encode(f); err != nil {
			result = multierror.Append(result, &NodeError{
				NodeID: f.ID(),
				Op:     "preflight",
				Err:    fmt.Errorf("%w: %w", ErrInvalidInput, err),
			})
		}
	}
	return result.ErrorOrNil()
}

func placeholderAddress(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0xb000 + i)))
}
