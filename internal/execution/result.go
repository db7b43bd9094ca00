package execution

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// NodeResult is the outcome of one node after a run.
type NodeResult struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	ContractName string         `json:"contractName,omitempty"`
	Status       Status         `json:"status"`
	Address      common.Address `json:"address,omitempty"`
	TxHash       string         `json:"txHash,omitempty"`
	Error        string         `json:"error,omitempty"`
	// BlockedBy lists the unfinished nodes this node waits on when the
	// run halted before reaching it.
	BlockedBy []string `json:"blockedBy,omitempty"`
}

// HasAddress reports whether the node resolved to an address.
func (n NodeResult) HasAddress() bool {
	return n.Address != (common.Address{})
}

// Result is the outcome of a run.
type Result struct {
	Network string       `json:"network"`
	ChainID int64        `json:"chainId"`
	RunID   uuid.UUID    `json:"runId"`
	Nodes   []NodeResult `json:"nodes"`
	// Transactions counts the transactions signed during this run.
	Transactions int           `json:"transactions"`
	Duration     time.Duration `json:"duration"`
}

// Node returns the result of the node with the given id.
func (r *Result) Node(id string) (NodeResult, bool) {
	for _, n := range r.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeResult{}, false
}

// Address returns the address a node resolved to.
func (r *Result) Address(id string) (common.Address, bool) {
	n, ok := r.Node(id)
	if !ok || !n.HasAddress() {
		return common.Address{}, false
	}
	return n.Address, true
}

// Succeeded reports whether every node is confirmed.
func (r *Result) Succeeded() bool {
	for _, n := range r.Nodes {
		if n.Status != StatusConfirmed {
			return false
		}
	}
	return true
}

// Blocked returns the ids of nodes that could not run because a node they
// depend on did not finish.
func (r *Result) Blocked() []string {
	var out []string
	for _, n := range r.Nodes {
		if len(n.BlockedBy) > 0 {
			out = append(out, n.ID)
		}
	}
	return out
}
