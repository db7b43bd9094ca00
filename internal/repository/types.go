// Package repository persists deployment state: one network record per
// target network and one node record per plan future.
package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a write would move a node
	// backwards, e.g. out of confirmed.
	ErrInvalidTransition = errors.New("invalid node status transition")
	// ErrStoreCorrupted is returned when a state file cannot be decoded.
	ErrStoreCorrupted = errors.New("deployment state corrupted")
	// ErrStorePersist is returned when a state file cannot be written.
	ErrStorePersist = errors.New("deployment state persist failed")
)

// Status is the persisted status of a node.
type Status string

const (
	// StatusPending indicates the node has been scheduled but nothing was
	// broadcast.
	StatusPending Status = "pending"
	// StatusSubmitted indicates a signed transaction was recorded and may
	// have been broadcast.
	StatusSubmitted Status = "submitted"
	// StatusConfirmed indicates the node's transaction was mined
	// successfully, or, for address bindings, the binding was resolved.
	StatusConfirmed Status = "confirmed"
	// StatusFailed indicates the transaction reverted, was dropped or could
	// not be sent.
	StatusFailed Status = "failed"
)

// KindContractAt is the Kind of address-binding records. A binding is
// confirmed without a transaction.
const KindContractAt = "contract_at"

// RunStatus is the status of the latest run against a network.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// NetworkRecord identifies the chain a network's state belongs to.
type NetworkRecord struct {
	Network   string    `json:"network"`
	ChainID   int64     `json:"chainId"`
	RunID     uuid.UUID `json:"runId"`
	Status    RunStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NodeRecord is the persisted state of one plan future on one network.
type NodeRecord struct {
	Network      string  `json:"network"`
	NodeID       string  `json:"nodeId"`
	Kind         string  `json:"kind"`
	ContractName string  `json:"contractName,omitempty"`
	Status       Status  `json:"status"`
	Address      string  `json:"address,omitempty"`
	To           string  `json:"to,omitempty"`
	From         string  `json:"from,omitempty"`
	TxHash       string  `json:"txHash,omitempty"`
	Nonce        *uint64 `json:"nonce,omitempty"`
	RawTx        string  `json:"rawTx,omitempty"`
	InputHash    string  `json:"inputHash,omitempty"`
	CodeHash     string  `json:"codeHash,omitempty"`
	// ConstructorArgs is the hex ABI encoding of constructor arguments,
	// kept for source verification.
	ConstructorArgs string    `json:"constructorArgs,omitempty"`
	BlockNumber     uint64    `json:"blockNumber,omitempty"`
	Error           string    `json:"error,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Key returns the record's network-scoped identity.
func (r *NodeRecord) Key() string {
	return r.Network + "/" + r.NodeID
}

// ValidateTransition checks that next may replace prev. prev is nil for
// a node that has never been recorded.
//
// Confirmed records are immutable apart from bookkeeping fields. Failed
// nodes may be retried; a failed address binding may be confirmed
// directly.
func ValidateTransition(prev, next *NodeRecord) error {
	if prev == nil {
		return nil
	}

	allowed := false
	switch prev.Status {
	case StatusPending:
		allowed = next.Status != ""
	case StatusSubmitted:
		allowed = next.Status == StatusSubmitted || next.Status == StatusConfirmed || next.Status == StatusFailed
	case StatusFailed:
		allowed = next.Status == StatusPending || next.Status == StatusSubmitted || next.Status == StatusFailed ||
			(next.Status == StatusConfirmed && next.Kind == KindContractAt && next.TxHash == "")
	case StatusConfirmed:
		allowed = next.Status == StatusConfirmed &&
			next.Address == prev.Address &&
			next.TxHash == prev.TxHash
	}

	if !allowed {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, prev.Key(), prev.Status, next.Status)
	}
	return nil
}

func copyNode(r *NodeRecord) *NodeRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Nonce != nil {
		n := *r.Nonce
		cp.Nonce = &n
	}
	return &cp
}

func copyNetwork(r *NetworkRecord) *NetworkRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
