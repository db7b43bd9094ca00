package execution

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrSubmission is returned when a transaction could not be sent,
	// reverted, was dropped or was not confirmed in time.
	ErrSubmission = errors.New("submission failed")
	// ErrResumptionMismatch is returned when persisted state no longer
	// matches the plan or the chain.
	ErrResumptionMismatch = errors.New("resumption mismatch")
	// ErrInvalidInput is returned when a node's arguments cannot be
	// encoded. No transaction is sent for a plan that fails this way.
	ErrInvalidInput = errors.New("invalid node input")
	// ErrInvalidTransition is returned for a disallowed node state change.
	ErrInvalidTransition = errors.New("invalid node state transition")
)

// NodeError reports the failure of one node.
type NodeError struct {
	NodeID string
	// Op is the step that failed: preflight, resolve, sign, record,
	// broadcast or confirm.
	Op  string
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// MismatchError reports persisted state that contradicts the plan or the
// chain. NodeID is empty when the network as a whole does not match.
type MismatchError struct {
	NodeID string
	Reason string
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("resumption mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("resumption mismatch: node %s: %s", e.NodeID, e.Reason)
}

// Is makes errors.Is(err, ErrResumptionMismatch) hold.
func (e *MismatchError) Is(target error) bool {
	return target == ErrResumptionMismatch
}

func submissionError(nodeID, op string, err error) *NodeError {
	return &NodeError{NodeID: nodeID, Op: op, Err: fmt.Errorf("%w: %w", ErrSubmission, err)}
}
