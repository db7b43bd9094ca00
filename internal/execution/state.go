package execution

import (
	"fmt"
	"sync"

	"github.com/OneStable-limited/onestable-bridge/internal/repository"
)

// Status is the in-run state of a node. Every status but StatusDeclared is
// persisted with the same name.
type Status string

const (
	// StatusDeclared is the state of a node that is in the plan but has
	// never been scheduled on this network.
	StatusDeclared  Status = "declared"
	StatusPending   Status = Status(repository.StatusPending)
	StatusSubmitted Status = Status(repository.StatusSubmitted)
	StatusConfirmed Status = Status(repository.StatusConfirmed)
	StatusFailed    Status = Status(repository.StatusFailed)
)

// transitions lists the allowed next states. A declared node may jump to
// any persisted status when it is restored from the journal.
var transitions = map[Status][]Status{
	StatusDeclared:  {StatusPending, StatusSubmitted, StatusConfirmed, StatusFailed},
	StatusPending:   {StatusSubmitted, StatusConfirmed, StatusFailed},
	StatusSubmitted: {StatusConfirmed, StatusFailed},
	StatusFailed:    {StatusPending},
	StatusConfirmed: nil,
}

// NodeState tracks the status of one node. Transitions are atomic.
type NodeState struct {
	mu     sync.Mutex
	id     string
	status Status
}

// NewNodeState returns a declared node state.
func NewNodeState(id string) *NodeState {
	return &NodeState{id: id, status: StatusDeclared}
}

// ID returns the node id.
func (s *NodeState) ID() string {
	return s.id
}

// Status returns the current status.
func (s *NodeState) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transition moves the node to next.
func (s *NodeState) Transition(next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, allowed := range transitions[s.status] {
		if allowed == next {
			s.status = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, s.id, s.status, next)
}
