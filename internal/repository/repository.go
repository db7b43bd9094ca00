package repository

import (
	"context"
)

// Store defines the interface for deployment state operations.
type Store interface {
	// Network operations
	GetNetwork(ctx context.Context, network string) (*NetworkRecord, error)
	SaveNetwork(ctx context.Context, n *NetworkRecord) error
	ListNetworks(ctx context.Context) ([]*NetworkRecord, error)

	// Node operations
	GetNode(ctx context.Context, network, nodeID string) (*NodeRecord, error)
	// PutNode inserts or replaces a node record. Writes that fail
	// ValidateTransition return ErrInvalidTransition.
	PutNode(ctx context.Context, n *NodeRecord) error
	// ListNodes returns a network's node records sorted by node id.
	ListNodes(ctx context.Context, network string) ([]*NodeRecord, error)
}
