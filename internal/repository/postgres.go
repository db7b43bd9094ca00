package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const networkColumns = `network, chain_id, run_id, status, created_at, updated_at`

const nodeColumns = `network, node_id, kind, contract_name, status, address, target, sender,
	tx_hash, nonce, raw_tx, input_hash, code_hash, constructor_args, block_number,
	error_message, updated_at`

func scanNetwork(row pgx.Row) (*NetworkRecord, error) {
	var n NetworkRecord
	if err := row.Scan(&n.Network, &n.ChainID, &n.RunID, &n.Status, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

func scanNode(row pgx.Row) (*NodeRecord, error) {
	var (
		n     NodeRecord
		nonce *int64
		block int64
	)
	err := row.Scan(
		&n.Network, &n.NodeID, &n.Kind, &n.ContractName, &n.Status, &n.Address, &n.To, &n.From,
		&n.TxHash, &nonce, &n.RawTx, &n.InputHash, &n.CodeHash, &n.ConstructorArgs, &block,
		&n.Error, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if nonce != nil {
		v := uint64(*nonce)
		n.Nonce = &v
	}
	n.BlockNumber = uint64(block)
	return &n, nil
}

// GetNetwork retrieves a network record.
func (r *PostgresStore) GetNetwork(ctx context.Context, network string) (*NetworkRecord, error) {
	query := `SELECT ` + networkColumns + ` FROM deployment_networks WHERE network = $1`

	n, err := scanNetwork(r.pool.QueryRow(ctx, query, network))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: network %s", ErrNotFound, network)
	}
	if err != nil {
		return nil, fmt.Errorf("GetNetwork: %w", err)
	}
	return n, nil
}

// SaveNetwork inserts or updates a network record.
func (r *PostgresStore) SaveNetwork(ctx context.Context, n *NetworkRecord) error {
	query := `
		INSERT INTO deployment_networks (network, chain_id, run_id, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (network) DO UPDATE
		SET chain_id = EXCLUDED.chain_id, run_id = EXCLUDED.run_id,
			status = EXCLUDED.status, updated_at = NOW()
		RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query, n.Network, n.ChainID, n.RunID, n.Status).
		Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("SaveNetwork: %w", err)
	}
	return nil
}

// ListNetworks retrieves every network record ordered by name.
func (r *PostgresStore) ListNetworks(ctx context.Context) ([]*NetworkRecord, error) {
	query := `SELECT ` + networkColumns + ` FROM deployment_networks ORDER BY network`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ListNetworks: %w", err)
	}
	defer rows.Close()

	var networks []*NetworkRecord
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, fmt.Errorf("ListNetworks scan: %w", err)
		}
		networks = append(networks, n)
	}
	return networks, rows.Err()
}

// GetNode retrieves a node record.
func (r *PostgresStore) GetNode(ctx context.Context, network, nodeID string) (*NodeRecord, error) {
	query := `SELECT ` + nodeColumns + ` FROM deployment_nodes WHERE network = $1 AND node_id = $2`

	n, err := scanNode(r.pool.QueryRow(ctx, query, network, nodeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: node %s/%s", ErrNotFound, network, nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("GetNode: %w", err)
	}
	return n, nil
}

// PutNode validates the transition against the stored row, locked for
// the duration of the transaction, and upserts the record.
func (r *PostgresStore) PutNode(ctx context.Context, n *NodeRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("PutNode begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + nodeColumns + ` FROM deployment_nodes
		WHERE network = $1 AND node_id = $2 FOR UPDATE`
	prev, err := scanNode(tx.QueryRow(ctx, query, n.Network, n.NodeID))
	if errors.Is(err, pgx.ErrNoRows) {
		prev = nil
	} else if err != nil {
		return fmt.Errorf("PutNode select: %w", err)
	}

	if err := ValidateTransition(prev, n); err != nil {
		return err
	}

	var nonce *int64
	if n.Nonce != nil {
		v := int64(*n.Nonce)
		nonce = &v
	}

	upsert := `
		INSERT INTO deployment_nodes (network, node_id, kind, contract_name, status, address, target,
			sender, tx_hash, nonce, raw_tx, input_hash, code_hash, constructor_args, block_number,
			error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (network, node_id) DO UPDATE
		SET kind = EXCLUDED.kind, contract_name = EXCLUDED.contract_name, status = EXCLUDED.status,
			address = EXCLUDED.address, target = EXCLUDED.target, sender = EXCLUDED.sender,
			tx_hash = EXCLUDED.tx_hash, nonce = EXCLUDED.nonce, raw_tx = EXCLUDED.raw_tx,
			input_hash = EXCLUDED.input_hash, code_hash = EXCLUDED.code_hash,
			constructor_args = EXCLUDED.constructor_args, block_number = EXCLUDED.block_number,
			error_message = EXCLUDED.error_message, updated_at = NOW()
		RETURNING updated_at`

	err = tx.QueryRow(ctx, upsert,
		n.Network, n.NodeID, n.Kind, n.ContractName, n.Status, n.Address, n.To,
		n.From, n.TxHash, nonce, n.RawTx, n.InputHash, n.CodeHash, n.ConstructorArgs, int64(n.BlockNumber),
		n.Error,
	).Scan(&n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("PutNode upsert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("PutNode commit: %w", err)
	}
	return nil
}

// ListNodes retrieves every node record of network ordered by node id.
func (r *PostgresStore) ListNodes(ctx context.Context, network string) ([]*NodeRecord, error) {
	query := `SELECT ` + nodeColumns + ` FROM deployment_nodes WHERE network = $1 ORDER BY node_id`

	rows, err := r.pool.Query(ctx, query, network)
	if err != nil {
		return nil, fmt.Errorf("ListNodes: %w", err)
	}
	defer rows.Close()

	var nodes []*NodeRecord
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("ListNodes scan: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
