package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/OneStable-limited/onestable-bridge/internal/repository"
)

// Journal persists the node records of one network. Writes outlive the
// caller's context so that a cancelled run still records what it sent.
type Journal struct {
	store   repository.Store
	network string
	logger  *slog.Logger
	now     func() time.Time
}

// NewJournal creates a Journal for network.
func NewJournal(store repository.Store, network string, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		store:   store,
		network: network,
		logger:  logger,
		now:     time.Now,
	}
}

// Network returns the network the journal writes to.
func (j *Journal) Network() string {
	return j.network
}

// Begin starts a run against a chain. State recorded for a different chain
// is a resumption mismatch.
func (j *Journal) Begin(ctx context.Context, chainID int64) (*repository.NetworkRecord, error) {
	ctx = context.WithoutCancel(ctx)

	rec, err := j.store.GetNetwork(ctx, j.network)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		rec = &repository.NetworkRecord{
			Network:   j.network,
			ChainID:   chainID,
			CreatedAt: j.now(),
		}
	case err != nil:
		return nil, fmt.Errorf("load network %s: %w", j.network, err)
	case rec.ChainID != chainID:
		return nil, &MismatchError{Reason: fmt.Sprintf(
			"state for %s was recorded on chain %d but the RPC endpoint reports chain %d",
			j.network, rec.ChainID, chainID,
		)}
	}

	rec.RunID = uuid.New()
	rec.Status = repository.RunRunning
	rec.UpdatedAt = j.now()
	if err := j.store.SaveNetwork(ctx, rec); err != nil {
		return nil, fmt.Errorf("save network %s: %w", j.network, err)
	}
	return rec, nil
}

// Finish records the outcome of a run.
func (j *Journal) Finish(ctx context.Context, rec *repository.NetworkRecord, status repository.RunStatus) error {
	rec.Status = status
	rec.UpdatedAt = j.now()
	if err := j.store.SaveNetwork(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("save network %s: %w", j.network, err)
	}
	return nil
}

// Load returns the network's node records keyed by node id.
func (j *Journal) Load(ctx context.Context) (map[string]*repository.NodeRecord, error) {
	records, err := j.store.ListNodes(ctx, j.network)
	if err != nil {
		return nil, fmt.Errorf("load nodes of %s: %w", j.network, err)
	}
	out := make(map[string]*repository.NodeRecord, len(records))
	for _, r := range records {
		out[r.NodeID] = r
	}
	return out, nil
}

// Record persists rec.
func (j *Journal) Record(ctx context.Context, rec *repository.NodeRecord) error {
	rec.Network = j.network
	rec.UpdatedAt = j.now()
	if err := j.store.PutNode(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("record node %s: %w", rec.NodeID, err)
	}
	j.logger.Debug("node recorded",
		slog.String("network", j.network),
		slog.String("node_id", rec.NodeID),
		slog.String("status", string(rec.Status)),
	)
	return nil
}
