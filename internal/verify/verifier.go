// Package verify publishes the source of deployed contracts to
// Etherscan-compatible block explorers.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/OneStable-limited/onestable-bridge/internal/artifacts"
	"github.com/OneStable-limited/onestable-bridge/internal/config"
	"github.com/OneStable-limited/onestable-bridge/internal/plan"
	"github.com/OneStable-limited/onestable-bridge/internal/repository"
)

// Sources resolves compiled artifacts and the build info that produced
// them. *artifacts.Registry implements it.
type Sources interface {
	Artifact(name string) (*artifacts.Artifact, error)
	BuildInfoFor(name string) (*artifacts.BuildInfo, error)
}

// Report summarizes one verification pass.
type Report struct {
	Network  string
	Verified []string
	Skipped  []string
	Failed   []string
}

// Verifier verifies the contracts a network's deployment state records.
type Verifier struct {
	etherscan    *EtherscanClient
	sources      Sources
	store        repository.Store
	logger       *slog.Logger
	pollInterval time.Duration
	timeout      time.Duration
}

// NewVerifier creates a verifier for one network's explorer.
func NewVerifier(network config.NetworkConfig, cfg config.VerifyConfig, sources Sources, store repository.Store, logger *slog.Logger) (*Verifier, error) {
	if network.Explorer.APIURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoExplorer, network.Name)
	}
	if network.Explorer.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, network.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Verifier{
		etherscan:    NewEtherscanClient(network.Explorer.APIKey, network.Explorer.APIURL, rate.NewLimiter(limit, 1)),
		sources:      sources,
		store:        store,
		logger:       logger.With("network", network.Name),
		pollInterval: pollInterval,
		timeout:      timeout,
	}, nil
}

// VerifyNetwork submits every confirmed contract deployment recorded for
// network. Already verified contracts are skipped. A failure does not stop
// the remaining contracts; all failures are returned together.
func (v *Verifier) VerifyNetwork(ctx context.Context, network string) (*Report, error) {
	nodes, err := v.store.ListNodes(ctx, network)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	report := &Report{Network: network}
	var result *multierror.Error
	for _, node := range nodes {
		if node.Kind != string(plan.KindContract) || node.Status != repository.StatusConfirmed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		skipped, err := v.verifyNode(ctx, node)
		switch {
		case err != nil:
			report.Failed = append(report.Failed, node.NodeID)
			result = multierror.Append(result, fmt.Errorf("%s: %w", node.NodeID, err))
			v.logger.Warn("verification failed",
				slog.String("node_id", node.NodeID),
				slog.String("address", node.Address),
				slog.String("error", err.Error()),
			)
		case skipped:
			report.Skipped = append(report.Skipped, node.NodeID)
			v.logger.Info("already verified",
				slog.String("node_id", node.NodeID),
				slog.String("address", node.Address),
			)
		default:
			report.Verified = append(report.Verified, node.NodeID)
			v.logger.Info("verified",
				slog.String("node_id", node.NodeID),
				slog.String("address", node.Address),
			)
		}
	}

	v.logger.Info("verification finished",
		slog.String("network", network),
		slog.Int("verified", len(report.Verified)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("failed", len(report.Failed)),
	)
	return report, result.ErrorOrNil()
}

func (v *Verifier) verifyNode(ctx context.Context, node *repository.NodeRecord) (bool, error) {
	if !common.IsHexAddress(node.Address) {
		return false, fmt.Errorf("recorded address %q is invalid", node.Address)
	}
	address := common.HexToAddress(node.Address)

	verified, err := v.etherscan.IsVerified(ctx, address)
	if err != nil {
		return false, err
	}
	if verified {
		return true, nil
	}

	artifact, err := v.sources.Artifact(node.ContractName)
	if err != nil {
		return false, err
	}
	info, err := v.sources.BuildInfoFor(node.ContractName)
	if err != nil {
		return false, err
	}

	guid, err := v.etherscan.Submit(ctx, SourceRequest{
		Address:         address,
		ContractName:    artifact.FullyQualifiedName(),
		CompilerVersion: info.CompilerVersion(),
		StandardJSON:    info.Input,
		ConstructorArgs: node.ConstructorArgs,
	})
	if errors.Is(err, ErrAlreadyVerified) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	v.logger.Debug("verification submitted",
		slog.String("node_id", node.NodeID),
		slog.String("guid", guid),
	)
	return false, v.etherscan.WaitVerified(ctx, guid, v.pollInterval, v.timeout)
}
