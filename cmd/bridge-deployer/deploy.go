package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/OneStable-limited/onestable-bridge/internal/bridge"
	"github.com/OneStable-limited/onestable-bridge/internal/chain"
	"github.com/OneStable-limited/onestable-bridge/internal/execution"
	"github.com/OneStable-limited/onestable-bridge/internal/lock"
	"github.com/OneStable-limited/onestable-bridge/internal/metrics"
)

var (
	flagDeployJSON  bool
	flagMetricsAddr string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Execute the deployment plan against a network",
	Long: `Execute the selected module against --network.

Confirmed nodes from earlier runs are checked against the chain and
skipped. Transactions recorded as submitted are looked up and, if still
pending, rebroadcast. Failed nodes are retried. The run stops if the
network lock is lost while it is deploying.

With --wire-adapter=false the setMessageAdapter call is left out of the
plan and its calldata is printed for the bridge admin to send.`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&flagDeployJSON, "json", false, "print the result as JSON")
	deployCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while deploying")
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	netCfg, err := a.network()
	if err != nil {
		return err
	}
	registry, err := a.artifacts()
	if err != nil {
		return err
	}

	client, err := chain.Dial(ctx, netCfg.RPCURL)
	if err != nil {
		return fmt.Errorf("network %s: %w", netCfg.Name, err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("network %s: failed to get chain id: %w", netCfg.Name, err)
	}
	if chainID.Int64() != netCfg.ChainID {
		return fmt.Errorf("network %s: rpc reports chain %s, configured %d", netCfg.Name, chainID, netCfg.ChainID)
	}

	signer, err := chain.NewSigner(netCfg, chainID)
	if err != nil {
		return err
	}
	transport := chain.NewTransport(client, signer, chainID, chain.TransportConfig{
		Confirmations:         a.cfg.Execution.Confirmations,
		PollInterval:          a.cfg.Execution.PollInterval,
		GasPriceBumpPercent:   a.cfg.Execution.GasPriceBumpPercent,
		GasLimitBufferPercent: a.cfg.Execution.GasLimitBufferPct,
		Logger:                a.logger,
	})

	p, resolved, err := buildPlan([]common.Address{signer.Address()})
	if err != nil {
		return err
	}

	locker, err := a.locker(ctx)
	if err != nil {
		return err
	}
	if err := locker.Acquire(ctx, netCfg.Name); err != nil {
		return err
	}
	defer func() {
		if err := locker.Release(context.WithoutCancel(ctx), netCfg.Name); err != nil {
			a.logger.Warn("failed to release lock", slog.String("network", netCfg.Name), slog.String("error", err.Error()))
		}
	}()

	m := metrics.New()
	if flagMetricsAddr != "" {
		stop := serveMetrics(flagMetricsAddr, m, a.logger)
		defer stop()
	}

	a.logger.Info("starting deployment",
		slog.String("network", netCfg.Name),
		slog.Int64("chain_id", netCfg.ChainID),
		slog.String("module", p.Root().ID),
		slog.String("deployer", signer.Address().Hex()),
	)

	exec := execution.NewExecutor(p, resolved, registry, transport, a.store, execution.Options{
		Network:        netCfg.Name,
		MaxParallel:    a.cfg.Execution.MaxParallel,
		ReceiptTimeout: a.cfg.Execution.ReceiptTimeout,
		Logger:         a.logger,
		Metrics:        m,
	})
	runCtx, stopWatch := lock.Watch(ctx, locker, netCfg.Name)
	defer stopWatch()
	result, runErr := exec.Run(runCtx)
	if cause := context.Cause(runCtx); runErr != nil && errors.Is(cause, lock.ErrLockLost) {
		runErr = fmt.Errorf("%w: %w", cause, runErr)
	}
	if result == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if flagDeployJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		writeResult(out, result, netCfg.Explorer.BrowserURL)
	}

	if runErr == nil && !flagWireAdapter {
		if err := writeManualWiring(out, registry, result); err != nil {
			return err
		}
	}
	return runErr
}

func writeResult(out io.Writer, r *execution.Result, browserURL string) {
	fmt.Fprintf(out, "Network %s (chain %d), run %s: %d transactions in %s\n\n",
		r.Network, r.ChainID, r.RunID, r.Transactions, r.Duration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tSTATUS\tADDRESS\tTX\tNOTE")
	for _, n := range r.Nodes {
		addr := ""
		if n.HasAddress() {
			addr = n.Address.Hex()
		}
		note := n.Error
		if len(n.BlockedBy) > 0 {
			note = "blocked by " + strings.Join(n.BlockedBy, ", ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.Status, addr, n.TxHash, note)
	}
	_ = tw.Flush()

	if browserURL == "" {
		return
	}
	for _, n := range r.Nodes {
		if n.Kind == "contract" && n.HasAddress() {
			fmt.Fprintf(out, "  %s: %s/address/%s\n", n.ContractName, strings.TrimSuffix(browserURL, "/"), n.Address.Hex())
		}
	}
}

// writeManualWiring prints the setMessageAdapter transaction the bridge
// admin has to send when the plan did not include it.
func writeManualWiring(out io.Writer, enc bridge.CallEncoder, r *execution.Result) error {
	for _, p := range bridge.Pipelines() {
		bridgeAddr, ok := r.Address(p.Side.BridgeID())
		if !ok {
			continue
		}
		adapterAddr, ok := r.Address(p.Side.AdapterID())
		if !ok {
			continue
		}

		call, err := bridge.ManualWiring(enc, p.Side, bridgeAddr, adapterAddr)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nThe adapter is not registered with the bridge. Send from the bridge admin:\n")
		fmt.Fprintf(out, "  to:   %s\n", call.To.Hex())
		fmt.Fprintf(out, "  data: %s\n", hexutil.Encode(call.Data))
		fmt.Fprintf(out, "  (%s.%s(%s, true))\n", p.Side.BridgeContract, bridge.SetMessageAdapterMethod, adapterAddr.Hex())
	}
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
