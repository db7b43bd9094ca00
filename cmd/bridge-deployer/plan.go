package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/OneStable-limited/onestable-bridge/internal/chain"
	"github.com/OneStable-limited/onestable-bridge/internal/execution"
	"github.com/OneStable-limited/onestable-bridge/internal/plan"
)

var flagPlanJSON bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the deployment plan without sending transactions",
	Long: `Build the selected module, resolve its parameters and print the futures
in execution order, grouped into batches. Every constructor and call is
encoded against the compiled artifacts, so invalid parameters are reported
here rather than mid-deployment. No RPC connection is made.

The signing account fills parameters that default to it. When no signer is
configured for the network the zero address stands in.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&flagPlanJSON, "json", false, "print the plan as JSON")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	netCfg, err := a.network()
	if err != nil {
		return err
	}

	account := common.Address{}
	if signer, err := chain.NewSigner(netCfg, big.NewInt(netCfg.ChainID)); err == nil {
		account = signer.Address()
	} else {
		a.logger.Warn("no signer configured, using the zero address for account defaults", slog.String("error", err.Error()))
	}

	p, resolved, err := buildPlan([]common.Address{account})
	if err != nil {
		return err
	}
	registry, err := a.artifacts()
	if err != nil {
		return err
	}
	if err := execution.Preflight(p, resolved, registry); err != nil {
		return err
	}

	summary := summarizePlan(p, resolved)
	if flagPlanJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	writePlan(cmd.OutOrStdout(), netCfg.Name, summary)
	return nil
}

type planSummary struct {
	Root         string            `json:"root"`
	Modules      []string          `json:"modules"`
	Batches      [][]planFuture    `json:"batches"`
	Parameters   map[string]string `json:"parameters"`
	Transactions int               `json:"transactions"`
}

type planFuture struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Contract     string   `json:"contract,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

func summarizePlan(p *plan.Plan, resolved *plan.Resolved) planSummary {
	s := planSummary{
		Root:       p.Root().ID,
		Parameters: make(map[string]string),
	}
	for _, m := range p.Modules() {
		s.Modules = append(s.Modules, m.ID)
	}
	for _, batch := range p.Batches() {
		futures := make([]planFuture, 0, len(batch))
		for _, f := range batch {
			pf := planFuture{ID: f.ID(), Kind: string(f.Kind())}
			if cf, ok := f.(plan.ContractFuture); ok {
				pf.Contract = cf.ContractName()
			}
			if c, ok := f.(*plan.Call); ok {
				pf.Contract = c.Contract.ContractName()
			}
			for _, dep := range f.Dependencies() {
				pf.Dependencies = append(pf.Dependencies, dep.ID())
			}
			if f.Kind() != plan.KindContractAt {
				s.Transactions++
			}
			futures = append(futures, pf)
		}
		s.Batches = append(s.Batches, futures)
	}
	for key, v := range resolved.Values() {
		s.Parameters[key] = fmt.Sprint(v)
	}
	return s
}

func writePlan(out io.Writer, network string, s planSummary) {
	fmt.Fprintf(out, "Plan %s on %s: %d transactions in %d batches\n\n", s.Root, network, s.Transactions, len(s.Batches))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tFUTURE\tKIND\tCONTRACT\tAFTER")
	for i, batch := range s.Batches {
		for _, f := range batch {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, f.ID, f.Kind, f.Contract, strings.Join(f.Dependencies, ", "))
		}
	}
	_ = tw.Flush()

	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(out, "\nParameters:")
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "  %s\t%s\n", k, s.Parameters[k])
	}
	_ = tw.Flush()
}
