package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/OneStable-limited/onestable-bridge/internal/repository"
)

var flagStatusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded deployment state of a network",
	Long: `Print the journaled state of every node on --network. Only the state
store is read; the chain is not queried.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&flagStatusJSON, "json", false, "print the state as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
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

	network, err := a.store.GetNetwork(ctx, netCfg.Name)
	if errors.Is(err, repository.ErrNotFound) {
		fmt.Fprintf(cmd.OutOrStdout(), "No deployment recorded for %s\n", netCfg.Name)
		return nil
	}
	if err != nil {
		return err
	}
	nodes, err := a.store.ListNodes(ctx, netCfg.Name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagStatusJSON {
		for _, n := range nodes {
			n.RawTx = ""
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Network *repository.NetworkRecord `json:"network"`
			Nodes   []*repository.NodeRecord  `json:"nodes"`
		}{network, nodes})
	}

	fmt.Fprintf(out, "Network %s (chain %d): last run %s %s at %s\n\n",
		network.Network, network.ChainID, network.RunID, network.Status, network.UpdatedAt.Format("2006-01-02 15:04:05 MST"))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tKIND\tSTATUS\tADDRESS\tTX\tERROR")
	for _, n := range nodes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", n.NodeID, n.Kind, n.Status, n.Address, n.TxHash, n.Error)
	}
	return tw.Flush()
}
