package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OneStable-limited/onestable-bridge/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify deployed contract sources on the network's explorer",
	Long: `Submit the source of every confirmed contract deployment on --network to
the network's Etherscan-compatible explorer. Contracts the explorer already
knows are skipped.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, _ []string) error {
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

	v, err := verify.NewVerifier(netCfg, a.cfg.Verify, registry, a.store, a.logger)
	if err != nil {
		return err
	}
	report, err := v.VerifyNetwork(ctx, netCfg.Name)
	if report != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d verified, %d already verified, %d failed\n",
			netCfg.Name, len(report.Verified), len(report.Skipped), len(report.Failed))
	}
	return err
}
