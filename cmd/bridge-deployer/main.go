// Command bridge-deployer deploys and wires the Onestable bridge contracts
// and keeps the per-network deployment state that makes reruns resumable.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OneStable-limited/onestable-bridge/internal/execution"
	"github.com/OneStable-limited/onestable-bridge/internal/lock"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitMismatch = 2
	exitLocked   = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, execution.ErrResumptionMismatch):
		return exitMismatch
	case errors.Is(err, lock.ErrLocked):
		return exitLocked
	}
	return exitFailure
}
