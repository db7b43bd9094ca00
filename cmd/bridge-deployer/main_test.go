package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OneStable-limited/onestable-bridge/internal/bridge"
	"github.com/OneStable-limited/onestable-bridge/internal/config"
	"github.com/OneStable-limited/onestable-bridge/internal/execution"
	"github.com/OneStable-limited/onestable-bridge/internal/lock"
	"github.com/OneStable-limited/onestable-bridge/internal/plan"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
	assert.Equal(t, exitMismatch, exitCode(&execution.MismatchError{NodeID: "M#A", Reason: "code changed"}))
	assert.Equal(t, exitLocked, exitCode(fmt.Errorf("deploy: %w", lock.ErrLocked)))
}

func TestLoadParameters_OverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
OnestableSourceBridgeProxyModule:
  token: "0x0000000000000000000000000000000000000001"
  destChainId: "97"
`), 0o600))

	params, err := loadParameters(path, []string{"OnestableSourceBridgeProxyModule.destChainId=5000"})
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000001", params["OnestableSourceBridgeProxyModule"]["token"])
	assert.Equal(t, "5000", params["OnestableSourceBridgeProxyModule"]["destChainId"])

	_, err = loadParameters("", []string{"no-equals-sign"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(&buf, config.LogConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = newLogger(&buf, config.LogConfig{Format: "xml"})
	assert.Error(t, err)
}

func sourceParams() plan.Parameters {
	params := plan.Parameters{}
	module := bridge.SourceSide.ProxyModuleID()
	params.Set(module, "token", "0x0000000000000000000000000000000000000001")
	params.Set(module, "destChainId", "97")
	params.Set(module, "destTokenAddress", "0x0000000000000000000000000000000000000002")
	return params
}

func TestSummarizePlan(t *testing.T) {
	for _, tc := range []struct {
		wire         bool
		transactions int
		batches      int
	}{
		{wire: true, transactions: 4, batches: 5},
		{wire: false, transactions: 3, batches: 4},
	} {
		t.Run(fmt.Sprintf("wire=%v", tc.wire), func(t *testing.T) {
			p, err := plan.Build(bridge.Source.Deployment(bridge.Options{AutoWireAdapter: tc.wire}))
			require.NoError(t, err)
			deployer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
			resolved, err := plan.Resolve(p, sourceParams(), []common.Address{deployer})
			require.NoError(t, err)

			s := summarizePlan(p, resolved)
			assert.Equal(t, tc.transactions, s.Transactions)
			assert.Len(t, s.Batches, tc.batches)
			assert.Equal(t, deployer.Hex(), s.Parameters[bridge.SourceSide.ProxyModuleID()+".defaultAdmin"])

			var buf bytes.Buffer
			writePlan(&buf, "bscTestnet", s)
			assert.Contains(t, buf.String(), bridge.SourceSide.ProxyID())
		})
	}
}

type stubEncoder struct{}

func (stubEncoder) EncodeCall(contract, method string, args []any) ([]byte, error) {
	return []byte(contract + "." + method), nil
}

func TestWriteManualWiring(t *testing.T) {
	side := bridge.SourceSide
	bridgeAddr := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	adapterAddr := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	result := &execution.Result{Nodes: []execution.NodeResult{
		{ID: side.BridgeID(), Status: execution.StatusConfirmed, Address: bridgeAddr},
		{ID: side.AdapterID(), Status: execution.StatusConfirmed, Address: adapterAddr},
	}}

	var buf bytes.Buffer
	require.NoError(t, writeManualWiring(&buf, stubEncoder{}, result))
	assert.Contains(t, buf.String(), "to:   "+bridgeAddr.Hex())
	assert.Contains(t, buf.String(), adapterAddr.Hex())

	buf.Reset()
	require.NoError(t, writeManualWiring(&buf, stubEncoder{}, &execution.Result{}))
	assert.Empty(t, buf.String())
}
