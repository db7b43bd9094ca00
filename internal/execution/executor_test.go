package execution

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OneStable-limited/onestable-bridge/internal/bridge"
	"github.com/OneStable-limited/onestable-bridge/internal/plan"
	"github.com/OneStable-limited/onestable-bridge/internal/repository"
)

const (
	implLabel    = "deploy:OnestableSourceBridge"
	proxyLabel   = "deploy:OnestableSourceBridgeProxy"
	adapterLabel = "deploy:OnestableSourceRelayerAdapter"
	wiringLabel  = "call:OnestableSourceBridge.setMessageAdapter"
)

var (
	tokenAddress = "0x00000000000000000000000000000000000000e1"
	peerAddress  = "0x00000000000000000000000000000000000000e2"
	adminAddress = common.HexToAddress("0x00000000000000000000000000000000000000ad")
)

type harness struct {
	t         *testing.T
	transport *fakeTransport
	artifacts Artifacts
	store     repository.Store
	opts      bridge.Options
	params    plan.Parameters
	timeout   time.Duration
}

func newHarness(t *testing.T) *harness {
	params := plan.Parameters{}
	module := bridge.SourceSide.ProxyModuleID()
	params.Set(module, "token", tokenAddress)
	params.Set(module, "destChainId", "97")
	params.Set(module, "destTokenAddress", peerAddress)
	params.Set(module, bridge.ParamDefaultAdmin, adminAddress.Hex())

	return &harness{
		t:         t,
		transport: newFakeTransport(),
		artifacts: fakeArtifacts{},
		store:     repository.NewMemoryStore(),
		opts:      bridge.DefaultOptions(),
		params:    params,
		timeout:   time.Second,
	}
}

func (h *harness) run() (*Result, error) {
	h.t.Helper()
	p, err := plan.Build(bridge.Source.Deployment(h.opts))
	require.NoError(h.t, err)
	resolved, err := plan.Resolve(p, h.params, []common.Address{h.transport.Sender()})
	require.NoError(h.t, err)

	exec := NewExecutor(p, resolved, h.artifacts, h.transport, h.store, Options{
		Network:        "bscTestnet",
		MaxParallel:    2,
		ReceiptTimeout: h.timeout,
	})
	return exec.Run(context.Background())
}

func indexOf(events []string, event string) int {
	for i, e := range events {
		if e == event {
			return i
		}
	}
	return -1
}

func TestRun_DeploysSourcePipelineInOrder(t *testing.T) {
	h := newHarness(t)

	result, err := h.run()
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 4, result.Transactions)
	assert.Equal(t, int64(97), result.ChainID)

	events := h.transport.eventLog()
	assert.Equal(t, []string{
		"sign " + implLabel, "broadcast " + implLabel, "mined " + implLabel,
		"sign " + proxyLabel, "broadcast " + proxyLabel, "mined " + proxyLabel,
		"sign " + adapterLabel, "broadcast " + adapterLabel, "mined " + adapterLabel,
		"sign " + wiringLabel, "broadcast " + wiringLabel, "mined " + wiringLabel,
	}, events)

	side := bridge.SourceSide
	impl, ok := result.Address(side.ImplementationID())
	require.True(t, ok)
	proxy, ok := result.Address(side.ProxyID())
	require.True(t, ok)
	handle, ok := result.Address(side.BridgeID())
	require.True(t, ok)
	adapter, ok := result.Address(side.AdapterID())
	require.True(t, ok)
	assert.Equal(t, proxy, handle)
	assert.NotEqual(t, impl, proxy)

	proxyTx := h.transport.byLabel(proxyLabel)
	assert.Contains(t, string(proxyTx.data), impl.Hex())

	adapterTx := h.transport.byLabel(adapterLabel)
	sender := h.transport.Sender().Hex()
	assert.Contains(t, string(adapterTx.data), "["+sender+" "+sender+" "+proxy.Hex()+"]")

	wiring := h.transport.byLabel(wiringLabel)
	require.NotNil(t, wiring.signed.To)
	assert.Equal(t, proxy, *wiring.signed.To)
	assert.Contains(t, string(wiring.data), "["+adapter.Hex()+" true]")

	n, ok := result.Node(side.WiringID())
	require.True(t, ok)
	assert.Equal(t, StatusConfirmed, n.Status)
	assert.NotEmpty(t, n.TxHash)
}

func TestRun_StoresRecords(t *testing.T) {
	h := newHarness(t)
	_, err := h.run()
	require.NoError(t, err)

	ctx := context.Background()
	proxy, err := h.store.GetNode(ctx, "bscTestnet", bridge.SourceSide.ProxyID())
	require.NoError(t, err)
	assert.Equal(t, repository.StatusConfirmed, proxy.Status)
	assert.NotEmpty(t, proxy.InputHash)
	assert.NotEmpty(t, proxy.CodeHash)
	assert.NotEmpty(t, proxy.RawTx)
	assert.NotEmpty(t, proxy.ConstructorArgs)
	require.NotNil(t, proxy.Nonce)
	assert.Equal(t, uint64(1), *proxy.Nonce)

	handle, err := h.store.GetNode(ctx, "bscTestnet", bridge.SourceSide.BridgeID())
	require.NoError(t, err)
	assert.Equal(t, proxy.Address, handle.Address)
	assert.Empty(t, handle.TxHash)

	network, err := h.store.GetNetwork(ctx, "bscTestnet")
	require.NoError(t, err)
	assert.Equal(t, int64(97), network.ChainID)
	assert.Equal(t, repository.RunCompleted, network.Status)
}

func TestRun_RerunIssuesNoTransactions(t *testing.T) {
	h := newHarness(t)
	first, err := h.run()
	require.NoError(t, err)
	sent := h.transport.count("sign ")

	second, err := h.run()
	require.NoError(t, err)
	assert.Equal(t, 0, second.Transactions)
	assert.Equal(t, sent, h.transport.count("sign "))
	assert.NotEqual(t, first.RunID, second.RunID)

	for _, n := range first.Nodes {
		again, ok := second.Node(n.ID)
		require.True(t, ok)
		assert.Equal(t, n.Address, again.Address, n.ID)
		assert.Equal(t, n.TxHash, again.TxHash, n.ID)
	}
}

func TestRun_WiringWaitsForAdapterConfirmation(t *testing.T) {
	h := newHarness(t)
	_, err := h.run()
	require.NoError(t, err)

	events := h.transport.eventLog()
	mined := indexOf(events, "mined "+adapterLabel)
	signed := indexOf(events, "sign "+wiringLabel)
	require.NotEqual(t, -1, mined)
	assert.Less(t, mined, signed)
}

func TestRun_WithoutWiring(t *testing.T) {
	h := newHarness(t)
	h.opts.AutoWireAdapter = false

	result, err := h.run()
	require.NoError(t, err)
	assert.Equal(t, 3, result.Transactions)
	assert.Equal(t, 0, h.transport.count("sign "+wiringLabel))
	_, ok := result.Node(bridge.SourceSide.WiringID())
	assert.False(t, ok)
}

func TestRun_FailedNodeBlocksDependents(t *testing.T) {
	h := newHarness(t)
	h.transport.revert = func(l string) bool { return l == adapterLabel }

	result, err := h.run()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmission)

	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, bridge.SourceSide.AdapterID(), nodeErr.NodeID)
	assert.Contains(t, err.Error(), "reverted")

	require.NotNil(t, result)
	adapter, _ := result.Node(bridge.SourceSide.AdapterID())
	assert.Equal(t, StatusFailed, adapter.Status)
	assert.Contains(t, adapter.Error, "reverted")

	wiring, _ := result.Node(bridge.SourceSide.WiringID())
	assert.Equal(t, StatusPending, wiring.Status)
	assert.Equal(t, []string{bridge.SourceSide.AdapterID()}, wiring.BlockedBy)
	assert.Equal(t, []string{bridge.SourceSide.WiringID()}, result.Blocked())
	assert.Equal(t, 0, h.transport.count("sign "+wiringLabel))

	network, err := h.store.GetNetwork(context.Background(), "bscTestnet")
	require.NoError(t, err)
	assert.Equal(t, repository.RunFailed, network.Status)
}

func TestRun_RetriesFailedNodeOnNextRun(t *testing.T) {
	h := newHarness(t)
	h.transport.revert = func(l string) bool { return l == adapterLabel }
	_, err := h.run()
	require.Error(t, err)

	h.transport.revert = nil
	result, err := h.run()
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 2, result.Transactions)
	assert.Equal(t, 1, h.transport.count("sign "+implLabel))
	assert.Equal(t, 1, h.transport.count("sign "+proxyLabel))
	assert.Equal(t, 2, h.transport.count("sign "+adapterLabel))
}

func TestRun_RetriesFailedBindingOnNextRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SaveNetwork(ctx, &repository.NetworkRecord{
		Network: "bscTestnet",
		ChainID: 97,
		RunID:   uuid.New(),
		Status:  repository.RunFailed,
	}))
	require.NoError(t, h.store.PutNode(ctx, &repository.NodeRecord{
		Network: "bscTestnet",
		NodeID:  bridge.SourceSide.BridgeID(),
		Kind:    string(plan.KindContractAt),
		Status:  repository.StatusFailed,
		Error:   "address of bridge: not an address",
	}))

	result, err := h.run()
	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	rec, err := h.store.GetNode(ctx, "bscTestnet", bridge.SourceSide.BridgeID())
	require.NoError(t, err)
	assert.Equal(t, repository.StatusConfirmed, rec.Status)
	proxy, ok := result.Address(bridge.SourceSide.ProxyID())
	require.True(t, ok)
	assert.Equal(t, proxy.Hex(), rec.Address)
	assert.Equal(t, repository.KindContractAt, string(plan.KindContractAt))
}

func TestRun_InvalidParameterSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.artifacts = addressCheckingArtifacts{}
	h.params.Set(bridge.SourceSide.ProxyModuleID(), "token", "0xToken")

	result, err := h.run()
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "0xToken")

	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "preflight", nodeErr.Op)
	assert.Equal(t, bridge.SourceSide.ProxyID(), nodeErr.NodeID)

	assert.Equal(t, 0, h.transport.count("sign "))
	_, err = h.store.GetNetwork(context.Background(), "bscTestnet")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPreflight_ReportsEveryInvalidNode(t *testing.T) {
	p, err := plan.Build(bridge.Source.Deployment(bridge.DefaultOptions()))
	require.NoError(t, err)
	params := plan.Parameters{}
	module := bridge.SourceSide.ProxyModuleID()
	params.Set(module, "token", "0xToken")
	params.Set(module, "destChainId", "97")
	params.Set(module, "destTokenAddress", peerAddress)
	params.Set(bridge.SourceSide.AdapterModuleID(), "authorizedSigner", "signer")
	resolved, err := plan.Resolve(p, params, []common.Address{adminAddress})
	require.NoError(t, err)

	err = Preflight(p, resolved, addressCheckingArtifacts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), bridge.SourceSide.ProxyID())
	assert.Contains(t, err.Error(), bridge.SourceSide.AdapterID())

	params.Set(module, "token", tokenAddress)
	params.Set(bridge.SourceSide.AdapterModuleID(), "authorizedSigner", adminAddress.Hex())
	resolved, err = plan.Resolve(p, params, []common.Address{adminAddress})
	require.NoError(t, err)
	assert.NoError(t, Preflight(p, resolved, addressCheckingArtifacts{}))
}

func TestRun_SignFailureSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.transport.signErr = func(l string) error {
		if l == implLabel {
			return errors.New("insufficient funds for gas * price + value")
		}
		return nil
	}

	result, err := h.run()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.Equal(t, 0, h.transport.count("broadcast "))
	assert.Equal(t, 0, result.Transactions)

	assert.ElementsMatch(t, []string{
		bridge.SourceSide.ProxyID(),
		bridge.SourceSide.BridgeID(),
		bridge.SourceSide.AdapterID(),
		bridge.SourceSide.WiringID(),
	}, result.Blocked())
}

func TestRun_RecoversSubmittedNode(t *testing.T) {
	h := newHarness(t)
	h.timeout = 50 * time.Millisecond
	h.transport.hold = func(l string) bool { return l == proxyLabel }

	_, err := h.run()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rec, err := h.store.GetNode(context.Background(), "bscTestnet", bridge.SourceSide.ProxyID())
	require.NoError(t, err)
	assert.Equal(t, repository.StatusSubmitted, rec.Status)

	// The transaction lands between runs.
	h.transport.hold = nil
	h.transport.mine(proxyLabel)

	result, err := h.run()
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 1, h.transport.count("sign "+proxyLabel))
	assert.Equal(t, 1, h.transport.count("broadcast "+proxyLabel))
	assert.Equal(t, 2, result.Transactions)
}

func TestRun_RebroadcastsPendingSubmittedNode(t *testing.T) {
	h := newHarness(t)
	h.timeout = 50 * time.Millisecond
	h.transport.hold = func(l string) bool { return l == proxyLabel }
	_, err := h.run()
	require.Error(t, err)

	h.transport.hold = nil
	result, err := h.run()
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 1, h.transport.count("sign "+proxyLabel))
	assert.Equal(t, 2, h.transport.count("broadcast "+proxyLabel))
}

func TestRun_DroppedSubmittedNodeFails(t *testing.T) {
	h := newHarness(t)
	h.timeout = 50 * time.Millisecond
	h.transport.hold = func(l string) bool { return l == proxyLabel }
	_, err := h.run()
	require.Error(t, err)

	h.transport.hold = nil
	h.transport.consumeNonce()

	result, err := h.run()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.Contains(t, err.Error(), "dropped or replaced")

	proxy, _ := result.Node(bridge.SourceSide.ProxyID())
	assert.Equal(t, StatusFailed, proxy.Status)

	// An explicit re-run signs a fresh transaction.
	result, err = h.run()
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 2, h.transport.count("sign "+proxyLabel))
}

func TestRun_ChainIDMismatch(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveNetwork(context.Background(), &repository.NetworkRecord{
		Network: "bscTestnet",
		ChainID: 56,
	}))

	result, err := h.run()
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrResumptionMismatch)
	assert.Contains(t, err.Error(), "chain 56")
	assert.Equal(t, 0, h.transport.count("sign "))
}

func TestRun_MissingCodeIsMismatch(t *testing.T) {
	h := newHarness(t)
	_, err := h.run()
	require.NoError(t, err)

	// The network was reset.
	h.transport.mu.Lock()
	h.transport.code = make(map[common.Address][]byte)
	h.transport.mu.Unlock()

	_, err = h.run()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResumptionMismatch)

	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, bridge.SourceSide.ImplementationID(), mismatch.NodeID)
	assert.True(t, strings.Contains(mismatch.Reason, "no code"))
}

func TestRun_ChangedInputsAreMismatch(t *testing.T) {
	h := newHarness(t)
	_, err := h.run()
	require.NoError(t, err)

	h.params.Set(bridge.SourceSide.ProxyModuleID(), "token", "0x00000000000000000000000000000000000000f9")
	_, err = h.run()
	require.Error(t, err)

	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, bridge.SourceSide.ProxyID(), mismatch.NodeID)
	assert.Equal(t, 4, h.transport.count("sign "))
}
