package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/OneStable-limited/onestable-bridge/internal/metrics"
	"github.com/OneStable-limited/onestable-bridge/internal/repository"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
	Meta *struct {
		Total int64 `json:"total"`
	} `json:"meta"`
}

func seededStore(t *testing.T) repository.Store {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.SaveNetwork(ctx, &repository.NetworkRecord{
		Network: "bscTestnet",
		ChainID: 97,
		RunID:   uuid.New(),
		Status:  repository.RunCompleted,
	}))
	for _, n := range []*repository.NodeRecord{
		{NodeID: "SourceDeploymentModule#OnestableSourceBridge.setMessageAdapter", Kind: "call", Status: repository.StatusFailed, Error: "reverted"},
		{NodeID: "OnestableSourceBridgeProxyModule#OnestableSourceBridgeProxy", Kind: "contract", ContractName: "OnestableSourceBridgeProxy", Status: repository.StatusConfirmed, Address: "0x00000000000000000000000000000000000000b2", RawTx: "0xf86b"},
		{NodeID: "OnestableSourceBridgeModule#OnestableSourceBridge", Kind: "contract_at", ContractName: "OnestableSourceBridge", Status: repository.StatusConfirmed, Address: "0x00000000000000000000000000000000000000b2"},
	} {
		n.Network = "bscTestnet"
		require.NoError(t, store.PutNode(ctx, n))
	}
	return store
}

func newTestRouter(store repository.Store, checks map[string]Check) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(RouterConfig{
		Status:  NewStatusHandler(store, logger),
		Metrics: metrics.New(),
		Checks:  checks,
		Logger:  logger,
	})
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestStatusHandler_ListNetworks(t *testing.T) {
	h := newTestRouter(seededStore(t), nil)

	rec, env := get(t, h, "/v1/networks")
	require.Equal(t, http.StatusOK, rec.Code)

	var networks []repository.NetworkRecord
	require.NoError(t, json.Unmarshal(env.Data, &networks))
	require.Len(t, networks, 1)
	assert.Equal(t, int64(97), networks[0].ChainID)
	assert.Equal(t, int64(1), env.Meta.Total)
}

func TestStatusHandler_GetNetworkCountsNodes(t *testing.T) {
	h := newTestRouter(seededStore(t), nil)

	rec, env := get(t, h, "/v1/networks/bscTestnet")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary struct {
		Network string         `json:"network"`
		Nodes   map[string]int `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, "bscTestnet", summary.Network)
	assert.Equal(t, map[string]int{"confirmed": 2, "failed": 1}, summary.Nodes)
}

func TestStatusHandler_UnknownNetwork(t *testing.T) {
	h := newTestRouter(seededStore(t), nil)

	rec, env := get(t, h, "/v1/networks/mainnet")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestStatusHandler_ListNodesFilters(t *testing.T) {
	h := newTestRouter(seededStore(t), nil)

	rec, env := get(t, h, "/v1/networks/bscTestnet/nodes?status=confirmed&kind=contract")
	require.Equal(t, http.StatusOK, rec.Code)

	var nodes []repository.NodeRecord
	require.NoError(t, json.Unmarshal(env.Data, &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "OnestableSourceBridgeProxyModule#OnestableSourceBridgeProxy", nodes[0].NodeID)
	assert.Empty(t, nodes[0].RawTx)
}

func TestStatusHandler_ListNodesRejectsUnknownStatus(t *testing.T) {
	h := newTestRouter(seededStore(t), nil)

	rec, env := get(t, h, "/v1/networks/bscTestnet/nodes?status=mined")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation_error", env.Error.Code)
	assert.Equal(t, "Status", env.Error.Details["field"])
}

func TestStatusHandler_GetNodeEscapedID(t *testing.T) {
	h := newTestRouter(seededStore(t), nil)

	rec, env := get(t, h, "/v1/networks/bscTestnet/nodes/SourceDeploymentModule%23OnestableSourceBridge.setMessageAdapter")
	require.Equal(t, http.StatusOK, rec.Code)

	var node repository.NodeRecord
	require.NoError(t, json.Unmarshal(env.Data, &node))
	assert.Equal(t, repository.StatusFailed, node.Status)
	assert.Equal(t, "reverted", node.Error)
}

type mockStore struct {
	mock.Mock
	repository.Store
}

func (m *mockStore) ListNetworks(ctx context.Context) ([]*repository.NetworkRecord, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]*repository.NetworkRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestStatusHandler_StoreFailure(t *testing.T) {
	store := new(mockStore)
	store.On("ListNetworks", mock.Anything).Return(nil, errors.New("connection refused"))
	h := newTestRouter(store, nil)

	rec, env := get(t, h, "/v1/networks")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "internal_error", env.Error.Code)
	store.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	h := newTestRouter(seededStore(t), map[string]Check{
		"state": func(context.Context) error { return nil },
	})
	rec, _ := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	h = newTestRouter(seededStore(t), map[string]Check{
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	rec, env := get(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "redis", env.Error.Details["component"])
}

func TestRouter_ServesMetrics(t *testing.T) {
	h := newTestRouter(seededStore(t), nil)
	get(t, h, "/v1/networks")

	rec, _ := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bridge_deployer_http_requests_total{method="GET",path="/v1/networks`)
}
