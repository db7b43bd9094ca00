package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModules() (proxy, bridge, adapter, deployment *ModuleDefinition) {
	proxy = NewModule("ProxyModule", func(m *Builder) Results {
		admin := m.GetParameterOr("admin", m.GetAccount(0))
		impl := m.Contract("Bridge", nil, WithID("BridgeImplementation"))
		p := m.Contract("BridgeProxy", []any{
			impl,
			m.EncodeFunctionCall(impl, "initialize", []any{admin}),
		}, WithID("BridgeProxy"))
		return Results{"proxy": p, "implementation": impl}
	})
	bridge = NewModule("BridgeModule", func(m *Builder) Results {
		r := m.UseModule(proxy)
		return Results{"bridge": m.ContractAt("Bridge", r["proxy"])}
	})
	adapter = NewModule("AdapterModule", func(m *Builder) Results {
		b := m.UseModule(bridge).Contract("bridge")
		return Results{"adapter": m.Contract("Adapter", []any{m.GetParameterOr("owner", m.GetAccount(0)), b})}
	})
	deployment = NewModule("DeploymentModule", func(m *Builder) Results {
		b := m.UseModule(bridge).Contract("bridge")
		a := m.UseModule(adapter).Contract("adapter")
		m.Call(b, "setMessageAdapter", []any{a, true})
		return Results{"bridge": b, "adapter": a}
	})
	return
}

func ids(futures []Future) []string {
	out := make([]string, 0, len(futures))
	for _, f := range futures {
		out = append(out, f.ID())
	}
	return out
}

func TestBuild_ModuleReuseSharesFutures(t *testing.T) {
	_, _, _, deployment := testModules()

	p, err := Build(deployment)
	require.NoError(t, err)

	// BridgeModule is used by both DeploymentModule and AdapterModule.
	assert.Len(t, p.Futures(), 5)
	assert.Len(t, p.Modules(), 4)

	bridgeFuture, ok := p.Future("BridgeModule#Bridge")
	require.True(t, ok)

	root := p.Root()
	assert.Same(t, bridgeFuture, root.Results["bridge"])

	adapterFuture, ok := p.Future("AdapterModule#Adapter")
	require.True(t, ok)
	deps := adapterFuture.Dependencies()
	require.Len(t, deps, 1)
	assert.Same(t, bridgeFuture, deps[0])
}

func TestBuild_FutureIDs(t *testing.T) {
	_, _, _, deployment := testModules()

	p, err := Build(deployment)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ProxyModule#BridgeImplementation",
		"ProxyModule#BridgeProxy",
		"BridgeModule#Bridge",
		"AdapterModule#Adapter",
		"DeploymentModule#Bridge.setMessageAdapter",
	}, ids(p.Futures()))
}

func TestBuild_BatchesFollowDependencies(t *testing.T) {
	_, _, _, deployment := testModules()

	p, err := Build(deployment)
	require.NoError(t, err)

	batches := p.Batches()
	require.Len(t, batches, 5)
	position := make(map[string]int)
	for i, batch := range batches {
		for _, f := range batch {
			position[f.ID()] = i
		}
	}
	for _, f := range p.Futures() {
		for _, dep := range f.Dependencies() {
			assert.Less(t, position[dep.ID()], position[f.ID()], "%s must run after %s", f.ID(), dep.ID())
		}
	}
}

func TestBuild_IndependentFuturesShareBatch(t *testing.T) {
	def := NewModule("Parallel", func(m *Builder) Results {
		a := m.Contract("A", nil)
		b := m.Contract("B", nil)
		c := m.Contract("C", []any{a, b})
		return Results{"c": c}
	})

	p, err := Build(def)
	require.NoError(t, err)

	batches := p.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"Parallel#A", "Parallel#B"}, ids(batches[0]))
	assert.Equal(t, []string{"Parallel#C"}, ids(batches[1]))
}

func TestBuild_Dependents(t *testing.T) {
	_, _, _, deployment := testModules()

	p, err := Build(deployment)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"AdapterModule#Adapter",
		"BridgeModule#Bridge",
		"DeploymentModule#Bridge.setMessageAdapter",
		"ProxyModule#BridgeProxy",
	}, p.Dependents("ProxyModule#BridgeImplementation"))
	assert.Empty(t, p.Dependents("DeploymentModule#Bridge.setMessageAdapter"))
}

func TestBuild_DuplicateFutureID(t *testing.T) {
	def := NewModule("Dup", func(m *Builder) Results {
		m.Contract("Token", nil)
		m.Contract("Token", nil)
		return nil
	})

	_, err := Build(def)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestBuild_DistinctDefinitionsWithSameID(t *testing.T) {
	a := NewModule("Shared", func(m *Builder) Results { return Results{"x": m.Contract("X", nil)} })
	b := NewModule("Shared", func(m *Builder) Results { return Results{"y": m.Contract("Y", nil)} })
	root := NewModule("Root", func(m *Builder) Results {
		m.UseModule(a)
		m.UseModule(b)
		return nil
	})

	_, err := Build(root)
	assert.ErrorIs(t, err, ErrDuplicateModule)
}

func TestBuild_ModuleCycle(t *testing.T) {
	var first, second *ModuleDefinition
	first = NewModule("First", func(m *Builder) Results {
		m.UseModule(second)
		return nil
	})
	second = NewModule("Second", func(m *Builder) Results {
		m.UseModule(first)
		return nil
	})

	_, err := Build(first)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDependencyCycle)

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"First", "Second", "First"}, cycle.Path)
}

func TestBuild_ForeignFutureRejected(t *testing.T) {
	other, err := Build(NewModule("Other", func(m *Builder) Results {
		return Results{"x": m.Contract("X", nil)}
	}))
	require.NoError(t, err)
	foreign := other.Root().Results["x"]

	_, err = Build(NewModule("Main", func(m *Builder) Results {
		m.Contract("Y", []any{foreign})
		return nil
	}))
	assert.ErrorIs(t, err, ErrUnknownFuture)
}

func TestBuild_CallWithoutContract(t *testing.T) {
	_, err := Build(NewModule("Main", func(m *Builder) Results {
		m.Call(nil, "setMessageAdapter", nil)
		return nil
	}))
	assert.ErrorIs(t, err, ErrInvalidModule)
}

func TestBuild_NilDefinition(t *testing.T) {
	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrInvalidModule)
}

func TestTopoBatches_DetectsCycle(t *testing.T) {
	a := &Contract{baseFuture: baseFuture{id: "M#A"}, contractName: "A"}
	b := &Contract{baseFuture: baseFuture{id: "M#B"}, contractName: "B"}
	c := &Contract{baseFuture: baseFuture{id: "M#C"}, contractName: "C"}
	a.Args = []any{b}
	b.Args = []any{a}
	c.Args = []any{a}

	_, err := topoBatches(map[string]Future{a.id: a, b.id: b, c.id: c})
	require.Error(t, err)

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"M#A", "M#B", "M#A"}, cycle.Path)
}

func TestCollectDependencies_EncodedCallAndLists(t *testing.T) {
	impl := &Contract{baseFuture: baseFuture{id: "M#Impl"}, contractName: "Impl"}
	token := &Contract{baseFuture: baseFuture{id: "M#Token"}, contractName: "Token"}
	proxy := &Contract{
		baseFuture:   baseFuture{id: "M#Proxy"},
		contractName: "Proxy",
		Args: []any{
			impl,
			&EncodedCall{Contract: impl, Method: "initialize", Args: []any{[]any{token}, "literal"}},
		},
	}

	assert.Equal(t, []string{"M#Impl", "M#Token"}, ids(proxy.Dependencies()))
}
