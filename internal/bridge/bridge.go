// Package bridge declares the deployment modules of the Onestable token
// bridge: an upgradeable bridge proxy, a bridge handle bound to the proxy
// address, and a relayer adapter wired into the bridge. The source and
// destination chains run the same pipeline with different contracts and
// initializer parameters.
package bridge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/OneStable-limited/onestable-bridge/internal/plan"
)

// DefaultMaxConfirmationPeriod is the default maxConfirmationPeriod, in
// seconds.
const DefaultMaxConfirmationPeriod uint64 = 86400

// Parameter names shared by both sides.
const (
	ParamDefaultAdmin          = "defaultAdmin"
	ParamPauser                = "pauser"
	ParamUpgrader              = "upgrader"
	ParamMaxConfirmationPeriod = "maxConfirmationPeriod"
	ParamOwner                 = "owner"
	ParamAuthorizedSigner      = "authorizedSigner"
)

// Methods invoked by the pipeline.
const (
	InitializeMethod        = "initialize"
	SetMessageAdapterMethod = "setMessageAdapter"
)

// Result keys exported by the modules.
const (
	ResultProxy          = "proxy"
	ResultImplementation = "implementation"
	ResultAdapter        = "adapter"
)

// Side describes the contracts and parameters of one end of the bridge.
type Side struct {
	// Name is the short name used on the command line.
	Name string
	// Title prefixes module and future ids, e.g. "Source".
	Title string
	// BridgeContract, ProxyContract and AdapterContract are artifact names.
	BridgeContract  string
	ProxyContract   string
	AdapterContract string
	// DomainParams are the required leading initializer parameters, in
	// initializer order.
	DomainParams []string
	// BridgeResult is the key under which the bridge handle is exported.
	BridgeResult string
	// DeploymentModuleID is the id of the composed plan.
	DeploymentModuleID string
}

// ProxyModuleID returns the id of the proxy deployment module.
func (s Side) ProxyModuleID() string { return "Onestable" + s.Title + "BridgeProxyModule" }

// BridgeModuleID returns the id of the bridge resolution module.
func (s Side) BridgeModuleID() string { return "Onestable" + s.Title + "BridgeModule" }

// AdapterModuleID returns the id of the adapter deployment module.
func (s Side) AdapterModuleID() string { return "Onestable" + s.Title + "RelayerAdapterModule" }

// ImplementationID returns the future id of the bridge implementation.
func (s Side) ImplementationID() string {
	return s.ProxyModuleID() + "#" + s.BridgeContract + "Implementation"
}

// ProxyID returns the future id of the bridge proxy.
func (s Side) ProxyID() string { return s.ProxyModuleID() + "#" + s.ProxyContract }

// BridgeID returns the future id of the bridge handle.
func (s Side) BridgeID() string { return s.BridgeModuleID() + "#" + s.BridgeContract }

// AdapterID returns the future id of the relayer adapter.
func (s Side) AdapterID() string { return s.AdapterModuleID() + "#" + s.AdapterContract }

// WiringID returns the future id of the setMessageAdapter call.
func (s Side) WiringID() string {
	return s.DeploymentModuleID + "#" + s.BridgeContract + "." + SetMessageAdapterMethod
}

var (
	// SourceSide is the chain holding the canonical token.
	SourceSide = Side{
		Name:               "source",
		Title:              "Source",
		BridgeContract:     "OnestableSourceBridge",
		ProxyContract:      "OnestableSourceBridgeProxy",
		AdapterContract:    "OnestableSourceRelayerAdapter",
		DomainParams:       []string{"token", "destChainId", "destTokenAddress"},
		BridgeResult:       "sourceBridge",
		DeploymentModuleID: "SourceDeploymentModule",
	}

	// DestinationSide is the chain holding the bridged token.
	DestinationSide = Side{
		Name:               "destination",
		Title:              "Destination",
		BridgeContract:     "OnestableDestinationBridge",
		ProxyContract:      "OnestableDestinationBridgeProxy",
		AdapterContract:    "OnestableDestinationRelayerAdapter",
		DomainParams:       []string{"bridgedToken", "srcChainIds", "srcTokenAddresses"},
		BridgeResult:       "destinationBridge",
		DeploymentModuleID: "DestinationDeploymentModule",
	}
)

// Options configure the composed deployment plan.
type Options struct {
	// AutoWireAdapter adds the setMessageAdapter call to the plan. It
	// requires the deployer to hold admin rights on the bridge; leave it off
	// when the bridge owner is a different identity and send the call
	// separately.
	AutoWireAdapter bool
}

// DefaultOptions wires the adapter.
func DefaultOptions() Options {
	return Options{AutoWireAdapter: true}
}

// Pipeline holds the module definitions of one side.
type Pipeline struct {
	Side Side

	// Proxy deploys the implementation and a proxy initialized in its
	// constructor.
	Proxy *plan.ModuleDefinition
	// Bridge binds the bridge interface to the proxy address.
	Bridge *plan.ModuleDefinition
	// Adapter deploys the relayer adapter bound to the bridge.
	Adapter *plan.ModuleDefinition
}

var (
	// Source is the source chain pipeline.
	Source = newPipeline(SourceSide)
	// Destination is the destination chain pipeline.
	Destination = newPipeline(DestinationSide)
)

func newPipeline(side Side) *Pipeline {
	p := &Pipeline{Side: side}

	p.Proxy = plan.NewModule(side.ProxyModuleID(), func(m *plan.Builder) plan.Results {
		defaultAdmin := m.GetParameterOr(ParamDefaultAdmin, m.GetAccount(0))
		pauser := m.GetParameterOr(ParamPauser, m.GetAccount(0))
		upgrader := m.GetParameterOr(ParamUpgrader, m.GetAccount(0))

		initArgs := make([]any, 0, len(side.DomainParams)+4)
		for _, name := range side.DomainParams {
			initArgs = append(initArgs, m.GetParameter(name))
		}
		maxConfirmationPeriod := m.GetParameterOr(ParamMaxConfirmationPeriod, DefaultMaxConfirmationPeriod)
		initArgs = append(initArgs, maxConfirmationPeriod, defaultAdmin, pauser, upgrader)

		implementation := m.Contract(side.BridgeContract, nil,
			plan.WithID(side.BridgeContract+"Implementation"))
		proxy := m.Contract(side.ProxyContract, []any{
			implementation,
			m.EncodeFunctionCall(implementation, InitializeMethod, initArgs),
		}, plan.WithID(side.ProxyContract))

		return plan.Results{ResultProxy: proxy, ResultImplementation: implementation}
	})

	p.Bridge = plan.NewModule(side.BridgeModuleID(), func(m *plan.Builder) plan.Results {
		proxy := m.UseModule(p.Proxy)[ResultProxy]
		return plan.Results{side.BridgeResult: m.ContractAt(side.BridgeContract, proxy)}
	})

	p.Adapter = plan.NewModule(side.AdapterModuleID(), func(m *plan.Builder) plan.Results {
		bridge := m.UseModule(p.Bridge).Contract(side.BridgeResult)
		owner := m.GetParameterOr(ParamOwner, m.GetAccount(0))
		authorizedSigner := m.GetParameterOr(ParamAuthorizedSigner, m.GetAccount(0))

		adapter := m.Contract(side.AdapterContract, []any{owner, authorizedSigner, bridge})
		return plan.Results{ResultAdapter: adapter}
	})

	return p
}

// Deployment returns the composed plan: proxy, bridge handle, adapter
// and, with AutoWireAdapter, the setMessageAdapter call.
func (p *Pipeline) Deployment(opts Options) *plan.ModuleDefinition {
	side := p.Side
	return plan.NewModule(side.DeploymentModuleID, func(m *plan.Builder) plan.Results {
		bridge := m.UseModule(p.Bridge).Contract(side.BridgeResult)
		adapter := m.UseModule(p.Adapter).Contract(ResultAdapter)

		if opts.AutoWireAdapter {
			m.Call(bridge, SetMessageAdapterMethod, []any{adapter, true})
		}

		return plan.Results{side.BridgeResult: bridge, ResultAdapter: adapter}
	})
}

// Pipelines returns both pipelines.
func Pipelines() []*Pipeline {
	return []*Pipeline{Source, Destination}
}

// ModuleByName resolves a module by its id or by a side's short name, which
// selects the composed deployment plan.
func ModuleByName(name string, opts Options) (*plan.ModuleDefinition, error) {
	var known []string
	for _, p := range Pipelines() {
		switch name {
		case p.Side.Name, p.Side.DeploymentModuleID:
			return p.Deployment(opts), nil
		case p.Side.ProxyModuleID():
			return p.Proxy, nil
		case p.Side.BridgeModuleID():
			return p.Bridge, nil
		case p.Side.AdapterModuleID():
			return p.Adapter, nil
		}
		known = append(known, p.Side.Name, p.Side.DeploymentModuleID,
			p.Side.ProxyModuleID(), p.Side.BridgeModuleID(), p.Side.AdapterModuleID())
	}
	sort.Strings(known)
	return nil, fmt.Errorf("unknown module %q (known: %s)", name, strings.Join(known, ", "))
}

// CallEncoder encodes contract calldata.
type CallEncoder interface {
	EncodeCall(contract, method string, args []any) ([]byte, error)
}

// WiringCall is the setMessageAdapter transaction the bridge owner sends
// when the plan does not wire the adapter.
type WiringCall struct {
	To   common.Address
	Data []byte
}

// ManualWiring encodes setMessageAdapter(adapter, true) for bridge.
func ManualWiring(enc CallEncoder, side Side, bridge, adapter common.Address) (*WiringCall, error) {
	data, err := enc.EncodeCall(side.BridgeContract, SetMessageAdapterMethod, []any{adapter, true})
	if err != nil {
		return nil, fmt.Errorf("encode adapter wiring: %w", err)
	}
	return &WiringCall{To: bridge, Data: data}, nil
}
