// Package plan builds deployment plans: graphs of contract creations,
// address bindings and calls, grouped into composable modules.
//
// A module is declared once with NewModule and built on demand. Using the
// same module from several parents yields the same futures, so shared
// stages are deployed once.
package plan

import (
	"fmt"
)

// Results are the futures a module exports to the modules that use it.
type Results map[string]Future

// Contract returns the exported contract future called name, or nil.
func (r Results) Contract(name string) ContractFuture {
	f, _ := r[name].(ContractFuture)
	return f
}

// BuildFunc declares a module's futures and returns its exports.
type BuildFunc func(m *Builder) Results

// ModuleDefinition is a named, not yet built module.
type ModuleDefinition struct {
	id    string
	build BuildFunc
}

// NewModule declares a module with the given id.
func NewModule(id string, fn BuildFunc) *ModuleDefinition {
	return &ModuleDefinition{id: id, build: fn}
}

// ID returns the module id.
func (d *ModuleDefinition) ID() string {
	return d.id
}

// Module is a built module.
type Module struct {
	ID         string
	Futures    []Future
	Results    Results
	Submodules []*Module
	Parameters []*Parameter
}

// FutureOption customizes a future at declaration.
type FutureOption func(*futureOptions)

type futureOptions struct {
	id    string
	after []Future
}

// WithID overrides the default future id. The final id is still prefixed
// with the module id.
func WithID(id string) FutureOption {
	return func(o *futureOptions) { o.id = id }
}

// After adds explicit dependencies on futures that are not referenced by
// arguments.
func After(futures ...Future) FutureOption {
	return func(o *futureOptions) { o.after = append(o.after, futures...) }
}

// composer owns every module built for one plan.
type composer struct {
	defs    map[string]*ModuleDefinition
	built   map[string]*Module
	stack   []string
	futures map[string]Future
	order   []*Module
	err     error
}

func newComposer() *composer {
	return &composer{
		defs:    make(map[string]*ModuleDefinition),
		built:   make(map[string]*Module),
		futures: make(map[string]Future),
	}
}

func (c *composer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *composer) use(def *ModuleDefinition) *Module {
	if def == nil || def.id == "" || def.build == nil {
		c.fail(fmt.Errorf("%w: module definition needs an id and a build function", ErrInvalidModule))
		return nil
	}

	if m, ok := c.built[def.id]; ok {
		if c.defs[def.id] != def {
			c.fail(fmt.Errorf("%w: %s", ErrDuplicateModule, def.id))
		}
		return m
	}

	for i, id := range c.stack {
		if id == def.id {
			path := append(append([]string{}, c.stack[i:]...), def.id)
			c.fail(&CycleError{Path: path})
			return nil
		}
	}

	c.stack = append(c.stack, def.id)
	defer func() { c.stack = c.stack[:len(c.stack)-1] }()

	m := &Module{ID: def.id}
	b := &Builder{c: c, module: m, params: make(map[string]*Parameter)}
	m.Results = def.build(b)
	if m.Results == nil {
		m.Results = Results{}
	}

	c.defs[def.id] = def
	c.built[def.id] = m
	c.order = append(c.order, m)
	return m
}

// Builder declares the futures of one module.
type Builder struct {
	c      *composer
	module *Module
	params map[string]*Parameter
}

// ModuleID returns the id of the module being built.
func (b *Builder) ModuleID() string {
	return b.module.ID
}

// GetParameter declares a required parameter.
func (b *Builder) GetParameter(name string) *Parameter {
	return b.parameter(name, nil, false)
}

// GetParameterOr declares a parameter that falls back to def. def may be
// an Account.
func (b *Builder) GetParameterOr(name string, def any) *Parameter {
	return b.parameter(name, def, true)
}

func (b *Builder) parameter(name string, def any, hasDefault bool) *Parameter {
	if p, ok := b.params[name]; ok {
		return p
	}
	p := &Parameter{Module: b.module.ID, Name: name, Default: def, HasDefault: hasDefault}
	b.params[name] = p
	b.module.Parameters = append(b.module.Parameters, p)
	return p
}

// GetAccount refers to the signing account at index.
func (b *Builder) GetAccount(index int) Account {
	return Account{Index: index}
}

// Contract declares the deployment of contractName with constructor args.
func (b *Builder) Contract(contractName string, args []any, opts ...FutureOption) *Contract {
	o := applyOptions(contractName, opts)
	c := &Contract{
		baseFuture:   baseFuture{id: b.futureID(o.id), module: b.module.ID, after: o.after},
		contractName: contractName,
		Args:         args,
	}
	b.register(c)
	return c
}

// ContractAt binds contractName's interface to address.
func (b *Builder) ContractAt(contractName string, address any, opts ...FutureOption) *ContractAt {
	o := applyOptions(contractName, opts)
	c := &ContractAt{
		baseFuture:   baseFuture{id: b.futureID(o.id), module: b.module.ID, after: o.after},
		contractName: contractName,
		Address:      address,
	}
	if address == nil {
		b.c.fail(fmt.Errorf("%w: %s has no address", ErrInvalidModule, c.id))
	}
	b.register(c)
	return c
}

// Call declares a transaction invoking method on contract.
func (b *Builder) Call(contract ContractFuture, method string, args []any, opts ...FutureOption) *Call {
	name := method
	if contract != nil {
		name = contract.ContractName() + "." + method
	}
	o := applyOptions(name, opts)
	c := &Call{
		baseFuture: baseFuture{id: b.futureID(o.id), module: b.module.ID, after: o.after},
		Contract:   contract,
		Method:     method,
		Args:       args,
	}
	if contract == nil {
		b.c.fail(fmt.Errorf("%w: call %s has no target contract", ErrInvalidModule, c.id))
		return c
	}
	b.register(c)
	return c
}

// EncodeFunctionCall returns calldata for method on contract, usable as an
// argument of another future.
func (b *Builder) EncodeFunctionCall(contract ContractFuture, method string, args []any) *EncodedCall {
	if contract == nil {
		b.c.fail(fmt.Errorf("%w: encoded call %s has no contract", ErrInvalidModule, method))
	}
	return &EncodedCall{Contract: contract, Method: method, Args: args}
}

// UseModule builds def, or returns the already built instance, and
// returns its exports.
func (b *Builder) UseModule(def *ModuleDefinition) Results {
	m := b.c.use(def)
	if m == nil {
		return Results{}
	}
	for _, sub := range b.module.Submodules {
		if sub == m {
			return m.Results
		}
	}
	b.module.Submodules = append(b.module.Submodules, m)
	return m.Results
}

func (b *Builder) futureID(id string) string {
	return b.module.ID + "#" + id
}

func (b *Builder) register(f Future) {
	if _, ok := b.c.futures[f.ID()]; ok {
		b.c.fail(fmt.Errorf("%w: %s", ErrDuplicateID, f.ID()))
		return
	}
	for _, dep := range f.Dependencies() {
		if known, ok := b.c.futures[dep.ID()]; !ok || known != dep {
			b.c.fail(fmt.Errorf("%w: %s depends on %s", ErrUnknownFuture, f.ID(), dep.ID()))
			return
		}
	}
	b.c.futures[f.ID()] = f
	b.module.Futures = append(b.module.Futures, f)
}

func applyOptions(defaultID string, opts []FutureOption) futureOptions {
	o := futureOptions{id: defaultID}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
