package plan

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
)

// GlobalParameters is the Parameters key whose values apply to every module.
const GlobalParameters = "$global"

// Parameter is a named module input resolved when the plan is executed.
type Parameter struct {
	Module     string
	Name       string
	Default    any
	HasDefault bool
}

// Key returns the module-qualified parameter name.
func (p *Parameter) Key() string {
	return p.Module + "." + p.Name
}

// Account refers to the signing account at Index. It is usable as a
// parameter default or an argument value.
type Account struct {
	Index int
}

// Parameters holds caller-supplied values keyed by module id, then by
// parameter name.
type Parameters map[string]map[string]any

// Set stores value for the named module parameter.
func (p Parameters) Set(module, name string, value any) {
	if p[module] == nil {
		p[module] = make(map[string]any)
	}
	p[module][name] = value
}

// Merge copies every value of other into p, overwriting existing ones.
func (p Parameters) Merge(other Parameters) {
	for module, values := range other {
		for name, v := range values {
			p.Set(module, name, v)
		}
	}
}

func (p Parameters) lookup(module, name string) (any, bool) {
	if v, ok := p[module][name]; ok && !isEmpty(v) {
		return v, true
	}
	if v, ok := p[GlobalParameters][name]; ok && !isEmpty(v) {
		return v, true
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	}
	return false
}

// Resolved holds concrete values for every parameter of a plan.
type Resolved struct {
	values   map[string]any
	accounts []common.Address
}

// Value returns the resolved value of p.
func (r *Resolved) Value(p *Parameter) (any, bool) {
	v, ok := r.values[p.Key()]
	return v, ok
}

// Account returns the address of the signing account at index.
func (r *Resolved) Account(index int) (common.Address, error) {
	if index < 0 || index >= len(r.accounts) {
		return common.Address{}, fmt.Errorf("%w: index %d (have %d)", ErrMissingAccount, index, len(r.accounts))
	}
	return r.accounts[index], nil
}

// Values returns a copy of the resolved values keyed by Parameter.Key.
func (r *Resolved) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Resolve assigns a value to every parameter declared by the plan.
// Overrides win over global values, which win over defaults. Every
// parameter without a value is reported in the returned error.
func Resolve(p *Plan, params Parameters, accounts []common.Address) (*Resolved, error) {
	r := &Resolved{
		values:   make(map[string]any),
		accounts: accounts,
	}

	var result *multierror.Error
	for _, param := range p.Parameters() {
		if v, ok := params.lookup(param.Module, param.Name); ok {
			r.values[param.Key()] = v
			continue
		}
		if !param.HasDefault {
			result = multierror.Append(result, &MissingParameterError{Module: param.Module, Name: param.Name})
			continue
		}
		if acct, ok := param.Default.(Account); ok {
			addr, err := r.Account(acct.Index)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("parameter %s: %w", param.Key(), err))
				continue
			}
			r.values[param.Key()] = addr
			continue
		}
		r.values[param.Key()] = param.Default
	}

	if result != nil {
		sort.Slice(result.Errors, func(i, j int) bool {
			return result.Errors[i].Error() < result.Errors[j].Error()
		})
		return nil, result.ErrorOrNil()
	}
	return r, nil
}
