package plan

// Kind identifies what a future does when the plan is executed.
type Kind string

const (
	// KindContract deploys a contract creation transaction.
	KindContract Kind = "contract"
	// KindContractAt binds a contract interface to an existing address.
	// No transaction is sent.
	KindContractAt Kind = "contract_at"
	// KindCall sends a transaction invoking a method on a contract.
	KindCall Kind = "call"
)

// Future is a node in the deployment graph.
type Future interface {
	// ID is the stable identifier used as the persistence key.
	ID() string
	// Kind reports what the future does.
	Kind() Kind
	// Module is the id of the module that declared the future.
	Module() string
	// Dependencies lists the futures that must be confirmed first.
	Dependencies() []Future
}

// ContractFuture is a future that resolves to a contract address.
type ContractFuture interface {
	Future
	ContractName() string
}

type baseFuture struct {
	id     string
	module string
	after  []Future
}

func (f *baseFuture) ID() string     { return f.id }
func (f *baseFuture) Module() string { return f.module }

// Contract deploys ContractName with constructor Args.
//
// Args may hold literals, *Parameter, Account, other futures (which resolve
// to their address) and *EncodedCall values.
type Contract struct {
	baseFuture
	contractName string
	Args         []any
}

// Kind implements Future.
func (c *Contract) Kind() Kind { return KindContract }

// ContractName implements ContractFuture.
func (c *Contract) ContractName() string { return c.contractName }

// Dependencies implements Future.
func (c *Contract) Dependencies() []Future {
	return collectDependencies(c.after, c.Args...)
}

// ContractAt binds ContractName's interface to Address, which may be a
// future, a *Parameter or a literal address.
type ContractAt struct {
	baseFuture
	contractName string
	Address      any
}

// Kind implements Future.
func (c *ContractAt) Kind() Kind { return KindContractAt }

// ContractName implements ContractFuture.
func (c *ContractAt) ContractName() string { return c.contractName }

// Dependencies implements Future.
func (c *ContractAt) Dependencies() []Future {
	return collectDependencies(c.after, c.Address)
}

// Call invokes Method on Contract with Args.
type Call struct {
	baseFuture
	Contract ContractFuture
	Method   string
	Args     []any
}

// Kind implements Future.
func (c *Call) Kind() Kind { return KindCall }

// Dependencies implements Future.
func (c *Call) Dependencies() []Future {
	return collectDependencies(c.after, append([]any{c.Contract}, c.Args...)...)
}

// EncodedCall is ABI-encoded calldata for Method on Contract. It is an
// argument value, not a node: it is encoded when the consuming future runs.
type EncodedCall struct {
	Contract ContractFuture
	Method   string
	Args     []any
}

// collectDependencies returns the unique futures referenced by explicit
// dependencies and argument values, in first-seen order.
func collectDependencies(after []Future, values ...any) []Future {
	seen := make(map[string]struct{})
	var deps []Future

	add := func(f Future) {
		if _, ok := seen[f.ID()]; ok {
			return
		}
		seen[f.ID()] = struct{}{}
		deps = append(deps, f)
	}

	for _, f := range after {
		add(f)
	}

	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case Future:
			add(x)
		case *EncodedCall:
			if x.Contract != nil {
				add(x.Contract)
			}
			for _, a := range x.Args {
				walk(a)
			}
		case []any:
			for _, a := range x {
				walk(a)
			}
		}
	}
	for _, v := range values {
		walk(v)
	}

	return deps
}
