package plan

import (
	"sort"
)

// Plan is a built, acyclic deployment graph.
type Plan struct {
	root     *Module
	modules  []*Module
	futures  map[string]Future
	order    []Future
	batches  [][]Future
	children map[string][]string
}

// Build builds def and every module it uses into a plan.
func Build(def *ModuleDefinition) (*Plan, error) {
	c := newComposer()
	root := c.use(def)
	if c.err != nil {
		return nil, c.err
	}

	p := &Plan{
		root:     root,
		modules:  c.order,
		futures:  c.futures,
		children: make(map[string][]string),
	}
	for _, f := range p.futures {
		for _, dep := range f.Dependencies() {
			p.children[dep.ID()] = append(p.children[dep.ID()], f.ID())
		}
	}
	for id := range p.children {
		sort.Strings(p.children[id])
	}

	batches, err := topoBatches(p.futures)
	if err != nil {
		return nil, err
	}
	p.batches = batches
	for _, batch := range batches {
		p.order = append(p.order, batch...)
	}
	return p, nil
}

// Root returns the module the plan was built from.
func (p *Plan) Root() *Module {
	return p.root
}

// Modules returns every module in the plan, dependencies first.
func (p *Plan) Modules() []*Module {
	return p.modules
}

// Future returns the future with the given id.
func (p *Plan) Future(id string) (Future, bool) {
	f, ok := p.futures[id]
	return f, ok
}

// Futures returns every future in execution order.
func (p *Plan) Futures() []Future {
	return p.order
}

// Batches groups the futures into levels: every future depends only on
// futures of earlier levels. Futures within a level are sorted by id.
func (p *Plan) Batches() [][]Future {
	return p.batches
}

// Parameters returns every parameter declared by the plan's modules.
func (p *Plan) Parameters() []*Parameter {
	var params []*Parameter
	for _, m := range p.modules {
		params = append(params, m.Parameters...)
	}
	return params
}

// Dependents returns the ids of every future that transitively depends on
// id, sorted.
func (p *Plan) Dependents(id string) []string {
	seen := make(map[string]struct{})
	var visit func(string)
	visit = func(n string) {
		for _, child := range p.children[n] {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			visit(child)
		}
	}
	visit(id)

	out := make([]string, 0, len(seen))
	for child := range seen {
		out = append(out, child)
	}
	sort.Strings(out)
	return out
}

// topoBatches layers futures with Kahn's algorithm. Anything left over
// sits on a cycle.
func topoBatches(futures map[string]Future) ([][]Future, error) {
	indegree := make(map[string]int, len(futures))
	children := make(map[string][]string)
	for id, f := range futures {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range f.Dependencies() {
			indegree[id]++
			children[dep.ID()] = append(children[dep.ID()], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	var batches [][]Future
	done := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		batch := make([]Future, 0, len(ready))
		var next []string
		for _, id := range ready {
			batch = append(batch, futures[id])
			done++
			for _, child := range children[id] {
				indegree[child]--
				if indegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		batches = append(batches, batch)
		ready = next
	}

	if done != len(futures) {
		return nil, &CycleError{Path: findCycle(futures, indegree)}
	}
	return batches, nil
}

// findCycle walks dependency edges among the unresolved futures until an
// id repeats.
func findCycle(futures map[string]Future, indegree map[string]int) []string {
	var start string
	for id, n := range indegree {
		if n > 0 && (start == "" || id < start) {
			start = id
		}
	}

	index := make(map[string]int)
	var path []string
	for cur := start; cur != ""; {
		if i, ok := index[cur]; ok {
			return append(path[i:], cur)
		}
		index[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, dep := range futures[cur].Dependencies() {
			if indegree[dep.ID()] > 0 {
				next = dep.ID()
				break
			}
		}
		cur = next
	}
	return path
}
