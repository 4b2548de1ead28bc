package plan

import "fmt"

// ExecutionOrder returns the level-grouped execution order: each level is
// a set of step ids whose predecessors all lie in strictly earlier
// levels. level(s) = 0 for roots, else 1 + max(level(dep)). The result is
// cached on the plan; adding a step invalidates the cache.
//
// Step ids within a level are sorted for determinism, but callers must
// not rely on intra-level order.
func (p *Plan) ExecutionOrder() ([][]string, error) {
	if p.levels != nil {
		return p.levels, nil
	}
	if len(p.steps) == 0 {
		p.levels = [][]string{}
		return p.levels, nil
	}

	if cycles := p.DetectCycles(); len(cycles) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrCyclicDependency, cycles[0])
	}

	levelOf := make(map[string]int, len(p.steps))
	var assign func(id string) int
	assign = func(id string) int {
		if lvl, ok := levelOf[id]; ok {
			return lvl
		}
		lvl := 0
		for _, dep := range p.steps[id].DependsOn {
			if d := assign(dep) + 1; d > lvl {
				lvl = d
			}
		}
		levelOf[id] = lvl
		return lvl
	}

	maxLevel := 0
	for _, id := range p.order {
		if lvl := assign(id); lvl > maxLevel {
			maxLevel = lvl
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range p.order {
		lvl := levelOf[id]
		levels[lvl] = append(levels[lvl], id)
	}
	for i := range levels {
		levels[i] = sortedIDs(levels[i])
	}

	p.levels = levels
	return levels, nil
}

// DetectCycles finds dependency cycles via depth-first traversal with
// on-stack marking. On a back-edge, the cycle is extracted by slicing
// the current path from the back-edge target to the current node. Each
// discovered cycle is reported once.
func (p *Plan) DetectCycles() [][]string {
	const (
		white = 0 // unvisited
		grey  = 1 // on stack
		black = 2 // done
	)
	color := make(map[string]int, len(p.steps))
	var path []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		path = append(path, id)
		for _, dep := range sortedIDs(p.steps[id].DependsOn) {
			switch color[dep] {
			case white:
				visit(dep)
			case grey:
				// Back-edge: slice the path from dep to the current node.
				for i, n := range path {
					if n == dep {
						cycle := append([]string(nil), path[i:]...)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
	}

	for _, id := range p.order {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// TopologicalSort returns a linear extension of the level grouping.
// Fails with ErrCyclicDependency when cycles exist, or with
// ErrDeadlockDetected when the emitted count does not reach the total.
func (p *Plan) TopologicalSort() ([]string, error) {
	levels, err := p.ExecutionOrder()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, level := range levels {
		out = append(out, level...)
	}
	if len(out) != len(p.steps) {
		return nil, fmt.Errorf("%w: emitted %d of %d steps", ErrDeadlockDetected, len(out), len(p.steps))
	}
	return out, nil
}
