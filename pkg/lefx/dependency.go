package lefx

import (
	"sort"

	"github.com/orneryd/libetude/pkg/errs"
	"github.com/orneryd/libetude/pkg/graph"
	"github.com/orneryd/libetude/pkg/operator"
	"github.com/orneryd/libetude/pkg/pool"
)

// DependencyType classifies how strictly a dependency binds.
type DependencyType uint8

const (
	DepRequired DependencyType = iota
	DepOptional
	DepConflict
)

// Dependency is one entry of an extension's dependency list, per spec.
type Dependency struct {
	Name          string
	MinVersion    string
	MaxVersion    string
	Type          DependencyType
	LoadOrderHint int
}

// Descriptor is the subset of an extension's identity dependency
// resolution needs: its name and declared dependencies.
type Descriptor struct {
	Name         string
	Dependencies []Dependency
}

// ResolveLoadOrder orders extensions so every Required dependency loads
// before its dependent, rejecting Conflict pairs that are both present,
// and using each dependency's LoadOrderHint to break ties among
// otherwise-independent extensions. Dependency load order resolution
// reuses the graph package's topological sort: one node per extension,
// one edge per required dependency.
func ResolveLoadOrder(extensions []Descriptor) ([]string, error) {
	byName := make(map[string]Descriptor, len(extensions))
	for _, e := range extensions {
		byName[e.Name] = e
	}

	for _, e := range extensions {
		for _, d := range e.Dependencies {
			if d.Type == DepConflict {
				if _, present := byName[d.Name]; present {
					return nil, errs.New("lefx.ResolveLoadOrder", errs.Runtime, nil)
				}
			}
		}
	}

	ordered := make([]Descriptor, len(extensions))
	copy(ordered, extensions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return minHint(ordered[i]) < minHint(ordered[j])
	})

	p, err := pool.Create(4096)
	if err != nil {
		return nil, errs.New("lefx.ResolveLoadOrder", errs.OutOfMemory, err)
	}
	g := graph.New("lefx-deps", p, operator.NewRegistry(1), len(ordered))

	nodes := make(map[string]*graph.Node, len(ordered))
	for _, e := range ordered {
		n := graph.NewNode(e.Name, "", nil)
		nodes[e.Name] = n
		g.AddNode(n)
	}
	for _, e := range ordered {
		for _, d := range e.Dependencies {
			if d.Type != DepRequired {
				continue
			}
			dep, ok := nodes[d.Name]
			if !ok {
				return nil, errs.New("lefx.ResolveLoadOrder", errs.Runtime, nil)
			}
			if err := g.Connect(dep, nodes[e.Name]); err != nil {
				return nil, err
			}
		}
	}

	if err := g.TopologicalSort(); err != nil {
		return nil, errs.New("lefx.ResolveLoadOrder", errs.Cycle, err)
	}

	order := g.Order()
	names := make([]string, len(order))
	for i, n := range order {
		names[i] = n.Name()
	}
	return names, nil
}

func minHint(d Descriptor) int {
	best := 0
	set := false
	for _, dep := range d.Dependencies {
		if !set || dep.LoadOrderHint < best {
			best = dep.LoadOrderHint
			set = true
		}
	}
	return best
}
