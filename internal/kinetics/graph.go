package kinetics

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Graph returns the undirected species graph: species are nodes keyed by
// their state index, and every reaction links all species it touches.
func (m *Model) Graph() *simple.UndirectedGraph {
	g := simple.NewUndirectedGraph()
	for i := range m.species {
		g.AddNode(simple.Node(i))
	}
	for _, r := range m.reactions {
		sp := r.Species()
		for i := 1; i < len(sp); i++ {
			a, b := m.index[sp[0]], m.index[sp[i]]
			if a == b || g.HasEdgeBetween(int64(a), int64(b)) {
				continue
			}
			g.SetEdge(g.NewEdge(simple.Node(a), simple.Node(b)))
		}
	}
	return g
}

// Isolated returns the species whose connected component holds none of the
// tracked species. Rate constants acting only on such species cannot be
// identified from the data.
func (m *Model) Isolated(tracked []string) []string {
	want := make(map[int64]bool, len(tracked))
	for _, s := range tracked {
		if i, ok := m.index[s]; ok {
			want[int64(i)] = true
		}
	}

	var out []int
	for _, comp := range topo.ConnectedComponents(m.Graph()) {
		seen := false
		for _, n := range comp {
			if want[n.ID()] {
				seen = true
				break
			}
		}
		if seen {
			continue
		}
		for _, n := range comp {
			out = append(out, int(n.ID()))
		}
	}
	sort.Ints(out)

	names := make([]string, len(out))
	for i, idx := range out {
		names[i] = m.species[idx]
	}
	return names
}
