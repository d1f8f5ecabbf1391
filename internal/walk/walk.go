// Package walk computes driver election and per-node target lists from
// the live link set (§4.5): connected-component discovery, deterministic
// driver tie-break, in-degree/target_list construction, and the
// graph-wide quantum size. Grounded on other_examples/leofalp-aigo's
// Graph[T] DAG pattern (topological levels = nodes whose in-degree is
// satisfied); adapted from "compute levels once per Execute" to "rebuild
// one target_list per node on every topology change" per §4.5.
package walk

import (
	"sort"

	"github.com/ehrlich-b/go-mediagraph/internal/constants"
	"github.com/ehrlich-b/go-mediagraph/internal/link"
)

// NodeInfo is the subset of a node's declared capabilities the walk
// needs: whether it can drive, whether it demands a driver even when
// otherwise idle, and its own quantum_size preference (0 = none).
type NodeInfo struct {
	ID          uint32
	CanDrive    bool
	WantDriver  bool
	QuantumSize uint32
}

// Target is one entry in a node's target_list: the successor to trigger
// plus its in-degree over real links, the count of predecessors it waits
// on each cycle. Target lists hold only linked successors: no return
// edge to the driver is appended and Required carries no +1 for one;
// the driver instead triggers its in-degree-0 followers through Roots.
type Target struct {
	NodeID   uint32
	Required uint32
}

// Plan is the result of one walk: per-node target lists, the driver id
// for each node's component, and the graph-wide quantum.
type Plan struct {
	TargetLists map[uint32][]Target
	DriverOf    map[uint32]uint32
	Drivers     []uint32
	QuantumSize uint32

	// Required is every node's in-degree within its component: the
	// activation pending counter it's armed with at the start of every
	// cycle (§3's "required is the in-degree in the current graph walk").
	Required map[uint32]uint32

	// Roots maps a driver id to the follower node ids in its component
	// with no real predecessor (in-degree 0). These have nothing to
	// decrement their pending counter, so the driver signals them
	// directly at the top of every cycle instead of relying on the
	// cascade (§4.1 step 2's "driver walks target_list... for every
	// target").
	Roots map[uint32][]uint32
}

// Compute runs the full §4.5 algorithm: component discovery, driver
// election per component, in-degree/target_list construction, and
// quantum_size = min over non-zero declarations.
func Compute(nodes []NodeInfo, links []*link.Link) Plan {
	byID := make(map[uint32]NodeInfo, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	succ := make(map[uint32][]uint32)
	indeg := make(map[uint32]uint32)
	adj := make(map[uint32][]uint32) // undirected, for component discovery
	for _, n := range nodes {
		indeg[n.ID] = 0
	}
	for _, l := range links {
		if l == nil || !l.Active() {
			continue
		}
		from, to := l.Out.NodeID, l.In.NodeID
		succ[from] = append(succ[from], to)
		indeg[to]++
		adj[from] = append(adj[from], to)
		adj[to] = append(adj[to], from)
	}

	components := connectedComponents(nodes, adj)

	plan := Plan{
		TargetLists: make(map[uint32][]Target),
		DriverOf:    make(map[uint32]uint32),
	}

	for _, comp := range components {
		driver, ok := electDriver(comp, byID)
		if !ok {
			continue // no candidate in this component; no cycle drives it
		}
		plan.Drivers = append(plan.Drivers, driver)
		for _, id := range comp {
			plan.DriverOf[id] = driver
		}
	}

	// want_driver nodes whose own component had no candidate force-attach
	// to the first elected driver overall (§4.5).
	if len(plan.Drivers) > 0 {
		fallback := plan.Drivers[0]
		for _, n := range nodes {
			if n.WantDriver {
				if _, has := plan.DriverOf[n.ID]; !has {
					plan.DriverOf[n.ID] = fallback
				}
			}
		}
	}

	plan.Required = make(map[uint32]uint32, len(nodes))
	for _, n := range nodes {
		plan.Required[n.ID] = indeg[n.ID]
		targets := make([]Target, 0, len(succ[n.ID]))
		for _, s := range succ[n.ID] {
			targets = append(targets, Target{NodeID: s, Required: indeg[s]})
		}
		plan.TargetLists[n.ID] = targets
	}

	plan.Roots = make(map[uint32][]uint32)
	for _, n := range nodes {
		driver, ok := plan.DriverOf[n.ID]
		if !ok || n.ID == driver || indeg[n.ID] != 0 {
			continue
		}
		plan.Roots[driver] = append(plan.Roots[driver], n.ID)
	}
	for _, ids := range plan.Roots {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	plan.QuantumSize = minQuantum(nodes)
	return plan
}

// electDriver picks the candidate with the smallest node id in comp,
// matching §4.5's "ties broken deterministically by node id".
func electDriver(comp []uint32, byID map[uint32]NodeInfo) (uint32, bool) {
	candidates := make([]uint32, 0, len(comp))
	for _, id := range comp {
		if byID[id].CanDrive {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	return candidates[0], true
}

func connectedComponents(nodes []NodeInfo, adj map[uint32][]uint32) [][]uint32 {
	visited := make(map[uint32]bool, len(nodes))
	var comps [][]uint32
	for _, n := range nodes {
		if visited[n.ID] {
			continue
		}
		var comp []uint32
		stack := []uint32{n.ID}
		visited[n.ID] = true
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, id)
			for _, nb := range adj[id] {
				if !visited[nb] {
					visited[nb] = true
					stack = append(stack, nb)
				}
			}
		}
		sort.Slice(comp, func(i, j int) bool { return comp[i] < comp[j] })
		comps = append(comps, comp)
	}
	return comps
}

// minQuantum returns the minimum non-zero declared quantum_size, or
// constants.DefaultQuantumSize rounded down to a power of two if none
// declare one (flp2: floor to the largest power of two <= n).
func minQuantum(nodes []NodeInfo) uint32 {
	var min uint32
	for _, n := range nodes {
		if n.QuantumSize == 0 {
			continue
		}
		if min == 0 || n.QuantumSize < min {
			min = n.QuantumSize
		}
	}
	if min == 0 {
		return flp2(constants.DefaultQuantumSize)
	}
	return flp2(min)
}

// FLP2 rounds n down to the largest power of two <= n, exported so
// node.Node can compute quantum_size = flp2(num*48000/denom) from a
// NODE_LATENCY property (§6) the same way the graph walk floors
// quantum_size declarations.
func FLP2(n uint32) uint32 { return flp2(n) }

// flp2 rounds n down to the largest power of two <= n (floor log power
// of 2), matching the quantum-size computation named in §4.5.
func flp2(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n - (n >> 1)
}
