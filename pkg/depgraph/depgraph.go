// Package depgraph answers reachability questions over the dependency
// edge set.
//
// The blocks subgraph must stay a DAG: the apply engine probes every
// proposed blocks edge and rejects the ones that would close a cycle.
// Because every replica sees the same edges at the same HLC, the probe
// is deterministic and all replicas reject identically. The graph is
// stored as edges only; the probe walks the reachable subgraph, which
// stays tiny for real issue trackers.
package depgraph

import "github.com/daviddao/drift/pkg/store"

// WouldCycle reports whether adding the blocks edge from -> to would
// close a cycle in the existing blocks DAG, i.e. whether from is
// already reachable by following edges out of to.
func WouldCycle(edges []store.Dep, from, to string) bool {
	if from == to {
		return true
	}
	next := make(map[string][]string, len(edges))
	for _, e := range edges {
		next[e.From] = append(next[e.From], e.To)
	}
	seen := map[string]bool{to: true}
	stack := []string{to}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == from {
			return true
		}
		for _, m := range next[n] {
			if !seen[m] {
				seen[m] = true
				stack = append(stack, m)
			}
		}
	}
	return false
}

// Ready returns the ids from candidates that no open issue blocks:
// an issue is ready for work when every blocker (edge b -> issue with
// relation blocks) is absent or closed. Candidates keep their order.
func Ready(candidates []string, edges []store.Dep, isOpen func(id string) bool) []string {
	blockedBy := make(map[string][]string)
	for _, e := range edges {
		blockedBy[e.To] = append(blockedBy[e.To], e.From)
	}
	var ready []string
	for _, id := range candidates {
		blocked := false
		for _, b := range blockedBy[id] {
			if isOpen(b) {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, id)
		}
	}
	return ready
}
