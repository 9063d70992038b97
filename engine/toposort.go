package engine

import (
	"fmt"
	"sort"

	"github.com/adflow-labs/adflow/command"
)

// topoSort orders the nodes so every edge points forward, and returns the
// predecessor map used to assemble node inputs. Ties break on row id so the
// order is deterministic for a given graph. Edges referencing unknown nodes
// are an error: the reconciler never persists them.
func topoSort(nodes []command.NodeRow, edges []command.EdgeRow) ([]command.NodeRow, map[string][]string, error) {
	byID := make(map[string]command.NodeRow, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	indegree := make(map[string]int, len(nodes))
	succs := make(map[string][]string)
	preds := make(map[string][]string)
	for _, e := range edges {
		if _, ok := byID[e.SourceNodeID]; !ok {
			return nil, nil, fmt.Errorf("engine: edge %s references unknown source %s", e.ID, e.SourceNodeID)
		}
		if _, ok := byID[e.TargetNodeID]; !ok {
			return nil, nil, fmt.Errorf("engine: edge %s references unknown target %s", e.ID, e.TargetNodeID)
		}
		succs[e.SourceNodeID] = append(succs[e.SourceNodeID], e.TargetNodeID)
		preds[e.TargetNodeID] = append(preds[e.TargetNodeID], e.SourceNodeID)
		indegree[e.TargetNodeID]++
	}

	var ready []string
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}
	sort.Strings(ready)

	order := make([]command.NodeRow, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, byID[id])

		var unlocked []string
		for _, succ := range succs[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				unlocked = append(unlocked, succ)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}

	if len(order) != len(nodes) {
		return nil, nil, ErrCycle
	}
	return order, preds, nil
}
