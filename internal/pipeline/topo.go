package pipeline

// detectDataCycle runs a DFS with an explicit recursion stack over the
// Data-edge subgraph and returns the id of one node on a cycle, or "" if
// acyclic. Grounded on the teacher's visual-dag-builder.validateCycles.
func detectDataCycle(nodeIDs []string, dataAdj map[string][]string) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodeIDs))
	for _, id := range nodeIDs {
		color[id] = white
	}

	var stack []string
	var dfs func(id string) string
	dfs = func(id string) string {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range dataAdj[id] {
			switch color[next] {
			case gray:
				return next
			case white:
				if found := dfs(next); found != "" {
					return found
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return ""
	}

	for _, id := range nodeIDs {
		if color[id] == white {
			if found := dfs(id); found != "" {
				return found
			}
		}
	}
	return ""
}

// kahnTopoSort computes a topological order over the combined Data+After
// adjacency. It returns the order and true if every node was placed, or a
// partial order and false if a cycle involving at least one edge remains
// (including cycles that only close through an After edge, which
// detectDataCycle alone cannot see). Grounded on the teacher's
// visual-dag-builder.TopologicalSort (Kahn's algorithm).
func kahnTopoSort(nodeIDs []string, adj map[string][]string) ([]string, bool) {
	inDegree := make(map[string]int, len(nodeIDs))
	for _, id := range nodeIDs {
		inDegree[id] = 0
	}
	for _, targets := range adj {
		for _, t := range targets {
			inDegree[t]++
		}
	}

	var queue []string
	for _, id := range nodeIDs {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(nodeIDs))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return order, len(order) == len(nodeIDs)
}
