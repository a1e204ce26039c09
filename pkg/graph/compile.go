package graph

import "github.com/warpmetrics/coder/internal/lifecycle"

// Compile normalises a parsed lifecycle document into a validated Graph.
// root names the initial act node. Failure is a single *CompileError
// enumerating every violation found.
func Compile(doc *lifecycle.Document, root string) (*Graph, error) {
	var violations []Violation

	g := &Graph{
		Nodes:  make(map[string]*Node, len(doc.Nodes)),
		States: doc.States,
		Root:   root,
	}

	for name, raw := range doc.Nodes {
		executor := ""
		if raw.Executor != nil {
			executor = *raw.Executor
		}
		node := &Node{
			Name:     name,
			Label:    raw.Label,
			Executor: executor,
			Group:    raw.Parent,
			Results:  make(map[string][]OutcomeEdge, len(raw.Results)),
		}
		for resultType, specs := range raw.Results {
			edges := make([]OutcomeEdge, len(specs))
			for i, spec := range specs {
				edges[i] = OutcomeEdge{Outcome: spec.Outcome, In: spec.On, Next: spec.Next}
			}
			node.Results[resultType] = edges
		}
		g.Nodes[name] = node
	}

	// Invariant 1: every outcome name referenced anywhere in the graph
	// has a state mapping.
	for name, node := range g.Nodes {
		for resultType, edges := range node.Results {
			for _, edge := range edges {
				if edge.Outcome == "" {
					continue
				}
				if _, ok := g.States[edge.Outcome]; !ok {
					violations = append(violations, Violation{
						Node:    name,
						Message: "results[" + resultType + "]: outcome " + edge.Outcome + " has no entry in states",
					})
				}
				// Invariant 2: every `in` names an existing phase-group node.
				if edge.In != "" {
					target, ok := g.Nodes[edge.In]
					if !ok {
						violations = append(violations, Violation{
							Node:    name,
							Message: "results[" + resultType + "]: on=" + edge.In + " does not name an existing node",
						})
					} else if !target.IsGroup() {
						violations = append(violations, Violation{
							Node:    name,
							Message: "results[" + resultType + "]: on=" + edge.In + " is not a phase-group node",
						})
					}
				}
				// Invariant 3: every `next` names an existing node.
				if edge.Next != "" {
					if _, ok := g.Nodes[edge.Next]; !ok {
						violations = append(violations, Violation{
							Node:    name,
							Message: "results[" + resultType + "]: next=" + edge.Next + " does not name an existing node",
						})
					}
				}
			}
		}
		// Invariant: every executor-bearing node has at least one result.
		if !node.IsGroup() && len(node.Results) == 0 {
			violations = append(violations, Violation{
				Node:    name,
				Message: "executor node declares no results",
			})
		}
	}

	// Invariant 4: every act reachable from the root via BFS has an
	// executor, or is a phase group.
	if _, ok := g.Nodes[root]; !ok {
		violations = append(violations, Violation{Message: "root act " + root + " does not name an existing node"})
	} else {
		reached := bfsReachable(g, root)
		for name, node := range g.Nodes {
			if !reached[name] {
				continue
			}
			if node.Executor == "" && !node.IsGroup() {
				violations = append(violations, Violation{Node: name, Message: "reachable node has neither an executor nor is a phase group"})
			}
		}
	}

	if len(violations) > 0 {
		return nil, &CompileError{Violations: violations}
	}
	return g, nil
}

// bfsReachable returns the set of node names reachable from root by
// following `next` edges across all result types.
func bfsReachable(g *Graph, root string) map[string]bool {
	seen := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		node, ok := g.Nodes[name]
		if !ok {
			continue
		}
		for _, edges := range node.Results {
			for _, edge := range edges {
				if edge.Next == "" || seen[edge.Next] {
					continue
				}
				seen[edge.Next] = true
				queue = append(queue, edge.Next)
			}
		}
	}
	return seen
}
