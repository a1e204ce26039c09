// Package graph compiles the declarative lifecycle document into a
// validated, in-memory graph of phase/act nodes and a state vocabulary,
// the static shape every run is driven through.
package graph

// OutcomeEdge is one entry in a node's results[resultType] list: `in`
// re-parents the emitted outcome to a named group, `next` names the act
// to emit after it.
type OutcomeEdge struct {
	Outcome string
	In      string // group node name, or "" for the run itself
	Next    string // act node name, or "" to emit no follow-up act
}

// Node is a static definition loaded once at startup. Executor is empty
// for a phase-group node: it produces no work but declares transitions
// (its "created" result fires when the phase is entered).
type Node struct {
	Name     string
	Label    string
	Executor string // "" marks a phase-group node
	Group    string // parent phase-group node name, or ""
	Results  map[string][]OutcomeEdge
}

// IsGroup reports whether this node is a phase-group node (no executor).
func (n *Node) IsGroup() bool { return n.Executor == "" }

// Graph is the compiled, validated lifecycle: nodes keyed by name plus
// the total outcome-name -> board-column-key vocabulary.
type Graph struct {
	Nodes  map[string]*Node
	States map[string]string // outcome name -> column key
	Root   string            // the initial act node
}

// Node returns the named node, or nil.
func (g *Graph) Node(name string) *Node { return g.Nodes[name] }

// ColumnKeys is the fixed board-column vocabulary every state entry must
// resolve to.
var ColumnKeys = map[string]bool{
	"todo": true, "inProgress": true, "inReview": true,
	"readyForDeploy": true, "deploy": true, "done": true,
	"blocked": true, "waiting": true, "aborted": true,
}
