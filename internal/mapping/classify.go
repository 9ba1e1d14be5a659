package mapping

import (
	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/salt"
)

// Classify decides whether a node is a token, a structure or a span.
//
// A node carrying annis::tok is a token regardless of its edges. Otherwise
// hasDominanceEdge is consulted, and only then: a node with an outgoing
// dominance edge is a structure, anything else a span.
func Classify(labels []graph.Annotation, hasDominanceEdge func() bool) salt.NodeKind {
	if _, ok := label(labels, graph.ANNISNamespace, graph.TokKey); ok {
		return salt.Token
	}
	if hasDominanceEdge != nil && hasDominanceEdge() {
		return salt.Structure
	}
	return salt.Span
}

// dominanceProbe returns a lazy check for outgoing edges in any dominance
// component.
func dominanceProbe(db GraphDB, dominance []graph.Component, id graph.NodeID) func() bool {
	return func() bool {
		for _, c := range dominance {
			if len(db.OutgoingEdges(id, c)) > 0 {
				return true
			}
		}
		return false
	}
}
