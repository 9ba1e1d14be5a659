package graph

import (
	"fmt"
	"sort"
)

type nodeSet map[NodeID]struct{}

func (s nodeSet) add(id NodeID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Subgraph extracts the neighborhood of the given nodes: the tokens they
// cover, extended by ctxLeft tokens before and ctxRight tokens after along
// each ordering chain, every node covering one of those tokens, their
// dominance ancestors and the corpus nodes they belong to. Edges between
// included nodes are copied with their labels.
//
// Unknown node names are ignored. If none of the names is known the result
// is an error wrapping ErrNodeNotFound.
func (g *Graph) Subgraph(nodeNames []string, ctxLeft, ctxRight int) (*Graph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seeds := make([]NodeID, 0, len(nodeNames))
	for _, name := range nodeNames {
		if id, ok := g.byName[name]; ok {
			seeds = append(seeds, id)
		}
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("subgraph of %v: %w", nodeNames, ErrNodeNotFound)
	}

	tokens := make(nodeSet)
	for _, id := range seeds {
		if g.isToken(id) {
			tokens.add(id)
		}
		for _, t := range g.neighbors(id, Coverage, true) {
			tokens.add(t)
		}
	}

	// context along every ordering component
	withContext := make(nodeSet, len(tokens))
	for tok := range tokens {
		withContext.add(tok)
		for _, c := range g.componentsLocked(ptr(Ordering)) {
			cd := g.components[c]
			cur := tok
			for i := 0; i < ctxLeft; i++ {
				prev, ok := single(cd.incoming[cur])
				if !ok {
					break
				}
				withContext.add(prev)
				cur = prev
			}
			cur = tok
			for i := 0; i < ctxRight; i++ {
				next, ok := singleOut(cd.outgoing[cur])
				if !ok {
					break
				}
				withContext.add(next)
				cur = next
			}
		}
	}

	included := make(nodeSet, len(withContext))
	for _, id := range seeds {
		included.add(id)
	}
	for tok := range withContext {
		included.add(tok)
		// tokens of parallel tokenizations covering the backbone and vice versa
		for _, other := range g.neighbors(tok, Coverage, true) {
			if g.isToken(other) {
				included.add(other)
			}
		}
		for _, cov := range g.neighbors(tok, Coverage, false) {
			included.add(cov)
		}
	}

	g.addAncestors(included, Dominance)
	g.addAncestors(included, PartOfSubcorpus)

	return g.induced(included), nil
}

// DocumentSubgraph returns all nodes that are part of the named document
// together with the document and its parent corpora.
func (g *Graph) DocumentSubgraph(docName string) (*Graph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	doc, ok := g.byName[docName]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", docName, ErrNodeNotFound)
	}

	included := make(nodeSet)
	included.add(doc)
	for _, member := range g.neighbors(doc, PartOfSubcorpus, false) {
		included.add(member)
	}
	g.addAncestors(included, PartOfSubcorpus)
	return g.induced(included), nil
}

// CorpusSubgraph returns the corpus and document nodes with their
// PART_OF_SUBCORPUS edges.
func (g *Graph) CorpusSubgraph() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	included := make(nodeSet)
	for id := range g.byType[NodeTypeCorpus] {
		included.add(id)
	}
	return g.induced(included)
}

func (g *Graph) isToken(id NodeID) bool {
	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	nsID, ok1 := g.strings.Lookup(ANNISNamespace)
	tokID, ok2 := g.strings.Lookup(TokKey)
	if !ok1 || !ok2 {
		return false
	}
	_, ok = n.labels.values[RawKey{NS: nsID, Name: tokID}]
	return ok
}

// neighbors returns the targets (outgoing) or sources (incoming) of id over
// all components of type t. Must be called with the lock held.
func (g *Graph) neighbors(id NodeID, t ComponentType, outgoing bool) []NodeID {
	seen := make(nodeSet)
	var result []NodeID
	for c, cd := range g.components {
		if c.Type != t {
			continue
		}
		if outgoing {
			for target := range cd.outgoing[id] {
				if seen.add(target) {
					result = append(result, target)
				}
			}
		} else {
			for source := range cd.incoming[id] {
				if seen.add(source) {
					result = append(result, source)
				}
			}
		}
	}
	sortNodeIDs(result)
	return result
}

// addAncestors follows outgoing edges of type t (dominance parents are
// sources of incoming edges, corpus parents are targets of outgoing edges).
func (g *Graph) addAncestors(set nodeSet, t ComponentType) {
	queue := make([]NodeID, 0, len(set))
	for id := range set {
		queue = append(queue, id)
	}
	outgoing := t == PartOfSubcorpus
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, parent := range g.neighbors(id, t, outgoing) {
			if set.add(parent) {
				queue = append(queue, parent)
			}
		}
	}
}

// induced copies the given nodes and all edges between them into a new
// graph. Must be called with the read lock held.
func (g *Graph) induced(set nodeSet) *Graph {
	ids := make([]NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)

	result := NewGraph()
	mapping := make(map[NodeID]NodeID, len(ids))
	for _, id := range ids {
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		newID := result.nextID
		result.nextID++
		result.nodes[newID] = &nodeData{name: n.name, labels: newLabelMap()}
		result.byName[n.name] = newID
		for _, a := range n.labels.annotations() {
			ns, _ := g.strings.Str(a.Key.NS)
			name, _ := g.strings.Str(a.Key.Name)
			value, _ := g.strings.Str(a.Value)
			result.setNodeLabel(newID, ns, name, value)
		}
		mapping[id] = newID
	}

	for _, c := range g.componentsLocked(nil) {
		cd := g.components[c]
		sources := make([]NodeID, 0, len(cd.outgoing))
		for s := range cd.outgoing {
			sources = append(sources, s)
		}
		sortNodeIDs(sources)
		for _, s := range sources {
			newSource, ok := mapping[s]
			if !ok {
				continue
			}
			targets := make([]NodeID, 0, len(cd.outgoing[s]))
			for t := range cd.outgoing[s] {
				targets = append(targets, t)
			}
			sortNodeIDs(targets)
			for _, t := range targets {
				newTarget, ok := mapping[t]
				if !ok {
					continue
				}
				e := Edge{Source: newSource, Target: newTarget}
				_ = result.addEdge(c, e)
				for _, a := range cd.outgoing[s][t].annotations() {
					ns, _ := g.strings.Str(a.Key.NS)
					name, _ := g.strings.Str(a.Key.Name)
					value, _ := g.strings.Str(a.Value)
					_ = result.setEdgeLabel(c, e, ns, name, value)
				}
			}
		}
	}
	return result
}

func single(m map[NodeID]struct{}) (NodeID, bool) {
	if len(m) == 0 {
		return 0, false
	}
	ids := make([]NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0], true
}

func singleOut(m map[NodeID]*labelMap) (NodeID, bool) {
	if len(m) == 0 {
		return 0, false
	}
	ids := make([]NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)
	return ids[0], true
}

func ptr[T any](v T) *T {
	return &v
}
