package salt

import "fmt"

// CorpusKind distinguishes corpora from documents.
type CorpusKind int

const (
	Corpus CorpusKind = iota
	Document
)

func (k CorpusKind) String() string {
	if k == Document {
		return "document"
	}
	return "corpus"
}

// CorpusNode is a corpus or a document in the corpus tree.
type CorpusNode struct {
	ID              string
	Name            string
	Kind            CorpusKind
	Parent          *CorpusNode
	Children        []*CorpusNode
	MetaAnnotations []Annotation
	Features        []Annotation
}

// Path returns the names from the root to this node joined by '/'.
func (n *CorpusNode) Path() string {
	if n.Parent == nil {
		return n.Name
	}
	return n.Parent.Path() + "/" + n.Name
}

// MetaAnnotation returns the value of a meta annotation.
func (n *CorpusNode) MetaAnnotation(ns, name string) (string, bool) {
	return find(n.MetaAnnotations, ns, name)
}

// CorpusGraph is a forest of corpora and documents.
type CorpusGraph struct {
	Roots []*CorpusNode

	byID map[string]*CorpusNode
}

// NewCorpusGraph creates an empty corpus graph.
func NewCorpusGraph() *CorpusGraph {
	return &CorpusGraph{byID: make(map[string]*CorpusNode)}
}

// AddCorpus adds a corpus or document below parent. A nil parent makes it a
// root.
func (c *CorpusGraph) AddCorpus(parent *CorpusNode, kind CorpusKind, id, name string) (*CorpusNode, error) {
	if _, ok := c.byID[id]; ok {
		return nil, fmt.Errorf("%s: %w", id, ErrDuplicateNode)
	}
	if parent != nil && parent.Kind == Document {
		return nil, fmt.Errorf("adding %s below document %s", id, parent.ID)
	}
	n := &CorpusNode{ID: id, Name: name, Kind: kind, Parent: parent}
	if parent == nil {
		c.Roots = append(c.Roots, n)
	} else {
		parent.Children = append(parent.Children, n)
	}
	c.byID[id] = n
	return n, nil
}

// Node looks up a corpus node by identifier.
func (c *CorpusGraph) Node(id string) (*CorpusNode, bool) {
	n, ok := c.byID[id]
	return n, ok
}

// Len returns the number of corpus nodes.
func (c *CorpusGraph) Len() int {
	return len(c.byID)
}

// Walk visits every node depth-first, parents before children.
func (c *CorpusGraph) Walk(fn func(n *CorpusNode, depth int)) {
	var visit func(n *CorpusNode, depth int)
	visit = func(n *CorpusNode, depth int) {
		fn(n, depth)
		for _, child := range n.Children {
			visit(child, depth+1)
		}
	}
	for _, r := range c.Roots {
		visit(r, 0)
	}
}

// Documents returns all document nodes in walk order.
func (c *CorpusGraph) Documents() []*CorpusNode {
	var docs []*CorpusNode
	c.Walk(func(n *CorpusNode, _ int) {
		if n.Kind == Document {
			docs = append(docs, n)
		}
	})
	return docs
}
