// Package salt models linguistic annotation graphs.
//
// A DocumentGraph is an arena of nodes (tokens, spans, structures and text
// containers) and relations between them. Relations reference nodes by
// NodeRef, an index into the arena, so arbitrary and even cyclic relation
// structures never form pointer cycles. A CorpusGraph is the tree of corpora
// and documents the document graphs belong to.
package salt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// IDPrefix starts every node identifier.
const IDPrefix = "salt:/"

// ErrDuplicateNode is returned when a node identifier is already taken.
var ErrDuplicateNode = errors.New("duplicate node id")

// NodeKind is the kind of an annotation node.
type NodeKind int

const (
	Token NodeKind = iota
	Structure
	Span
	TextualDS
	TimelineDS
)

func (k NodeKind) String() string {
	switch k {
	case Token:
		return "token"
	case Structure:
		return "structure"
	case Span:
		return "span"
	case TextualDS:
		return "text"
	case TimelineDS:
		return "timeline"
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// RelationKind is the kind of a relation.
type RelationKind int

const (
	DominanceRelation RelationKind = iota
	PointingRelation
	SpanningRelation
	OrderRelation
	TextualRelation
	TimelineRelation
)

func (k RelationKind) String() string {
	switch k {
	case DominanceRelation:
		return "dominance"
	case PointingRelation:
		return "pointing"
	case SpanningRelation:
		return "spanning"
	case OrderRelation:
		return "order"
	case TextualRelation:
		return "textual"
	case TimelineRelation:
		return "timeline"
	}
	return fmt.Sprintf("RelationKind(%d)", int(k))
}

// NodeRef indexes a node in its DocumentGraph.
type NodeRef int

// RelRef indexes a relation in its DocumentGraph.
type RelRef int

// Annotation is a (namespace, name, value) triple.
type Annotation struct {
	NS    string `json:"ns,omitempty" yaml:"ns,omitempty"`
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// QName returns ns::name, or name for the empty namespace.
func (a Annotation) QName() string {
	if a.NS == "" {
		return a.Name
	}
	return a.NS + "::" + a.Name
}

// Node is an annotation node.
type Node struct {
	Ref         NodeRef
	Kind        NodeKind
	ID          string
	Name        string
	Annotations []Annotation
	// Features hold engine-internal labels (namespace annis).
	Features []Annotation
	Layers   []string
	// Text is only set for TextualDS nodes.
	Text string
}

// Annotation returns the value of an annotation.
func (n *Node) Annotation(ns, name string) (string, bool) {
	return find(n.Annotations, ns, name)
}

// Feature returns the value of a feature.
func (n *Node) Feature(ns, name string) (string, bool) {
	return find(n.Features, ns, name)
}

// Relation is a typed relation between two nodes.
type Relation struct {
	Ref    RelRef
	Kind   RelationKind
	Source NodeRef
	Target NodeRef
	// Type is the relation name. Empty means no type.
	Type string
	// Start and End are a half-open character range for textual relations
	// and a half-open point-of-time range for timeline relations.
	Start       int
	End         int
	Annotations []Annotation
	Features    []Annotation
	Layers      []string
}

// Annotation returns the value of an annotation.
func (r *Relation) Annotation(ns, name string) (string, bool) {
	return find(r.Annotations, ns, name)
}

// Layer groups nodes and relations under a name.
type Layer struct {
	Name      string
	Nodes     []NodeRef
	Relations []RelRef
}

// Timeline is an ordered sequence of points of time. Timeline relations
// point from tokens to the timeline node.
type Timeline struct {
	Node   NodeRef
	Points int
}

// TimelineName is the fragment of the timeline node.
const TimelineName = "sTimeline"

// SetTimeline creates the timeline node or updates its number of points.
func (d *DocumentGraph) SetTimeline(points int) (*Timeline, error) {
	if d.Timeline != nil {
		d.Timeline.Points = points
		return d.Timeline, nil
	}
	n, err := d.AddNode(TimelineDS, TimelineName)
	if err != nil {
		return nil, err
	}
	d.Timeline = &Timeline{Node: n.Ref, Points: points}
	return d.Timeline, nil
}

func find(annos []Annotation, ns, name string) (string, bool) {
	for _, a := range annos {
		if a.NS == ns && a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// NodeID builds the identifier of a node in a document.
func NodeID(docPath, fragment string) string {
	return IDPrefix + docPath + "#" + fragment
}

// SplitNodeName splits a node name of the form "<doc path>#<fragment>".
// Names without '#' have an empty document path.
func SplitNodeName(name string) (docPath, fragment string) {
	if i := strings.LastIndex(name, "#"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// DocumentGraph is the annotation graph of one document.
type DocumentGraph struct {
	// Path is the document path inside the corpus tree, e.g. "root/doc1".
	Path     string
	Timeline *Timeline

	nodes     []*Node
	relations []*Relation
	layers    []*Layer
	layerIdx  map[string]int
	byID      map[string]NodeRef
	outgoing  map[NodeRef][]RelRef
	incoming  map[NodeRef][]RelRef
}

// NewDocumentGraph creates an empty document graph.
func NewDocumentGraph(path string) *DocumentGraph {
	return &DocumentGraph{
		Path:     path,
		layerIdx: make(map[string]int),
		byID:     make(map[string]NodeRef),
		outgoing: make(map[NodeRef][]RelRef),
		incoming: make(map[NodeRef][]RelRef),
	}
}

// AddNode adds a node named fragment with the identifier derived from the
// document path.
func (d *DocumentGraph) AddNode(kind NodeKind, fragment string) (*Node, error) {
	return d.AddNodeWithID(kind, NodeID(d.Path, fragment), fragment)
}

// AddNodeWithID adds a node with an explicit identifier.
func (d *DocumentGraph) AddNodeWithID(kind NodeKind, id, name string) (*Node, error) {
	if _, ok := d.byID[id]; ok {
		return nil, fmt.Errorf("%s: %w", id, ErrDuplicateNode)
	}
	n := &Node{Ref: NodeRef(len(d.nodes)), Kind: kind, ID: id, Name: name}
	d.nodes = append(d.nodes, n)
	d.byID[id] = n.Ref
	return n, nil
}

// AddText adds a text container.
func (d *DocumentGraph) AddText(fragment, text string) (*Node, error) {
	n, err := d.AddNode(TextualDS, fragment)
	if err != nil {
		return nil, err
	}
	n.Text = text
	return n, nil
}

// AddRelation adds a relation between two existing nodes.
func (d *DocumentGraph) AddRelation(kind RelationKind, source, target NodeRef) (*Relation, error) {
	if d.Node(source) == nil || d.Node(target) == nil {
		return nil, fmt.Errorf("%s relation %d -> %d: unknown node", kind, source, target)
	}
	r := &Relation{Ref: RelRef(len(d.relations)), Kind: kind, Source: source, Target: target}
	d.relations = append(d.relations, r)
	d.outgoing[source] = append(d.outgoing[source], r.Ref)
	d.incoming[target] = append(d.incoming[target], r.Ref)
	return r, nil
}

// Node returns the node for ref or nil.
func (d *DocumentGraph) Node(ref NodeRef) *Node {
	if ref < 0 || int(ref) >= len(d.nodes) {
		return nil
	}
	return d.nodes[ref]
}

// NodeByID looks up a node by identifier.
func (d *DocumentGraph) NodeByID(id string) (*Node, bool) {
	ref, ok := d.byID[id]
	if !ok {
		return nil, false
	}
	return d.nodes[ref], true
}

// Relation returns the relation for ref or nil.
func (d *DocumentGraph) Relation(ref RelRef) *Relation {
	if ref < 0 || int(ref) >= len(d.relations) {
		return nil
	}
	return d.relations[ref]
}

// Nodes returns all nodes in insertion order.
func (d *DocumentGraph) Nodes() []*Node {
	return d.nodes
}

// NodesOfKind returns the nodes of one kind in insertion order.
func (d *DocumentGraph) NodesOfKind(kind NodeKind) []*Node {
	var result []*Node
	for _, n := range d.nodes {
		if n.Kind == kind {
			result = append(result, n)
		}
	}
	return result
}

// Tokens returns all tokens in insertion order.
func (d *DocumentGraph) Tokens() []*Node {
	return d.NodesOfKind(Token)
}

// Texts returns all text containers in insertion order.
func (d *DocumentGraph) Texts() []*Node {
	return d.NodesOfKind(TextualDS)
}

// Relations returns all relations in insertion order.
func (d *DocumentGraph) Relations() []*Relation {
	return d.relations
}

// RelationsOfKind returns the relations of one kind.
func (d *DocumentGraph) RelationsOfKind(kind RelationKind) []*Relation {
	var result []*Relation
	for _, r := range d.relations {
		if r.Kind == kind {
			result = append(result, r)
		}
	}
	return result
}

// Outgoing returns the outgoing relations of a node, optionally restricted
// to some kinds.
func (d *DocumentGraph) Outgoing(ref NodeRef, kinds ...RelationKind) []*Relation {
	return d.filter(d.outgoing[ref], kinds)
}

// Incoming returns the incoming relations of a node, optionally restricted
// to some kinds.
func (d *DocumentGraph) Incoming(ref NodeRef, kinds ...RelationKind) []*Relation {
	return d.filter(d.incoming[ref], kinds)
}

func (d *DocumentGraph) filter(refs []RelRef, kinds []RelationKind) []*Relation {
	var result []*Relation
	for _, ref := range refs {
		r := d.relations[ref]
		if len(kinds) == 0 || containsKind(kinds, r.Kind) {
			result = append(result, r)
		}
	}
	return result
}

func containsKind(kinds []RelationKind, k RelationKind) bool {
	for _, candidate := range kinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// Layer returns the layer with the given name, creating it on first use.
func (d *DocumentGraph) Layer(name string) *Layer {
	if i, ok := d.layerIdx[name]; ok {
		return d.layers[i]
	}
	l := &Layer{Name: name}
	d.layerIdx[name] = len(d.layers)
	d.layers = append(d.layers, l)
	return l
}

// Layers returns all layers in creation order.
func (d *DocumentGraph) Layers() []*Layer {
	return d.layers
}

// AddNodeToLayer registers a node in a layer.
func (d *DocumentGraph) AddNodeToLayer(layer string, ref NodeRef) {
	n := d.Node(ref)
	if n == nil || containsString(n.Layers, layer) {
		return
	}
	l := d.Layer(layer)
	l.Nodes = append(l.Nodes, ref)
	n.Layers = append(n.Layers, layer)
}

// AddRelationToLayer registers a relation in a layer.
func (d *DocumentGraph) AddRelationToLayer(layer string, ref RelRef) {
	r := d.Relation(ref)
	if r == nil || containsString(r.Layers, layer) {
		return
	}
	l := d.Layer(layer)
	l.Relations = append(l.Relations, ref)
	r.Layers = append(r.Layers, layer)
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// TextPosition locates a token inside its text container.
type TextPosition struct {
	Text  NodeRef
	Start int
	End   int
}

// Position returns the textual anchor of a token.
func (d *DocumentGraph) Position(tok NodeRef) (TextPosition, bool) {
	for _, r := range d.Outgoing(tok, TextualRelation) {
		return TextPosition{Text: r.Target, Start: r.Start, End: r.End}, true
	}
	return TextPosition{}, false
}

// TokenText returns the text covered by a token. Offsets count characters,
// not bytes.
func (d *DocumentGraph) TokenText(tok NodeRef) (string, bool) {
	pos, ok := d.Position(tok)
	if !ok {
		return "", false
	}
	text := d.Node(pos.Text)
	if text == nil {
		return "", false
	}
	return substring(text.Text, pos.Start, pos.End), true
}

func substring(s string, start, end int) string {
	if utf8.RuneCountInString(s) == len(s) {
		if start < 0 || end > len(s) || start > end {
			return ""
		}
		return s[start:end]
	}
	runes := []rune(s)
	if start < 0 || end > len(runes) || start > end {
		return ""
	}
	return string(runes[start:end])
}

// SortTokens orders tokens by text container and start offset. Tokens
// without a textual anchor keep their relative order at the end.
func (d *DocumentGraph) SortTokens(tokens []NodeRef) []NodeRef {
	sorted := make([]NodeRef, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, oki := d.Position(sorted[i])
		pj, okj := d.Position(sorted[j])
		if oki != okj {
			return oki
		}
		if !oki {
			return false
		}
		if pi.Text != pj.Text {
			return pi.Text < pj.Text
		}
		return pi.Start < pj.Start
	})
	return sorted
}

// SortedTokens returns all tokens ordered by text position.
func (d *DocumentGraph) SortedTokens() []NodeRef {
	tokens := d.Tokens()
	refs := make([]NodeRef, len(tokens))
	for i, t := range tokens {
		refs[i] = t.Ref
	}
	return d.SortTokens(refs)
}

// OverlappedTokens returns the tokens reachable from ref through relations
// of the given kinds, ordered by text position.
func (d *DocumentGraph) OverlappedTokens(ref NodeRef, kinds ...RelationKind) []NodeRef {
	visited := map[NodeRef]bool{ref: true}
	queue := []NodeRef{ref}
	var tokens []NodeRef
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, r := range d.Outgoing(current, kinds...) {
			if visited[r.Target] {
				continue
			}
			visited[r.Target] = true
			if target := d.Node(r.Target); target != nil && target.Kind == Token {
				tokens = append(tokens, r.Target)
				continue
			}
			queue = append(queue, r.Target)
		}
	}
	return d.SortTokens(tokens)
}

// RootsByRelation groups the roots of all relations of one kind by relation
// type. A root has an outgoing relation of that kind and type but no
// incoming one. Roots are in node order, types are sorted.
func (d *DocumentGraph) RootsByRelation(kind RelationKind) (types []string, roots map[string][]NodeRef) {
	hasIn := make(map[string]map[NodeRef]bool)
	hasOut := make(map[string]map[NodeRef]bool)
	for _, r := range d.relations {
		if r.Kind != kind {
			continue
		}
		if hasIn[r.Type] == nil {
			hasIn[r.Type] = make(map[NodeRef]bool)
			hasOut[r.Type] = make(map[NodeRef]bool)
			types = append(types, r.Type)
		}
		hasIn[r.Type][r.Target] = true
		hasOut[r.Type][r.Source] = true
	}
	sort.Strings(types)

	roots = make(map[string][]NodeRef, len(types))
	for _, t := range types {
		for _, n := range d.nodes {
			if hasOut[t][n.Ref] && !hasIn[t][n.Ref] {
				roots[t] = append(roots[t], n.Ref)
			}
		}
	}
	return types, roots
}
