package mapping

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/salt"
	"github.com/Benny93/annis-go/internal/update"
)

// Component type names used in emitted events.
var (
	coverageType        = graph.Coverage.String()
	inverseCoverageType = graph.InverseCoverage.String()
	dominanceType       = graph.Dominance.String()
	pointingType        = graph.Pointing.String()
	orderingType        = graph.Ordering.String()
	leftTokenType       = graph.LeftToken.String()
	rightTokenType      = graph.RightToken.String()
	partOfType          = graph.PartOfSubcorpus.String()
)

// BuildUpdate emits the events that store a document graph.
//
// Node names are "<document path>#<fragment>", so equally named nodes of
// different documents never collide. Besides the nodes and their
// annotations the update carries the derived structure the engine expects:
// the token text as annis::tok, ORDERING edges between neighboring tokens of
// a text, LEFT_TOKEN/RIGHT_TOKEN anchors, COVERAGE/INVERSE_COVERAGE edges,
// dominance and pointing edges and the document's corpus chain.
//
// Failures while deriving the edges of a single node only skip that node's
// derived edges.
func BuildUpdate(doc *salt.DocumentGraph, opts ...Option) (*update.GraphUpdate, error) {
	o := newOptions(opts)
	if doc == nil || doc.Path == "" {
		err := fmt.Errorf("document without path: %w", ErrInvariantViolation)
		recordOperation("import", err)
		return nil, err
	}

	m := &importer{
		doc: doc,
		log: o.logger.Named("import").With(zap.String("document", doc.Path)),
		u:   update.NewGraphUpdate(),
	}
	m.addCorpusChain()
	m.addNodes()
	m.addTokenInformation()
	for _, n := range doc.Nodes() {
		if n.Kind == salt.Span || n.Kind == salt.Structure {
			m.guard(n, m.addCoverageInformation)
		}
	}
	m.addRelations()
	m.u.Finish()

	recordOperation("import", nil)
	return m.u, nil
}

type importer struct {
	doc *salt.DocumentGraph
	log *zap.Logger
	u   *update.GraphUpdate
}

// nodeName derives the unique engine name of a node.
func (m *importer) nodeName(n *salt.Node) string {
	fragment := n.Name
	if id := strings.TrimPrefix(n.ID, salt.IDPrefix); id != n.ID {
		if _, frag := salt.SplitNodeName(id); frag != "" {
			fragment = frag
		}
	}
	return m.doc.Path + "#" + fragment
}

// addCorpusChain adds the document and its parent corpora.
func (m *importer) addCorpusChain() {
	segments := strings.Split(m.doc.Path, "/")
	var child string
	for i := len(segments); i > 0; i-- {
		name := strings.Join(segments[:i], "/")
		m.u.AddNode(name, graph.NodeTypeCorpus)
		if i == len(segments) {
			m.u.AddNodeLabel(name, graph.ANNISNamespace, graph.DocKey, segments[i-1])
		}
		if child != "" {
			m.u.AddEdge(child, name, graph.ANNISNamespace, partOfType, "")
		}
		child = name
	}
}

func (m *importer) addNodes() {
	for _, n := range m.doc.Nodes() {
		if !isAnnotationNode(n) {
			continue
		}
		name := m.nodeName(n)
		m.u.AddNode(name, graph.NodeTypeNode)
		for _, a := range n.Annotations {
			m.u.AddNodeLabel(name, a.NS, a.Name, a.Value)
		}
		if len(n.Layers) > 0 {
			m.u.AddNodeLabel(name, graph.ANNISNamespace, graph.LayerKey, n.Layers[0])
		}
	}
	for _, n := range m.doc.Nodes() {
		if isAnnotationNode(n) {
			m.u.AddEdge(m.nodeName(n), m.doc.Path, graph.ANNISNamespace, partOfType, "")
		}
	}
}

// addTokenInformation labels tokens with their text and chains tokens of
// the same text with ORDERING edges.
func (m *importer) addTokenInformation() {
	var (
		lastToken string
		lastText  salt.NodeRef = -1
	)
	for _, ref := range m.doc.SortedTokens() {
		tok := m.doc.Node(ref)
		name := m.nodeName(tok)
		text, _ := m.doc.TokenText(ref)
		m.u.AddNodeLabel(name, graph.ANNISNamespace, graph.TokKey, text)

		textRef := salt.NodeRef(-1)
		if pos, ok := m.doc.Position(ref); ok {
			textRef = pos.Text
		}
		if lastToken != "" && textRef >= 0 && textRef == lastText {
			m.u.AddEdge(lastToken, name, graph.ANNISNamespace, orderingType, "")
		}
		lastToken = name
		lastText = textRef
	}
}

// addCoverageInformation anchors a span or structure to its tokens.
func (m *importer) addCoverageInformation(n *salt.Node) {
	var overlapped []salt.NodeRef
	if n.Kind == salt.Structure {
		overlapped = m.doc.OverlappedTokens(n.Ref, salt.SpanningRelation, salt.DominanceRelation)
	} else {
		overlapped = m.doc.OverlappedTokens(n.Ref, salt.SpanningRelation)
	}
	if len(overlapped) == 0 {
		recordAnomaly(m.log, anomalyOrphanNode, "node is not connected to any token and is excluded from coverage",
			zap.String("node", n.ID))
		return
	}

	name := m.nodeName(n)
	first := m.nodeName(m.doc.Node(overlapped[0]))
	last := m.nodeName(m.doc.Node(overlapped[len(overlapped)-1]))

	m.u.AddEdge(first, name, graph.ANNISNamespace, leftTokenType, "")
	m.u.AddEdge(name, first, graph.ANNISNamespace, leftTokenType, "")
	m.u.AddEdge(last, name, graph.ANNISNamespace, rightTokenType, "")
	m.u.AddEdge(name, last, graph.ANNISNamespace, rightTokenType, "")

	for _, ref := range overlapped {
		tok := m.nodeName(m.doc.Node(ref))
		m.u.AddEdge(name, tok, graph.ANNISNamespace, coverageType, "")
		m.u.AddEdge(tok, name, graph.ANNISNamespace, inverseCoverageType, "")
	}
}

// addRelations emits dominance and pointing edges with their labels.
func (m *importer) addRelations() {
	for _, rel := range m.doc.Relations() {
		if rel.Kind != salt.DominanceRelation && rel.Kind != salt.PointingRelation {
			continue
		}
		source := m.doc.Node(rel.Source)
		target := m.doc.Node(rel.Target)
		if !isAnnotationNode(source) || !isAnnotationNode(target) {
			recordAnomaly(m.log, anomalyDanglingEdge, "skipping relation between non-annotation nodes",
				zap.Stringer("kind", rel.Kind), zap.String("source", source.ID), zap.String("target", target.ID))
			continue
		}
		sourceName, targetName := m.nodeName(source), m.nodeName(target)

		componentType := pointingType
		if rel.Kind == salt.DominanceRelation {
			componentType = dominanceType
		}
		for _, layer := range layerNames(rel.Layers) {
			m.u.AddEdge(sourceName, targetName, layer, componentType, rel.Type)
			for _, a := range rel.Annotations {
				m.u.AddEdgeLabel(sourceName, targetName, layer, componentType, rel.Type, a.NS, a.Name, a.Value)
			}
			if rel.Kind == salt.DominanceRelation && rel.Type != "" {
				// unnamed mirror, removed again on export
				m.u.AddEdge(sourceName, targetName, layer, componentType, "")
			}
		}
	}
}

// guard isolates failures of a single node. The node's events are staged
// and only kept when fn returns normally.
func (m *importer) guard(n *salt.Node, fn func(*salt.Node)) {
	out := m.u
	m.u = update.NewGraphUpdate()
	defer func() {
		staged := m.u
		m.u = out
		if r := recover(); r != nil {
			recordAnomaly(m.log, anomalyNodeFailure, "deriving edges failed, skipping node",
				zap.String("node", n.ID), zap.Any("panic", r))
			return
		}
		out.Append(staged)
	}()
	fn(n)
}

func isAnnotationNode(n *salt.Node) bool {
	return n != nil && (n.Kind == salt.Token || n.Kind == salt.Span || n.Kind == salt.Structure)
}

// layerNames returns the relation's layers or the default empty layer.
func layerNames(layers []string) []string {
	if len(layers) == 0 {
		return []string{""}
	}
	return layers
}

// BuildCorpusUpdate emits the corpus and document nodes of a corpus tree,
// their meta annotations and the PART_OF_SUBCORPUS edges between them.
func BuildCorpusUpdate(cg *salt.CorpusGraph, opts ...Option) (*update.GraphUpdate, error) {
	o := newOptions(opts)
	if cg == nil {
		err := fmt.Errorf("nil corpus graph: %w", ErrInvariantViolation)
		recordOperation("import_corpus", err)
		return nil, err
	}
	log := o.logger.Named("import_corpus")

	u := update.NewGraphUpdate()
	cg.Walk(func(n *salt.CorpusNode, _ int) {
		path := n.Path()
		u.AddNode(path, graph.NodeTypeCorpus)
		if n.Kind == salt.Document {
			u.AddNodeLabel(path, graph.ANNISNamespace, graph.DocKey, n.Name)
		}
		for _, a := range n.MetaAnnotations {
			u.AddNodeLabel(path, a.NS, a.Name, a.Value)
		}
	})
	cg.Walk(func(n *salt.CorpusNode, _ int) {
		if n.Parent != nil {
			u.AddEdge(n.Path(), n.Parent.Path(), graph.ANNISNamespace, partOfType, "")
		}
	})
	u.Finish()

	log.Debug("corpus update built", zap.Int("corpus_nodes", cg.Len()), zap.Int("events", u.Len()))
	recordOperation("import_corpus", nil)
	return u, nil
}
