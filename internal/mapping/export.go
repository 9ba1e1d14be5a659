package mapping

import (
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/salt"
)

// Feature names written on exported nodes.
const (
	NodeIDFeature       = "node_id"
	TokenizationFeature = "tokenization"
)

const textSeparator = " "

// Export maps a graph snapshot to an annotation document graph.
//
// All nodes of type "node" are mapped. Edges whose endpoints are not part
// of the snapshot are skipped, which is expected for bounded subgraphs.
func Export(db GraphDB, opts ...Option) (*salt.DocumentGraph, error) {
	o := newOptions(opts)
	x := &exporter{
		db:       db,
		log:      o.logger.Named("export"),
		nodes:    make(map[graph.NodeID]salt.NodeRef),
		labels:   make(map[graph.NodeID][]graph.Annotation),
		backbone: make(map[graph.NodeID]int),
	}

	doc, err := x.run()
	recordOperation("export", err)
	if err != nil {
		x.log.Error("export aborted", zap.Error(err))
		return nil, err
	}
	return doc, nil
}

// exporter holds the state of one export call.
type exporter struct {
	db  GraphDB
	log *zap.Logger
	doc *salt.DocumentGraph

	components []graph.Component
	dominance  []graph.Component
	order      []graph.NodeID
	labels     map[graph.NodeID][]graph.Annotation
	nodes      map[graph.NodeID]salt.NodeRef

	// namedDominance holds the edges of named, non-internal dominance
	// components. Built on first use.
	namedDominance map[graph.Edge]bool

	// backbone maps timeline backbone nodes to their point of time.
	backbone map[graph.NodeID]int

	texts int
}

func (x *exporter) run() (*salt.DocumentGraph, error) {
	x.components = x.db.Components()
	for _, c := range x.components {
		if !c.Type.Valid() {
			return nil, fmt.Errorf("component %s: %w", c, ErrInvariantViolation)
		}
		if c.Type == graph.Dominance {
			x.dominance = append(x.dominance, c)
		}
	}

	x.order = x.db.NodesByType(graph.NodeTypeNode)
	for _, id := range x.order {
		x.labels[id] = resolveLabels(x.db, x.db.NodeLabels(id))
	}
	x.doc = salt.NewDocumentGraph(x.documentPath())

	if err := x.detectTimeline(); err != nil {
		return nil, err
	}

	for _, id := range x.order {
		if _, ok := x.backbone[id]; ok {
			continue
		}
		if err := x.mapNode(id); err != nil {
			return nil, err
		}
	}

	for _, id := range x.order {
		for _, c := range x.components {
			for _, e := range x.db.OutgoingEdges(id, c) {
				if err := x.mapEdge(c, e); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := x.recreateTexts(); err != nil {
		return nil, err
	}
	if err := x.addTimelineRelations(); err != nil {
		return nil, err
	}
	return x.doc, nil
}

// documentPath is the "<corpus>/<document>" prefix of the first qualified
// node name.
func (x *exporter) documentPath() string {
	for _, id := range x.order {
		if name, ok := label(x.labels[id], graph.ANNISNamespace, graph.NodeNameKey); ok {
			if path, _ := salt.SplitNodeName(name); path != "" {
				return path
			}
		}
	}
	return ""
}

func (x *exporter) mapNode(id graph.NodeID) error {
	labels := x.labels[id]
	kind := Classify(labels, dominanceProbe(x.db, x.dominance, id))

	var nodeID, fragment string
	if name, ok := label(labels, graph.ANNISNamespace, graph.NodeNameKey); ok && name != "" {
		nodeID = salt.IDPrefix + name
		path, frag := salt.SplitNodeName(name)
		if path == "" {
			frag = lastSegment(name)
		}
		fragment = frag
	} else {
		fragment = uuid.NewString()
		nodeID = salt.NodeID(x.doc.Path, fragment)
	}

	n, err := x.doc.AddNodeWithID(kind, nodeID, fragment)
	if err != nil {
		return fmt.Errorf("node %d: %v: %w", id, err, ErrInvariantViolation)
	}
	n.Annotations, n.Features = splitLabels(labels)
	n.Features = append(n.Features, salt.Annotation{
		NS:    graph.ANNISNamespace,
		Name:  NodeIDFeature,
		Value: strconv.FormatUint(uint64(id), 10),
	})
	if layer, ok := label(labels, graph.ANNISNamespace, graph.LayerKey); ok && layer != "" {
		x.doc.AddNodeToLayer(layer, n.Ref)
	}
	x.nodes[id] = n.Ref
	return nil
}

// mapEdge materializes one native edge as at most one relation.
func (x *exporter) mapEdge(c graph.Component, e graph.Edge) error {
	if e.Source == e.Target {
		return nil
	}

	var kind salt.RelationKind
	switch c.Type {
	case graph.Dominance:
		if c.Name == "" && x.isMirror(e) {
			return nil
		}
		kind = salt.DominanceRelation
	case graph.Pointing:
		kind = salt.PointingRelation
	case graph.Ordering:
		kind = salt.OrderRelation
	case graph.Coverage:
		kind = salt.SpanningRelation
	case graph.LeftToken, graph.RightToken, graph.InverseCoverage, graph.PartOfSubcorpus:
		return nil
	default:
		return fmt.Errorf("edge %d -> %d in %s: %w", e.Source, e.Target, c, ErrInvariantViolation)
	}

	source, sourceOK := x.nodes[e.Source]
	target, targetOK := x.nodes[e.Target]
	if !sourceOK || !targetOK {
		recordAnomaly(x.log, anomalyDanglingEdge, "skipping edge with endpoint outside snapshot",
			zap.Stringer("component", c), zap.Uint64("source", uint64(e.Source)), zap.Uint64("target", uint64(e.Target)))
		return nil
	}

	if kind == salt.SpanningRelation {
		sk := x.doc.Node(source).Kind
		if (sk != salt.Span && sk != salt.Structure) || x.doc.Node(target).Kind != salt.Token {
			return nil
		}
	}

	rel, err := x.doc.AddRelation(kind, source, target)
	if err != nil {
		return fmt.Errorf("edge %d -> %d: %v: %w", e.Source, e.Target, err, ErrInvariantViolation)
	}
	rel.Type = c.Name
	rel.Annotations, rel.Features = splitLabels(resolveLabels(x.db, x.db.EdgeLabels(e, c)))
	if c.Layer != "" {
		x.doc.AddRelationToLayer(c.Layer, rel.Ref)
	}
	return nil
}

// isMirror reports whether a named dominance component outside the internal
// layer has the same edge.
func (x *exporter) isMirror(e graph.Edge) bool {
	if x.namedDominance == nil {
		x.namedDominance = make(map[graph.Edge]bool)
		for _, c := range x.dominance {
			// named components of the empty default layer also shadow their mirrors, only the annis layer is excluded
			if c.Name == "" || c.Layer == graph.ANNISNamespace {
				continue
			}
			for _, id := range x.order {
				for _, edge := range x.db.OutgoingEdges(id, c) {
					x.namedDominance[edge] = true
				}
			}
		}
	}
	return x.namedDominance[e]
}

// detectTimeline turns the unnamed ordering chain into a timeline when
// other tokenizations exist next to it.
func (x *exporter) detectTimeline() error {
	names := make(map[string]bool)
	var backboneComponents []graph.Component
	for _, c := range x.components {
		if c.Type != graph.Ordering {
			continue
		}
		names[c.Name] = true
		if c.Name == "" {
			backboneComponents = append(backboneComponents, c)
		}
	}
	if len(names) < 2 || !names[""] {
		return nil
	}

	successor := make(map[graph.NodeID]graph.NodeID)
	hasIncoming := make(map[graph.NodeID]bool)
	for _, c := range backboneComponents {
		for _, id := range x.order {
			for _, e := range x.db.OutgoingEdges(id, c) {
				if next, ok := successor[e.Source]; ok && next != e.Target {
					recordAnomaly(x.log, anomalyMalformedTimeline, "backbone chain branches, treating tokenizations independently",
						zap.Uint64("node", uint64(e.Source)))
					return nil
				}
				successor[e.Source] = e.Target
				hasIncoming[e.Target] = true
			}
		}
	}

	var roots []graph.NodeID
	for source := range successor {
		if !hasIncoming[source] {
			roots = append(roots, source)
		}
	}
	if len(roots) != 1 {
		recordAnomaly(x.log, anomalyMalformedTimeline, "backbone chain has no single root, treating tokenizations independently",
			zap.Int("roots", len(roots)))
		return nil
	}

	point := 0
	for current, ok := roots[0], true; ok; current, ok = successor[current] {
		if _, seen := x.backbone[current]; seen {
			break
		}
		x.backbone[current] = point
		point++
	}
	if _, err := x.doc.SetTimeline(point); err != nil {
		return fmt.Errorf("creating timeline: %v: %w", err, ErrInvariantViolation)
	}
	return nil
}

// recreateTexts walks each tokenization from its roots and builds one text
// per walk.
func (x *exporter) recreateTexts() error {
	types, roots := x.doc.RootsByRelation(salt.OrderRelation)

	// tokens outside any chain belong to the default tokenization
	var isolated []salt.NodeRef
	for _, tok := range x.doc.Tokens() {
		if len(x.doc.Outgoing(tok.Ref, salt.OrderRelation)) == 0 && len(x.doc.Incoming(tok.Ref, salt.OrderRelation)) == 0 {
			isolated = append(isolated, tok.Ref)
		}
	}
	if len(isolated) > 0 {
		if _, ok := roots[""]; !ok {
			types = append([]string{""}, types...)
		}
		roots[""] = mergeRefs(roots[""], isolated)
	}

	for _, name := range types {
		visited := make(map[salt.NodeRef]bool)
		if len(roots[name]) > 1 {
			recordAnomaly(x.log, anomalyDisconnectedChain, "tokenization has several chains, creating one text per chain",
				zap.String("tokenization", name), zap.Int("chains", len(roots[name])))
		}
		for _, root := range roots[name] {
			if err := x.walkChain(name, root, visited); err != nil {
				return err
			}
		}
		for _, rel := range x.doc.RelationsOfKind(salt.OrderRelation) {
			if rel.Type != name || visited[rel.Source] {
				continue
			}
			recordAnomaly(x.log, anomalyCyclicChain, "tokenization chain without root, walking from first unvisited token",
				zap.String("tokenization", name), zap.String("node", x.doc.Node(rel.Source).ID))
			if err := x.walkChain(name, rel.Source, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

type tokenRange struct {
	token      salt.NodeRef
	start, end int
}

// walkChain performs a depth-first walk along the order relations of one
// tokenization and creates a text container for the visited tokens.
func (x *exporter) walkChain(name string, root salt.NodeRef, visited map[salt.NodeRef]bool) error {
	var (
		text   []byte
		length int
		ranges []tokenRange
		stack  = []salt.NodeRef{root}
	)

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] {
			continue
		}
		visited[current] = true

		n := x.doc.Node(current)
		if tok, ok := n.Feature(graph.ANNISNamespace, graph.TokKey); ok && n.Kind == salt.Token {
			if len(ranges) > 0 {
				text = append(text, textSeparator...)
				length += utf8.RuneCountInString(textSeparator)
			}
			start := length
			text = append(text, tok...)
			length += utf8.RuneCountInString(tok)
			ranges = append(ranges, tokenRange{token: current, start: start, end: length})
		}

		out := x.doc.Outgoing(current, salt.OrderRelation)
		for i := len(out) - 1; i >= 0; i-- {
			if out[i].Type == name && !visited[out[i].Target] {
				stack = append(stack, out[i].Target)
			}
		}
	}

	if len(ranges) == 0 {
		return nil
	}

	x.texts++
	fragment := fmt.Sprintf("sText%d", x.texts)
	ds, err := x.doc.AddNodeWithID(salt.TextualDS, salt.NodeID(x.doc.Path, fragment), fragment)
	if err != nil {
		return fmt.Errorf("text %s: %v: %w", fragment, err, ErrInvariantViolation)
	}
	ds.Text = string(text)
	if name != "" {
		ds.Features = append(ds.Features, salt.Annotation{NS: graph.ANNISNamespace, Name: TokenizationFeature, Value: name})
	}

	for _, r := range ranges {
		rel, err := x.doc.AddRelation(salt.TextualRelation, r.token, ds.Ref)
		if err != nil {
			return fmt.Errorf("textual relation: %v: %w", err, ErrInvariantViolation)
		}
		rel.Start, rel.End = r.start, r.end
	}
	return nil
}

// addTimelineRelations anchors every token that covers backbone nodes to
// the points of time of those nodes.
func (x *exporter) addTimelineRelations() error {
	if x.doc.Timeline == nil {
		return nil
	}
	coverage := graph.Component{Type: graph.Coverage, Layer: graph.ANNISNamespace}
	for _, id := range x.order {
		ref, ok := x.nodes[id]
		if !ok || x.doc.Node(ref).Kind != salt.Token {
			continue
		}
		first, last := -1, -1
		for _, e := range x.db.OutgoingEdges(id, coverage) {
			p, ok := x.backbone[e.Target]
			if !ok {
				continue
			}
			if first < 0 || p < first {
				first = p
			}
			if p > last {
				last = p
			}
		}
		if first < 0 {
			continue
		}
		rel, err := x.doc.AddRelation(salt.TimelineRelation, ref, x.doc.Timeline.Node)
		if err != nil {
			return fmt.Errorf("timeline relation: %v: %w", err, ErrInvariantViolation)
		}
		rel.Start, rel.End = first, last+1
	}
	return nil
}

func mergeRefs(a, b []salt.NodeRef) []salt.NodeRef {
	result := append(append([]salt.NodeRef{}, a...), b...)
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
