package mapping

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/salt"
)

// ExportCorpusGraph rebuilds the corpus and document tree from the
// PART_OF_SUBCORPUS edges between "corpus" nodes.
//
// Without any such edge every corpus node becomes a root corpus. Otherwise
// parents are created before their children, each node exactly once, and
// nodes that are nobody's parent become documents.
func ExportCorpusGraph(db GraphDB, opts ...Option) (*salt.CorpusGraph, error) {
	o := newOptions(opts)
	x := &corpusExporter{
		db:       db,
		log:      o.logger.Named("export_corpus"),
		result:   salt.NewCorpusGraph(),
		labels:   make(map[graph.NodeID][]graph.Annotation),
		parent:   make(map[graph.NodeID]graph.NodeID),
		isParent: make(map[graph.NodeID]bool),
		created:  make(map[graph.NodeID]*salt.CorpusNode),
		pending:  make(map[graph.NodeID]bool),
	}

	cg, err := x.run()
	recordOperation("export_corpus", err)
	if err != nil {
		x.log.Error("corpus export aborted", zap.Error(err))
		return nil, err
	}
	return cg, nil
}

type corpusExporter struct {
	db     GraphDB
	log    *zap.Logger
	result *salt.CorpusGraph

	order    []graph.NodeID
	labels   map[graph.NodeID][]graph.Annotation
	parent   map[graph.NodeID]graph.NodeID
	isParent map[graph.NodeID]bool
	created  map[graph.NodeID]*salt.CorpusNode
	pending  map[graph.NodeID]bool
}

func (x *corpusExporter) run() (*salt.CorpusGraph, error) {
	x.order = x.db.NodesByType(graph.NodeTypeCorpus)
	for _, id := range x.order {
		x.labels[id] = resolveLabels(x.db, x.db.NodeLabels(id))
	}

	for _, c := range x.db.Components() {
		if c.Type != graph.PartOfSubcorpus {
			continue
		}
		for _, child := range x.order {
			for _, e := range x.db.OutgoingEdges(child, c) {
				if e.Source == e.Target {
					continue
				}
				x.parent[e.Source] = e.Target
				x.isParent[e.Target] = true
			}
		}
	}

	if len(x.parent) == 0 {
		for _, id := range x.order {
			if _, err := x.add(id, nil, salt.Corpus); err != nil {
				return nil, err
			}
		}
		return x.result, nil
	}

	for _, id := range x.order {
		if _, err := x.create(id); err != nil {
			return nil, err
		}
	}
	return x.result, nil
}

// create materializes the parent chain of id before id itself.
func (x *corpusExporter) create(id graph.NodeID) (*salt.CorpusNode, error) {
	if n, ok := x.created[id]; ok {
		return n, nil
	}
	if _, ok := x.labels[id]; !ok {
		recordAnomaly(x.log, anomalyDanglingCorpus, "skipping corpus node outside snapshot",
			zap.Uint64("node", uint64(id)))
		return nil, nil
	}

	var parent *salt.CorpusNode
	if p, ok := x.parent[id]; ok {
		if x.pending[id] {
			recordAnomaly(x.log, anomalyDanglingCorpus, "corpus hierarchy contains a cycle, creating node as root",
				zap.Uint64("node", uint64(id)))
		} else {
			x.pending[id] = true
			var err error
			parent, err = x.create(p)
			delete(x.pending, id)
			if err != nil {
				return nil, err
			}
			// the recursion may already have created id through a cycle
			if n, ok := x.created[id]; ok {
				return n, nil
			}
		}
	}

	kind := salt.Document
	if x.isParent[id] {
		kind = salt.Corpus
	}
	return x.add(id, parent, kind)
}

func (x *corpusExporter) add(id graph.NodeID, parent *salt.CorpusNode, kind salt.CorpusKind) (*salt.CorpusNode, error) {
	labels := x.labels[id]
	name, ok := label(labels, graph.ANNISNamespace, graph.NodeNameKey)
	if !ok || name == "" {
		name, ok = label(labels, graph.ANNISNamespace, graph.DocKey)
	}
	if !ok || name == "" {
		name = strconv.FormatUint(uint64(id), 10)
	}

	if parent != nil && parent.Kind == salt.Document {
		return nil, fmt.Errorf("corpus node %s below document %s: %w", name, parent.ID, ErrInvariantViolation)
	}
	n, err := x.result.AddCorpus(parent, kind, salt.IDPrefix+name, lastSegment(name))
	if err != nil {
		return nil, fmt.Errorf("corpus node %s: %v: %w", name, err, ErrInvariantViolation)
	}
	n.MetaAnnotations, n.Features = splitLabels(labels)
	x.created[id] = n
	return n, nil
}
