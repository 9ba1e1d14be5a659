package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/observability"
	"github.com/Benny93/annis-go/internal/update"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Key layout. Every key after the prefix starts with the corpus name and a
// NUL separator.
const (
	prefixCorpus = "c:" // c:<corpus> -> corpusRecord
	prefixNode   = "n:" // n:<corpus>\x00<node> -> nodeRecord
	prefixEdge   = "e:" // e:<corpus>\x00<source>\x00<type>\x00<layer>\x00<name>\x00<target> -> edgeRecord
	prefixValue  = "v:" // see valueIndex
	sep          = "\x00"
)

type labelRecord struct {
	NS    string `json:"ns"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

type nodeRecord struct {
	Type   string        `json:"type"`
	Labels []labelRecord `json:"labels,omitempty"`
}

type edgeRecord struct {
	Source string        `json:"source"`
	Target string        `json:"target"`
	Type   string        `json:"type"`
	Layer  string        `json:"layer"`
	Name   string        `json:"name"`
	Labels []labelRecord `json:"labels,omitempty"`
}

type corpusRecord struct {
	Name    string `json:"name"`
	Updates int    `json:"updates"`
}

// BadgerBackend persists corpora in BadgerDB. Nodes and edges are stored as
// individual records, so an update only rewrites what it touched. Loaded
// corpora are cached as native graphs.
type BadgerBackend struct {
	db          *badger.DB
	mu          sync.RWMutex
	initialized bool
	readOnly    bool
	corpora     map[string]bool
	cache       map[string]*graph.Graph
	log         *zap.Logger
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// badgerLogger routes badger's own messages into zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.log = observability.GetLogger().Named("storage")
	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLogger(badgerLogger{b.log.Named("badger").Sugar()}).
		WithLoggingLevel(badger.ERROR)
	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}
	b.db = db
	b.readOnly = readOnly
	b.cache = make(map[string]*graph.Graph)
	b.corpora = make(map[string]bool)

	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixCorpus)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			b.corpora[strings.TrimPrefix(string(it.Item().Key()), prefixCorpus)] = true
		}
		return nil
	})
	if err != nil {
		b.db.Close()
		b.db = nil
		return fmt.Errorf("listing corpora: %w", err)
	}

	b.initialized = true
	b.log.Debug("storage opened", zap.String("path", path), zap.Int("corpora", len(b.corpora)))
	return nil
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	b.cache = nil
	b.initialized = false
	return err
}

// ListCorpora implements Backend.
func (b *BadgerBackend) ListCorpora(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.corpora))
	for name := range b.corpora {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ApplyUpdate implements Backend. The update is validated against a copy of
// the cached graph first, then every touched record is written in a single
// badger transaction.
func (b *BadgerBackend) ApplyUpdate(ctx context.Context, corpus string, u *update.GraphUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return errors.New("storage not initialized")
	}
	if b.readOnly {
		return ErrReadOnly
	}

	old, err := b.loadLocked(corpus)
	if errors.Is(err, ErrCorpusNotFound) {
		old = graph.NewGraph()
	} else if err != nil {
		return err
	}

	next := old.Clone()
	if err := next.Apply(u); err != nil {
		return rejected(corpus, err)
	}

	t := collectTouched(u)
	err = b.db.Update(func(txn *badger.Txn) error {
		rec := corpusRecord{Name: corpus}
		if err := getJSON(txn, []byte(prefixCorpus+corpus), &rec); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		rec.Updates++
		if err := setJSON(txn, []byte(prefixCorpus+corpus), rec); err != nil {
			return err
		}
		return persist(txn, corpus, old, next, t)
	})
	if err != nil {
		return fmt.Errorf("persisting update for corpus %s: %w", corpus, err)
	}

	b.cache[corpus] = next
	b.corpora[corpus] = true
	b.log.Debug("update applied", zap.String("corpus", corpus),
		zap.Int("events", u.Len()), zap.Int("nodes", len(t.nodes)), zap.Int("edges", len(t.edges)))
	return nil
}

// corpusGraph returns the cached graph, loading it on first use.
func (b *BadgerBackend) corpusGraph(corpus string) (*graph.Graph, error) {
	b.mu.RLock()
	if !b.initialized {
		b.mu.RUnlock()
		return nil, errors.New("storage not initialized")
	}
	g, ok := b.cache[corpus]
	b.mu.RUnlock()
	if ok {
		return g, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadLocked(corpus)
}

// loadLocked reads a corpus from disk. Caller must hold the write lock.
func (b *BadgerBackend) loadLocked(corpus string) (*graph.Graph, error) {
	if g, ok := b.cache[corpus]; ok {
		return g, nil
	}
	if !b.corpora[corpus] {
		return nil, fmt.Errorf("%s: %w", corpus, ErrCorpusNotFound)
	}

	g := graph.NewGraph()
	err := b.db.View(func(txn *badger.Txn) error {
		err := iterate(txn, prefixNode+corpus+sep, func(key string, val []byte) error {
			var rec nodeRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("node %s: %w", key, err)
			}
			id := g.AddNode(key, rec.Type)
			for _, l := range rec.Labels {
				if err := g.SetNodeLabel(id, l.NS, l.Name, l.Value); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		return iterate(txn, prefixEdge+corpus+sep, func(key string, val []byte) error {
			var rec edgeRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("edge %q: %w", key, err)
			}
			ct, err := graph.ParseComponentType(rec.Type)
			if err != nil {
				return err
			}
			source, ok1 := g.NodeByName(rec.Source)
			target, ok2 := g.NodeByName(rec.Target)
			if !ok1 || !ok2 {
				b.log.Warn("skipping stored edge with missing endpoint",
					zap.String("corpus", corpus), zap.String("source", rec.Source), zap.String("target", rec.Target))
				return nil
			}
			c := graph.Component{Type: ct, Layer: rec.Layer, Name: rec.Name}
			e := graph.Edge{Source: source, Target: target}
			if err := g.AddEdge(c, e); err != nil {
				return err
			}
			for _, l := range rec.Labels {
				if err := g.SetEdgeLabel(c, e, l.NS, l.Name, l.Value); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading corpus %s: %w", corpus, err)
	}

	b.cache[corpus] = g
	b.log.Debug("corpus loaded", zap.String("corpus", corpus), zap.Int("nodes", g.NodeCount()))
	return g, nil
}

// Subgraph implements Backend.
func (b *BadgerBackend) Subgraph(ctx context.Context, corpus string, nodeNames []string, ctxLeft, ctxRight int) (*graph.Graph, error) {
	g, err := b.corpusGraph(corpus)
	if err != nil {
		return nil, err
	}
	return g.Subgraph(nodeNames, ctxLeft, ctxRight)
}

// DocumentGraph implements Backend.
func (b *BadgerBackend) DocumentGraph(ctx context.Context, corpus, docPath string) (*graph.Graph, error) {
	g, err := b.corpusGraph(corpus)
	if err != nil {
		return nil, err
	}
	return g.DocumentSubgraph(docPath)
}

// CorpusGraph implements Backend.
func (b *BadgerBackend) CorpusGraph(ctx context.Context, corpus string) (*graph.Graph, error) {
	g, err := b.corpusGraph(corpus)
	if err != nil {
		return nil, err
	}
	return g.CorpusSubgraph(), nil
}

// DeleteCorpus implements Backend.
func (b *BadgerBackend) DeleteCorpus(ctx context.Context, corpus string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readOnly {
		return ErrReadOnly
	}
	if !b.corpora[corpus] {
		return fmt.Errorf("%s: %w", corpus, ErrCorpusNotFound)
	}

	if err := b.db.DropPrefix(
		[]byte(prefixNode+corpus+sep),
		[]byte(prefixEdge+corpus+sep),
		[]byte(prefixValue+corpus+sep),
	); err != nil {
		return fmt.Errorf("dropping corpus %s: %w", corpus, err)
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixCorpus + corpus))
	}); err != nil {
		return fmt.Errorf("deleting corpus record %s: %w", corpus, err)
	}

	delete(b.corpora, corpus)
	delete(b.cache, corpus)
	return nil
}

// Stats implements Backend.
func (b *BadgerBackend) Stats(ctx context.Context, corpus string) (map[string]int, error) {
	g, err := b.corpusGraph(corpus)
	if err != nil {
		return nil, err
	}
	stats := g.Stats()

	var rec corpusRecord
	err = b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixCorpus+corpus), &rec)
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("reading corpus record: %w", err)
	}
	stats["updates"] = rec.Updates
	return stats, nil
}

// Find implements Backend using the persisted value index.
func (b *BadgerBackend) Find(ctx context.Context, corpus string, q Query, limit int) ([]Match, error) {
	b.mu.RLock()
	known := b.corpora[corpus]
	b.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("%s: %w", corpus, ErrCorpusNotFound)
	}

	var matches []Match
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		matches, err = valueIndex{corpus: corpus}.search(txn, q, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("searching values: %w", err)
	}
	return matches, nil
}

// touched collects what an update may have changed.
type touched struct {
	nodes map[string]bool
	edges map[edgeRef]bool
}

type edgeRef struct {
	source, target string
	c              graph.Component
}

func collectTouched(u *update.GraphUpdate) touched {
	t := touched{nodes: make(map[string]bool), edges: make(map[edgeRef]bool)}
	for _, ch := range u.ConsistentChanges() {
		e := ch.Event
		switch e.Kind {
		case update.AddNode, update.DeleteNode, update.AddNodeLabel, update.DeleteNodeLabel:
			t.nodes[e.NodeName] = true
		default:
			ct, err := graph.ParseComponentType(e.ComponentType)
			if err != nil {
				continue
			}
			t.edges[edgeRef{
				source: e.SourceNode,
				target: e.TargetNode,
				c:      graph.Component{Type: ct, Layer: e.Layer, Name: e.ComponentName},
			}] = true
		}
	}
	return t
}

// persist writes the touched records of next and removes those that no
// longer exist.
func persist(txn *badger.Txn, corpus string, old, next *graph.Graph, t touched) error {
	ix := valueIndex{corpus: corpus}

	for name := range t.nodes {
		oldID, existed := old.NodeByName(name)
		if existed {
			if err := ix.remove(txn, name, old.NodeAnnotations(oldID)); err != nil {
				return err
			}
		}

		id, ok := next.NodeByName(name)
		if !ok {
			if err := txn.Delete(nodeKey(corpus, name)); err != nil {
				return err
			}
			if existed {
				// edges removed together with the node
				for _, c := range old.Components() {
					for _, e := range old.OutgoingEdges(oldID, c) {
						target, _ := old.NodeName(e.Target)
						t.edges[edgeRef{source: name, target: target, c: c}] = true
					}
					for _, e := range old.IncomingEdges(oldID, c) {
						source, _ := old.NodeName(e.Source)
						t.edges[edgeRef{source: source, target: name, c: c}] = true
					}
				}
			}
			continue
		}

		annos := next.NodeAnnotations(id)
		nodeType, _ := next.NodeLabel(id, graph.ANNISNamespace, graph.NodeTypeKey)
		if err := setJSON(txn, nodeKey(corpus, name), nodeRecord{Type: nodeType, Labels: toRecords(annos)}); err != nil {
			return err
		}
		if err := ix.set(txn, name, annos); err != nil {
			return err
		}
	}

	for ref := range t.edges {
		key := edgeKey(corpus, ref)
		e, ok := lookupEdge(next, ref)
		if !ok {
			if err := txn.Delete(key); err != nil {
				return err
			}
			continue
		}
		rec := edgeRecord{
			Source: ref.source,
			Target: ref.target,
			Type:   ref.c.Type.String(),
			Layer:  ref.c.Layer,
			Name:   ref.c.Name,
			Labels: toRecords(next.EdgeAnnotations(e, ref.c)),
		}
		if err := setJSON(txn, key, rec); err != nil {
			return err
		}
	}
	return nil
}

func lookupEdge(g *graph.Graph, ref edgeRef) (graph.Edge, bool) {
	source, ok1 := g.NodeByName(ref.source)
	target, ok2 := g.NodeByName(ref.target)
	if !ok1 || !ok2 {
		return graph.Edge{}, false
	}
	for _, e := range g.OutgoingEdges(source, ref.c) {
		if e.Target == target {
			return e, true
		}
	}
	return graph.Edge{}, false
}

func toRecords(annos []graph.Annotation) []labelRecord {
	records := make([]labelRecord, len(annos))
	for i, a := range annos {
		records[i] = labelRecord{NS: a.Key.NS, Name: a.Key.Name, Value: a.Value}
	}
	return records
}

func nodeKey(corpus, name string) []byte {
	return []byte(prefixNode + corpus + sep + name)
}

func edgeKey(corpus string, ref edgeRef) []byte {
	return []byte(prefixEdge + corpus + sep + ref.source + sep + ref.c.Type.String() + sep +
		ref.c.Layer + sep + ref.c.Name + sep + ref.target)
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// iterate calls fn for every key below prefix with the prefix removed.
func iterate(txn *badger.Txn, prefix string, fn func(key string, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := strings.TrimPrefix(string(item.Key()), prefix)
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}
