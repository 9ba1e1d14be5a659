package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/update"
)

// MemoryBackend keeps corpora in memory. Used for tests and one-shot
// conversions.
type MemoryBackend struct {
	mu       sync.RWMutex
	corpora  map[string]*graph.Graph
	readOnly bool
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{corpora: make(map[string]*graph.Graph)}
}

// Initialize implements Backend. The path is ignored.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.corpora == nil {
		m.corpora = make(map[string]*graph.Graph)
	}
	m.readOnly = readOnly
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corpora = nil
	return nil
}

// ListCorpora implements Backend.
func (m *MemoryBackend) ListCorpora(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.corpora))
	for name := range m.corpora {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ApplyUpdate implements Backend.
func (m *MemoryBackend) ApplyUpdate(ctx context.Context, corpus string, u *update.GraphUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return ErrReadOnly
	}

	g, ok := m.corpora[corpus]
	if !ok {
		g = graph.NewGraph()
	}
	if err := g.Apply(u); err != nil {
		return rejected(corpus, err)
	}
	m.corpora[corpus] = g
	return nil
}

func (m *MemoryBackend) corpus(name string) (*graph.Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.corpora[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrCorpusNotFound)
	}
	return g, nil
}

// Subgraph implements Backend.
func (m *MemoryBackend) Subgraph(ctx context.Context, corpus string, nodeNames []string, ctxLeft, ctxRight int) (*graph.Graph, error) {
	g, err := m.corpus(corpus)
	if err != nil {
		return nil, err
	}
	return g.Subgraph(nodeNames, ctxLeft, ctxRight)
}

// DocumentGraph implements Backend.
func (m *MemoryBackend) DocumentGraph(ctx context.Context, corpus, docPath string) (*graph.Graph, error) {
	g, err := m.corpus(corpus)
	if err != nil {
		return nil, err
	}
	return g.DocumentSubgraph(docPath)
}

// CorpusGraph implements Backend.
func (m *MemoryBackend) CorpusGraph(ctx context.Context, corpus string) (*graph.Graph, error) {
	g, err := m.corpus(corpus)
	if err != nil {
		return nil, err
	}
	return g.CorpusSubgraph(), nil
}

// DeleteCorpus implements Backend.
func (m *MemoryBackend) DeleteCorpus(ctx context.Context, corpus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return ErrReadOnly
	}
	if _, ok := m.corpora[corpus]; !ok {
		return fmt.Errorf("%s: %w", corpus, ErrCorpusNotFound)
	}
	delete(m.corpora, corpus)
	return nil
}

// Stats implements Backend.
func (m *MemoryBackend) Stats(ctx context.Context, corpus string) (map[string]int, error) {
	g, err := m.corpus(corpus)
	if err != nil {
		return nil, err
	}
	return g.Stats(), nil
}

// Find implements Backend.
func (m *MemoryBackend) Find(ctx context.Context, corpus string, q Query, limit int) ([]Match, error) {
	g, err := m.corpus(corpus)
	if err != nil {
		return nil, err
	}
	return findInGraph(corpus, g, q, limit), nil
}
