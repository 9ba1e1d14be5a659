// Package storage keeps corpora in a storage backend.
//
// A corpus is one native graph holding the corpus tree, its documents and
// their annotations. Backends apply graph updates atomically and hand out
// bounded snapshots for export.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Benny93/annis-go/internal/config"
	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/update"
)

var (
	// ErrCorpusNotFound is returned for operations on unknown corpora.
	ErrCorpusNotFound = errors.New("corpus not found")

	// ErrReadOnly is returned when writing to a read-only backend.
	ErrReadOnly = errors.New("storage opened read-only")
)

// EngineError reports an update the engine rejected. The corpus is left
// unchanged.
type EngineError struct {
	Corpus  string
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("corpus %s: update rejected: %s", e.Corpus, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Err }

func rejected(corpus string, err error) error {
	return &EngineError{Corpus: corpus, Message: err.Error(), Err: err}
}

// Backend defines the interface for storage implementations.
//
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Initialize opens or creates the storage backend at the given path.
	// If readOnly is true, the backend is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// ListCorpora returns the corpus names in sorted order.
	ListCorpora(ctx context.Context) ([]string, error)

	// ApplyUpdate applies all consistent changes of u in one transaction,
	// creating the corpus on first use. A rejected update returns an
	// *EngineError and leaves the corpus untouched.
	ApplyUpdate(ctx context.Context, corpus string, u *update.GraphUpdate) error

	// Subgraph returns the nodes plus ctxLeft/ctxRight tokens of context.
	Subgraph(ctx context.Context, corpus string, nodeNames []string, ctxLeft, ctxRight int) (*graph.Graph, error)

	// DocumentGraph returns every node of one document.
	DocumentGraph(ctx context.Context, corpus, docPath string) (*graph.Graph, error)

	// CorpusGraph returns the corpus and document nodes.
	CorpusGraph(ctx context.Context, corpus string) (*graph.Graph, error)

	// DeleteCorpus removes a corpus with all its data.
	DeleteCorpus(ctx context.Context, corpus string) error

	// Stats returns size counters of a corpus.
	Stats(ctx context.Context, corpus string) (map[string]int, error)

	// Find looks up annotation values.
	Find(ctx context.Context, corpus string, q Query, limit int) ([]Match, error)
}

// Open creates and initializes the backend selected by cfg.
func Open(cfg config.StorageConfig, readOnly bool) (Backend, error) {
	var b Backend
	switch cfg.Backend {
	case config.BackendMemory:
		b = NewMemoryBackend()
	case config.BackendBadger:
		b = NewBadgerBackend()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err := b.Initialize(cfg.Path, readOnly); err != nil {
		return nil, fmt.Errorf("initializing %s storage: %w", cfg.Backend, err)
	}
	return b, nil
}
