package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/mapping"
	"github.com/Benny93/annis-go/internal/observability"
	"github.com/Benny93/annis-go/internal/salt"
	"github.com/Benny93/annis-go/internal/storage"
	"github.com/Benny93/annis-go/internal/update"
)

const defaultWorkers = 4

var documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "annis_ingestion_documents_total",
	Help: "Documents processed by the import and export pipelines",
}, []string{"pipeline", "result"})

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// ImportOptions configures an import run.
type ImportOptions struct {
	// Corpus is the storage corpus. When empty it is taken from the first
	// segment of each document path. Documents of other corpora are rejected.
	Corpus string

	Walk     WalkOptions
	Workers  int
	Logger   *zap.Logger
	Progress ProgressCallback
}

// FileError records a document that could not be imported.
type FileError struct {
	RelPath string
	Err     error
}

func (e FileError) Error() string {
	return e.RelPath + ": " + e.Err.Error()
}

// ImportResult summarizes an import run.
type ImportResult struct {
	BatchID      string
	Files        int
	Documents    int
	Events       int
	Corpora      []string
	Failed       []FileError
	DurationSecs float64

	// Imported maps the relative path of every stored file to its corpus
	// and document path.
	Imported map[string]DocumentRef
}

// DocumentRef locates a stored document.
type DocumentRef struct {
	Corpus string
	Path   string
}

// RunImport walks root and imports every document file found.
func RunImport(ctx context.Context, root string, store storage.Backend, opts ImportOptions) (*ImportResult, error) {
	report(opts.Progress, "Walking files", 0.0)
	entries, err := WalkCorpus(root, opts.Walk)
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	report(opts.Progress, "Walking files", 1.0)

	return ImportFiles(ctx, store, entries, opts)
}

type decoded struct {
	ref    DocumentRef
	update *update.GraphUpdate
	err    error
}

// ImportFiles decodes the entries concurrently and stores each document in
// its own transaction. A document that already exists is replaced.
//
// Per-file failures are collected in the result. The returned error is only
// set when the run itself could not proceed, e.g. on cancellation.
func ImportFiles(ctx context.Context, store storage.Backend, entries []FileEntry, opts ImportOptions) (*ImportResult, error) {
	start := time.Now()
	result := &ImportResult{
		BatchID:  uuid.NewString(),
		Files:    len(entries),
		Imported: make(map[string]DocumentRef),
	}
	log := opts.logger().With(zap.String("batch", result.BatchID))

	report(opts.Progress, "Decoding documents", 0.0)
	docs := make([]decoded, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(opts.Workers))
	for i := range entries {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			docs[i] = decodeEntry(entries[i], opts.Corpus, log)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report(opts.Progress, "Decoding documents", 1.0)

	report(opts.Progress, "Loading to storage", 0.0)
	seen := make(map[DocumentRef]string)
	corpora := make(map[string]bool)
	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := entries[i]
		if d.err == nil {
			if other, dup := seen[d.ref]; dup {
				d.err = fmt.Errorf("document %s already imported from %s", d.ref.Path, other)
			}
		}
		if d.err == nil {
			var events int
			events, d.err = storeDocument(ctx, store, d)
			result.Events += events
		}
		if d.err != nil {
			if errors.Is(d.err, context.Canceled) || errors.Is(d.err, context.DeadlineExceeded) {
				return nil, d.err
			}
			log.Warn("skipping document file", zap.String("file", entry.RelPath), zap.Error(d.err))
			documentsTotal.WithLabelValues("import", "failed").Inc()
			result.Failed = append(result.Failed, FileError{RelPath: entry.RelPath, Err: d.err})
			continue
		}

		seen[d.ref] = entry.RelPath
		corpora[d.ref.Corpus] = true
		result.Imported[entry.RelPath] = d.ref
		result.Documents++
		documentsTotal.WithLabelValues("import", "ok").Inc()
		log.Debug("document imported", zap.String("file", entry.RelPath),
			zap.String("corpus", d.ref.Corpus), zap.String("document", d.ref.Path))
		report(opts.Progress, "Loading to storage", float64(i+1)/float64(len(docs)))
	}
	report(opts.Progress, "Loading to storage", 1.0)

	for c := range corpora {
		result.Corpora = append(result.Corpora, c)
	}
	slices.Sort(result.Corpora)
	result.DurationSecs = time.Since(start).Seconds()

	log.Info("import finished",
		zap.Int("files", result.Files),
		zap.Int("documents", result.Documents),
		zap.Int("failed", len(result.Failed)),
		zap.Int("events", result.Events),
		zap.Float64("duration_secs", result.DurationSecs))
	return result, nil
}

// decodeEntry parses one file and builds its update.
func decodeEntry(entry FileEntry, corpus string, log *zap.Logger) decoded {
	doc, err := salt.DecodeDocument(bytes.NewReader(entry.Content), entry.Format)
	if err != nil {
		return decoded{err: err}
	}

	ref := DocumentRef{Corpus: corpus, Path: doc.Path}
	root, _, _ := strings.Cut(doc.Path, "/")
	switch {
	case corpus == "":
		ref.Corpus = root
	case root != corpus:
		return decoded{err: fmt.Errorf("document %s is not part of corpus %s", doc.Path, corpus)}
	}

	u, err := mapping.BuildUpdate(doc, mapping.WithLogger(log.With(zap.String("file", entry.RelPath))))
	if err != nil {
		return decoded{err: err}
	}
	return decoded{ref: ref, update: u}
}

// storeDocument applies the document update. When the document already
// exists its annotation nodes are deleted in the same transaction.
func storeDocument(ctx context.Context, store storage.Backend, d decoded) (int, error) {
	u, _, err := replaceDocument(ctx, store, d.ref)
	if err != nil {
		return 0, err
	}
	u.Append(d.update)
	u.Finish()
	if err := store.ApplyUpdate(ctx, d.ref.Corpus, u); err != nil {
		return 0, err
	}
	return u.Len(), nil
}

// replaceDocument returns an update deleting the stored annotation nodes of
// a document and whether the document exists.
func replaceDocument(ctx context.Context, store storage.Backend, ref DocumentRef) (*update.GraphUpdate, bool, error) {
	u := update.NewGraphUpdate()
	old, err := store.DocumentGraph(ctx, ref.Corpus, ref.Path)
	if errors.Is(err, storage.ErrCorpusNotFound) || errors.Is(err, graph.ErrNodeNotFound) {
		return u, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	for _, id := range old.NodesByType(graph.NodeTypeNode) {
		if name, ok := old.NodeName(id); ok {
			u.DeleteNode(name)
		}
	}
	return u, true, nil
}

// RemoveDocument deletes the annotation nodes and the document node of a
// stored document.
func RemoveDocument(ctx context.Context, store storage.Backend, ref DocumentRef) error {
	u, found, err := replaceDocument(ctx, store, ref)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("document %s: %w", ref.Path, graph.ErrNodeNotFound)
	}
	u.DeleteNode(ref.Path)
	u.Finish()
	return store.ApplyUpdate(ctx, ref.Corpus, u)
}

func (o ImportOptions) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return observability.GetLogger().Named("ingestion")
}

func workers(n int) int {
	if n <= 0 {
		return defaultWorkers
	}
	return n
}

func report(progress ProgressCallback, phase string, value float64) {
	if progress != nil {
		progress(phase, value)
	}
}
