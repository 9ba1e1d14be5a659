package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/annis-go/internal/mapping"
	"github.com/Benny93/annis-go/internal/observability"
	"github.com/Benny93/annis-go/internal/salt"
	"github.com/Benny93/annis-go/internal/storage"
)

// ExportOptions configures an export run.
type ExportOptions struct {
	Corpus string

	// Documents restricts the run to these document paths. Empty exports
	// every document of the corpus.
	Documents []string

	Format   salt.Format
	OutDir   string
	Workers  int
	Logger   *zap.Logger
	Progress ProgressCallback
}

// ExportResult summarizes an export run.
type ExportResult struct {
	Documents    int
	Files        []string
	Failed       []FileError
	DurationSecs float64
}

// ListDocuments returns the document paths of a corpus in tree order.
func ListDocuments(ctx context.Context, store storage.Backend, corpus string, log *zap.Logger) ([]string, error) {
	cg, err := ExportCorpus(ctx, store, corpus, log)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, d := range cg.Documents() {
		paths = append(paths, strings.TrimPrefix(d.ID, salt.IDPrefix))
	}
	return paths, nil
}

// ExportCorpus rebuilds the corpus tree of a stored corpus.
func ExportCorpus(ctx context.Context, store storage.Backend, corpus string, log *zap.Logger) (*salt.CorpusGraph, error) {
	g, err := store.CorpusGraph(ctx, corpus)
	if err != nil {
		return nil, err
	}
	return mapping.ExportCorpusGraph(g, mapping.WithLogger(log))
}

// ExportDocument rebuilds the annotation graph of one stored document.
func ExportDocument(ctx context.Context, store storage.Backend, corpus, docPath string, log *zap.Logger) (*salt.DocumentGraph, error) {
	g, err := store.DocumentGraph(ctx, corpus, docPath)
	if err != nil {
		return nil, err
	}
	return mapping.Export(g, mapping.WithLogger(log))
}

// ExportSubgraph rebuilds the annotation graph around the given nodes with
// ctxLeft and ctxRight tokens of context.
func ExportSubgraph(ctx context.Context, store storage.Backend, corpus string, nodeNames []string, ctxLeft, ctxRight int, log *zap.Logger) (*salt.DocumentGraph, error) {
	g, err := store.Subgraph(ctx, corpus, nodeNames, ctxLeft, ctxRight)
	if err != nil {
		return nil, err
	}
	return mapping.Export(g, mapping.WithLogger(log))
}

// RunExport writes every selected document of a corpus to OutDir, one file
// per document named after its path. Documents are exported concurrently.
func RunExport(ctx context.Context, store storage.Backend, opts ExportOptions) (*ExportResult, error) {
	start := time.Now()
	log := opts.logger().With(zap.String("corpus", opts.Corpus))
	if opts.Format == "" {
		opts.Format = salt.FormatJSON
	}

	report(opts.Progress, "Reading corpus tree", 0.0)
	all, err := ListDocuments(ctx, store, opts.Corpus, log)
	if err != nil {
		return nil, fmt.Errorf("reading corpus %s: %w", opts.Corpus, err)
	}
	docs := all
	if len(opts.Documents) > 0 {
		for _, d := range opts.Documents {
			if !slices.Contains(all, d) {
				return nil, fmt.Errorf("document %s not found in corpus %s", d, opts.Corpus)
			}
		}
		docs = opts.Documents
	}
	report(opts.Progress, "Reading corpus tree", 1.0)

	result := &ExportResult{}
	var (
		mu   sync.Mutex
		done int
	)
	report(opts.Progress, "Exporting documents", 0.0)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(opts.Workers))
	for _, docPath := range docs {
		docPath := docPath
		g.Go(func() error {
			file, err := exportToFile(gctx, store, opts, docPath, log)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("document export failed", zap.String("document", docPath), zap.Error(err))
				documentsTotal.WithLabelValues("export", "failed").Inc()
				result.Failed = append(result.Failed, FileError{RelPath: docPath, Err: err})
			} else {
				documentsTotal.WithLabelValues("export", "ok").Inc()
				result.Files = append(result.Files, file)
				result.Documents++
			}
			done++
			report(opts.Progress, "Exporting documents", float64(done)/float64(len(docs)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report(opts.Progress, "Exporting documents", 1.0)

	slices.Sort(result.Files)
	result.DurationSecs = time.Since(start).Seconds()
	log.Info("export finished",
		zap.Int("documents", result.Documents),
		zap.Int("failed", len(result.Failed)),
		zap.Float64("duration_secs", result.DurationSecs))
	return result, nil
}

func exportToFile(ctx context.Context, store storage.Backend, opts ExportOptions, docPath string, log *zap.Logger) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	doc, err := ExportDocument(ctx, store, opts.Corpus, docPath, log)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := salt.EncodeDocument(&buf, doc, opts.Format); err != nil {
		return "", err
	}

	if !filepath.IsLocal(filepath.FromSlash(docPath)) {
		return "", fmt.Errorf("document path %q leaves the output directory", docPath)
	}
	path := filepath.Join(opts.OutDir, filepath.FromSlash(docPath)+"."+string(opts.Format))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func (o ExportOptions) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return observability.GetLogger().Named("ingestion")
}
