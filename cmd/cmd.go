// Package cmd provides CLI command implementations for annis-go.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/annis-go/internal/config"
	"github.com/Benny93/annis-go/internal/ingestion"
	"github.com/Benny93/annis-go/internal/observability"
	"github.com/Benny93/annis-go/internal/salt"
	"github.com/Benny93/annis-go/internal/storage"
	"github.com/Benny93/annis-go/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `short:"c" help:"Path to a YAML config file" type:"path" env:"ANNIS_CONFIG"`
	Backend  string `help:"Storage backend (badger|memory), overrides the config"`
	DataDir  string `help:"Storage directory, overrides the config" type:"path"`
	LogLevel string `help:"Log level (debug|info|warn|error), overrides the config"`

	// Out receives command output. Defaults to stdout.
	Out io.Writer `kong:"-"`
}

// load reads the configuration, applies flag overrides and initializes the
// logger.
func (g *Globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.Backend != "" {
		cfg.Storage.Backend = g.Backend
	}
	if g.DataDir != "" {
		cfg.Storage.Path = g.DataDir
	}
	if g.LogLevel != "" {
		cfg.Logger.Level = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	observability.InitializeLogger(cfg.Logger)
	return cfg, nil
}

// open opens the configured corpus store.
func (g *Globals) open(cfg *config.Config, readOnly bool) (storage.Backend, error) {
	if cfg.Storage.Backend == config.BackendBadger {
		if readOnly {
			if _, err := os.Stat(cfg.Storage.Path); os.IsNotExist(err) {
				return nil, fmt.Errorf("no corpus store at %s. Run 'annis-go import' first", cfg.Storage.Path)
			}
		} else if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	return storage.Open(cfg.Storage, readOnly)
}

// session loads the config and opens the store in one step.
func (g *Globals) session(readOnly bool) (*config.Config, storage.Backend, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	store, err := g.open(cfg, readOnly)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func (g *Globals) out() io.Writer {
	if g.Out != nil {
		return g.Out
	}
	return os.Stdout
}

// ImportCmd imports document files into the corpus store.
type ImportCmd struct {
	Paths   []string `arg:"" help:"Document files or directories to import" type:"path"`
	Corpus  string   `short:"C" help:"Corpus to import into (default: first segment of each document path)"`
	Workers int      `help:"Parallel decoders (default from config)"`
}

// Run executes the import command.
func (c *ImportCmd) Run(g *Globals) error {
	cfg, store, err := g.session(false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signalContext()
	defer stop()

	opts := ingestion.ImportOptions{
		Corpus: c.Corpus,
		Walk: ingestion.WalkOptions{
			Patterns:   cfg.Import.Patterns,
			IgnoreFile: cfg.Import.IgnoreFile,
		},
		Workers: pick(c.Workers, cfg.Import.Workers),
		Logger:  observability.GetLogger().Named("import"),
	}

	w := g.out()
	failed := 0
	for _, path := range c.Paths {
		result, err := importPath(ctx, store, path, opts)
		if err != nil {
			return err
		}

		green.Fprintf(w, "✓ Imported %s\n", path)
		fmt.Fprintf(w, "  Files:      %d\n", result.Files)
		fmt.Fprintf(w, "  Documents:  %d\n", result.Documents)
		fmt.Fprintf(w, "  Events:     %d\n", result.Events)
		fmt.Fprintf(w, "  Corpora:    %s\n", strings.Join(result.Corpora, ", "))
		fmt.Fprintf(w, "  Duration:   %.2fs\n", result.DurationSecs)
		for _, f := range result.Failed {
			red.Fprintf(w, "  ✗ %s\n", f.Error())
		}
		failed += len(result.Failed)
	}

	if failed > 0 {
		return fmt.Errorf("%d document file(s) could not be imported", failed)
	}
	return nil
}

func importPath(ctx context.Context, store storage.Backend, path string, opts ingestion.ImportOptions) (*ingestion.ImportResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("accessing %s: %w", path, err)
	}
	if info.IsDir() {
		return ingestion.RunImport(ctx, path, store, opts)
	}
	entry, err := ingestion.ReadFileEntry(path)
	if err != nil {
		return nil, err
	}
	return ingestion.ImportFiles(ctx, store, []ingestion.FileEntry{entry}, opts)
}

// ExportCmd exports documents or subgraphs of a corpus.
type ExportCmd struct {
	Corpus   string   `arg:"" help:"Corpus name"`
	Node     []string `short:"n" help:"Export the subgraph around these node names"`
	Left     int      `help:"Tokens of left context (default from config)" default:"-1"`
	Right    int      `help:"Tokens of right context (default from config)" default:"-1"`
	Document string   `short:"d" help:"Export a single document"`
	Format   string   `short:"f" help:"Output format (json|yaml)"`
	Out      string   `short:"o" help:"Output file, or output directory when exporting the whole corpus" type:"path"`
	Workers  int      `help:"Parallel exports (default from config)"`
}

// Run executes the export command.
func (c *ExportCmd) Run(g *Globals) error {
	cfg, store, err := g.session(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signalContext()
	defer stop()

	format, err := salt.ParseFormat(firstNonEmpty(c.Format, cfg.Export.Format))
	if err != nil {
		return err
	}
	log := observability.GetLogger().Named("export")

	var doc *salt.DocumentGraph
	switch {
	case len(c.Node) > 0:
		left, right := c.Left, c.Right
		if left < 0 {
			left = cfg.Export.ContextLeft
		}
		if right < 0 {
			right = cfg.Export.ContextRight
		}
		doc, err = ingestion.ExportSubgraph(ctx, store, c.Corpus, c.Node, left, right, log)
	case c.Document != "":
		doc, err = ingestion.ExportDocument(ctx, store, c.Corpus, c.Document, log)
	default:
		return c.exportCorpus(ctx, g, store, cfg, format, log)
	}
	if err != nil {
		return fmt.Errorf("exporting from %s: %w", c.Corpus, err)
	}
	return writeDocument(g.out(), c.Out, doc, format)
}

func (c *ExportCmd) exportCorpus(ctx context.Context, g *Globals, store storage.Backend, cfg *config.Config, format salt.Format, log *zap.Logger) error {
	outDir := firstNonEmpty(c.Out, c.Corpus+"-export")
	result, err := ingestion.RunExport(ctx, store, ingestion.ExportOptions{
		Corpus:  c.Corpus,
		Format:  format,
		OutDir:  outDir,
		Workers: pick(c.Workers, cfg.Export.Workers),
		Logger:  log,
	})
	if err != nil {
		return err
	}

	w := g.out()
	green.Fprintf(w, "✓ Exported %d document(s) to %s\n", result.Documents, outDir)
	for _, f := range result.Failed {
		red.Fprintf(w, "  ✗ %s\n", f.Error())
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d document(s) could not be exported", len(result.Failed))
	}
	return nil
}

func writeDocument(stdout io.Writer, path string, doc *salt.DocumentGraph, format salt.Format) error {
	if path == "" {
		return salt.EncodeDocument(stdout, doc, format)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := salt.EncodeDocument(f, doc, format); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// CorpusCmd prints the corpus and document tree.
type CorpusCmd struct {
	Corpus string `arg:"" help:"Corpus name"`
}

// Run executes the corpus command.
func (c *CorpusCmd) Run(g *Globals) error {
	_, store, err := g.session(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	cg, err := ingestion.ExportCorpus(context.Background(), store, c.Corpus, observability.GetLogger().Named("export"))
	if err != nil {
		return err
	}
	fmt.Fprint(g.out(), mcp.FormatCorpusTree(cg))
	return nil
}

// FindCmd looks up nodes by annotation value.
type FindCmd struct {
	Corpus string `arg:"" help:"Corpus name"`
	Value  string `arg:"" help:"Annotation value (case-insensitive)"`
	NS     string `help:"Annotation namespace"`
	Name   string `help:"Annotation name"`
	Prefix bool   `help:"Match value prefixes"`
	Limit  int    `short:"n" default:"20" help:"Maximum results"`
}

// Run executes the find command.
func (c *FindCmd) Run(g *Globals) error {
	_, store, err := g.session(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	matches, err := store.Find(context.Background(), c.Corpus, storage.Query{
		NS:     c.NS,
		Name:   c.Name,
		Value:  c.Value,
		Prefix: c.Prefix,
	}, c.Limit)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	if len(matches) == 0 {
		fmt.Fprintln(g.out(), "No results found")
		return nil
	}
	fmt.Fprint(g.out(), mcp.FormatMatches(matches))
	return nil
}

// ListCmd lists all stored corpora.
type ListCmd struct{}

// Run executes the list command.
func (c *ListCmd) Run(g *Globals) error {
	_, store, err := g.session(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	corpora, err := store.ListCorpora(ctx)
	if err != nil {
		return err
	}

	w := g.out()
	if len(corpora) == 0 {
		fmt.Fprintln(w, "No corpora found")
		return nil
	}

	fmt.Fprintln(w, "Corpora:")
	for _, name := range corpora {
		stats, err := store.Stats(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n  %s\n", name)
		fmt.Fprintf(w, "    Nodes: %d\n", stats["nodes"])
		fmt.Fprintf(w, "    Edges: %d\n", stats["edges"])
	}
	return nil
}

// StatusCmd shows the size counters of one corpus.
type StatusCmd struct {
	Corpus string `arg:"" help:"Corpus name"`
}

// Run executes the status command.
func (c *StatusCmd) Run(g *Globals) error {
	cfg, store, err := g.session(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	stats, err := store.Stats(ctx, c.Corpus)
	if err != nil {
		return err
	}
	docs, err := ingestion.ListDocuments(ctx, store, c.Corpus, observability.GetLogger().Named("export"))
	if err != nil {
		return err
	}

	w := g.out()
	fmt.Fprintf(w, "Corpus status for %s\n", c.Corpus)
	fmt.Fprintf(w, "  Backend:        %s\n", cfg.Storage.Backend)
	fmt.Fprintf(w, "  Documents:      %d\n", len(docs))
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-15s %d\n", strings.ToUpper(k[:1])+k[1:]+":", stats[k])
	}
	return nil
}

// WatchCmd imports a directory and keeps re-importing changed files.
type WatchCmd struct {
	Dir    string `arg:"" optional:"" default:"." help:"Directory to watch" type:"path"`
	Corpus string `short:"C" help:"Corpus to import into (default: first segment of each document path)"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(g *Globals) error {
	cfg, store, err := g.session(false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signalContext()
	defer stop()

	w := g.out()
	fmt.Fprintln(w, "## Watch Mode")
	fmt.Fprintf(w, "Watching %s for changes (Ctrl+C to stop)\n\n", c.Dir)

	err = ingestion.WatchDir(ctx, c.Dir, store, ingestion.WatchOptions{
		Import: ingestion.ImportOptions{
			Corpus: c.Corpus,
			Walk: ingestion.WalkOptions{
				Patterns:   cfg.Import.Patterns,
				IgnoreFile: cfg.Import.IgnoreFile,
			},
			Workers: cfg.Import.Workers,
			Logger:  observability.GetLogger().Named("watch"),
		},
		Debounce: cfg.Import.Debounce,
		OnBatch: func(b *ingestion.WatchResult) {
			for _, f := range b.Imported {
				green.Fprintf(w, "  Imported: %s\n", f)
			}
			for _, f := range b.Removed {
				yellow.Fprintf(w, "  Removed:  %s\n", f)
			}
			for _, f := range b.Failed {
				red.Fprintf(w, "  Failed:   %s\n", f.Error())
			}
		},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}

	fmt.Fprintln(w, "Watch mode stopped.")
	return nil
}

// DeleteCmd removes a corpus from the store.
type DeleteCmd struct {
	Corpus string `arg:"" help:"Corpus name"`
	Force  bool   `short:"f" help:"Skip confirmation"`
}

// Run executes the delete command.
func (c *DeleteCmd) Run(g *Globals) error {
	_, store, err := g.session(false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	w := g.out()
	if !c.Force {
		fmt.Fprintf(w, "Delete corpus %s? [y/N] ", c.Corpus)
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(w, "Aborted")
			return nil
		}
	}

	if err := store.DeleteCorpus(context.Background(), c.Corpus); err != nil {
		return fmt.Errorf("deleting corpus: %w", err)
	}
	green.Fprintf(w, "Deleted %s\n", c.Corpus)
	return nil
}

// ConfigCmd prints the effective configuration.
type ConfigCmd struct{}

// Run executes the config command.
func (c *ConfigCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(g.out())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

// MCPCmd starts the MCP server.
type MCPCmd struct{}

// Run executes the mcp command.
func (c *MCPCmd) Run(g *Globals) error {
	_, store, err := g.session(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signalContext()
	defer stop()

	// stdout carries JSON-RPC only, logs go to stderr
	server := mcp.NewServer(store, observability.GetLogger().Named("mcp"))
	return server.Run(ctx, os.Stdin, g.out())
}

// Helper functions

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func pick(flag, fallback int) int {
	if flag > 0 {
		return flag
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	// Commands
	Import     ImportCmd `cmd:"" help:"Import document files into the corpus store"`
	Export     ExportCmd `cmd:"" help:"Export a subgraph, a document or a whole corpus"`
	Corpus     CorpusCmd `cmd:"" help:"Show the corpus and document tree"`
	Find       FindCmd   `cmd:"" help:"Find nodes by annotation value"`
	List       ListCmd   `cmd:"" help:"List all stored corpora"`
	Status     StatusCmd `cmd:"" help:"Show size counters of a corpus"`
	Watch      WatchCmd  `cmd:"" help:"Watch a directory and re-import changed documents"`
	Delete     DeleteCmd `cmd:"" help:"Delete a corpus"`
	ShowConfig ConfigCmd `cmd:"" name:"config" help:"Print the effective configuration"`
	MCP        MCPCmd    `cmd:"" help:"Start MCP server (stdio transport)"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("annis-go"),
		kong.Description("Import, store and export linguistic annotation graphs"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	defer observability.Sync()

	return kongCtx.Run(&c.Globals)
}
