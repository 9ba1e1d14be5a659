package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/annis-go/internal/salt"
)

const docTemplate = `{
  "path": %q,
  "texts": [{"name": "sText1", "content": "Is this example more complicated"}],
  "tokens": [
    {"name": "tok1", "text": "sText1", "start": 0, "end": 2},
    {"name": "tok2", "text": "sText1", "start": 3, "end": 7},
    {"name": "tok3", "text": "sText1", "start": 8, "end": 15},
    {"name": "tok4", "text": "sText1", "start": 16, "end": 20},
    {"name": "tok5", "text": "sText1", "start": 21, "end": 32}
  ],
  "spans": [{"name": "topic", "annotations": [{"name": "inf-struct", "value": "topic"}]}],
  "relations": [
    {"kind": "spanning", "source": "topic", "target": "tok1"},
    {"kind": "spanning", "source": "topic", "target": "tok2"}
  ]
}`

// newGlobals returns globals backed by a fresh badger store.
func newGlobals(t *testing.T) (*Globals, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	return &Globals{
		Backend:  "badger",
		DataDir:  filepath.Join(t.TempDir(), "data"),
		LogLevel: "error",
		Out:      out,
	}, out
}

// importCorpus writes two documents of corpus "root" and imports them.
func importCorpus(t *testing.T, g *Globals) string {
	t.Helper()
	dir := t.TempDir()
	for _, doc := range []string{"doc1", "doc2"} {
		path := filepath.Join(dir, doc+".json")
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(docTemplate, "root/"+doc)), 0o644))
	}
	require.NoError(t, (&ImportCmd{Paths: []string{dir}}).Run(g))
	return dir
}

func TestImportCmd_Run(t *testing.T) {
	t.Run("Directory", func(t *testing.T) {
		g, out := newGlobals(t)
		importCorpus(t, g)

		assert.Contains(t, out.String(), "Imported")
		assert.Contains(t, out.String(), "Documents:  2")
		assert.Contains(t, out.String(), "Corpora:    root")
	})

	t.Run("SingleFile", func(t *testing.T) {
		g, out := newGlobals(t)
		path := filepath.Join(t.TempDir(), "single.yaml")
		doc := "path: other/doc\ntexts:\n  - name: sText1\n    content: hi\ntokens:\n  - {name: t1, text: sText1, start: 0, end: 2}\n"
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

		require.NoError(t, (&ImportCmd{Paths: []string{path}}).Run(g))
		assert.Contains(t, out.String(), "Corpora:    other")
	})

	t.Run("BrokenFileFails", func(t *testing.T) {
		g, out := newGlobals(t)
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.json"), []byte(fmt.Sprintf(docTemplate, "root/ok")), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

		err := (&ImportCmd{Paths: []string{dir}}).Run(g)
		assert.ErrorContains(t, err, "1 document file(s)")
		assert.Contains(t, out.String(), "broken.json")
	})

	t.Run("MissingPath", func(t *testing.T) {
		g, _ := newGlobals(t)
		err := (&ImportCmd{Paths: []string{filepath.Join(t.TempDir(), "missing")}}).Run(g)
		assert.Error(t, err)
	})
}

func TestExportCmd_Run(t *testing.T) {
	g, _ := newGlobals(t)
	importCorpus(t, g)

	t.Run("Subgraph", func(t *testing.T) {
		out := &bytes.Buffer{}
		g.Out = out
		cmd := &ExportCmd{Corpus: "root", Node: []string{"root/doc1#tok3"}, Left: 1, Right: 0}
		require.NoError(t, cmd.Run(g))

		doc, err := salt.DecodeDocument(out, salt.FormatJSON)
		require.NoError(t, err)
		assert.Len(t, doc.Tokens(), 2)
	})

	t.Run("SubgraphContextFromConfig", func(t *testing.T) {
		out := &bytes.Buffer{}
		g.Out = out
		cmd := &ExportCmd{Corpus: "root", Node: []string{"root/doc1#tok3"}, Left: -1, Right: -1}
		require.NoError(t, cmd.Run(g))

		doc, err := salt.DecodeDocument(out, salt.FormatJSON)
		require.NoError(t, err)
		assert.Len(t, doc.Tokens(), 5)
	})

	t.Run("DocumentToFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out", "doc1.yaml")
		cmd := &ExportCmd{Corpus: "root", Document: "root/doc1", Format: "yaml", Out: path, Left: -1, Right: -1}
		require.NoError(t, cmd.Run(g))

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		doc, err := salt.DecodeDocument(f, salt.FormatYAML)
		require.NoError(t, err)
		assert.Equal(t, "root/doc1", doc.Path)
	})

	t.Run("WholeCorpus", func(t *testing.T) {
		out := &bytes.Buffer{}
		g.Out = out
		dir := t.TempDir()
		cmd := &ExportCmd{Corpus: "root", Out: dir, Left: -1, Right: -1}
		require.NoError(t, cmd.Run(g))

		assert.Contains(t, out.String(), "Exported 2 document(s)")
		assert.FileExists(t, filepath.Join(dir, "root", "doc1.json"))
		assert.FileExists(t, filepath.Join(dir, "root", "doc2.json"))
	})

	t.Run("InvalidFormat", func(t *testing.T) {
		cmd := &ExportCmd{Corpus: "root", Document: "root/doc1", Format: "xml", Left: -1, Right: -1}
		assert.Error(t, cmd.Run(g))
	})

	t.Run("UnknownDocument", func(t *testing.T) {
		cmd := &ExportCmd{Corpus: "root", Document: "root/nope", Left: -1, Right: -1}
		assert.Error(t, cmd.Run(g))
	})
}

func TestQueryCommands(t *testing.T) {
	g, _ := newGlobals(t)
	importCorpus(t, g)

	run := func(t *testing.T, cmd interface{ Run(*Globals) error }) string {
		t.Helper()
		out := &bytes.Buffer{}
		g.Out = out
		require.NoError(t, cmd.Run(g))
		return out.String()
	}

	t.Run("Corpus", func(t *testing.T) {
		out := run(t, &CorpusCmd{Corpus: "root"})
		assert.Contains(t, out, "- root (corpus)")
		assert.Contains(t, out, "doc1 (document)")
		assert.Contains(t, out, "doc2 (document)")
	})

	t.Run("Find", func(t *testing.T) {
		out := run(t, &FindCmd{Corpus: "root", Value: "topic", Limit: 20})
		assert.Contains(t, out, "root/doc1#topic")
		assert.Contains(t, out, "root/doc2#topic")
	})

	t.Run("FindNoResults", func(t *testing.T) {
		out := run(t, &FindCmd{Corpus: "root", Value: "absent", Limit: 20})
		assert.Contains(t, out, "No results found")
	})

	t.Run("List", func(t *testing.T) {
		out := run(t, &ListCmd{})
		assert.Contains(t, out, "Corpora:")
		assert.Contains(t, out, "  root")
		assert.Contains(t, out, "Nodes:")
	})

	t.Run("Status", func(t *testing.T) {
		out := run(t, &StatusCmd{Corpus: "root"})
		assert.Contains(t, out, "Corpus status for root")
		assert.Contains(t, out, "Backend:        badger")
		assert.Contains(t, out, "Documents:      2")
	})

	t.Run("UnknownCorpus", func(t *testing.T) {
		g.Out = &bytes.Buffer{}
		assert.Error(t, (&CorpusCmd{Corpus: "nope"}).Run(g))
	})
}

func TestDeleteCmd_Run(t *testing.T) {
	g, out := newGlobals(t)
	importCorpus(t, g)

	require.NoError(t, (&DeleteCmd{Corpus: "root", Force: true}).Run(g))
	assert.Contains(t, out.String(), "Deleted root")

	out.Reset()
	require.NoError(t, (&ListCmd{}).Run(g))
	assert.Contains(t, out.String(), "No corpora found")
}

func TestReadOnlyWithoutStore(t *testing.T) {
	g, _ := newGlobals(t)

	err := (&ListCmd{}).Run(g)
	assert.ErrorContains(t, err, "annis-go import")
}

func TestConfigCmd_Run(t *testing.T) {
	t.Run("Overrides", func(t *testing.T) {
		g, out := newGlobals(t)
		g.Backend = "memory"
		require.NoError(t, (&ConfigCmd{}).Run(g))

		var cfg map[string]any
		require.NoError(t, yaml.Unmarshal(out.Bytes(), &cfg))
		assert.Equal(t, "memory", cfg["storage"].(map[string]any)["backend"])
		assert.Equal(t, "error", cfg["logger"].(map[string]any)["level"])
	})

	t.Run("ConfigFile", func(t *testing.T) {
		g, out := newGlobals(t)
		g.DataDir = ""
		path := filepath.Join(t.TempDir(), "annis.yaml")
		require.NoError(t, os.WriteFile(path, []byte("export:\n  context_left: 2\n"), 0o644))
		g.Config = path

		require.NoError(t, (&ConfigCmd{}).Run(g))
		assert.Contains(t, out.String(), "context_left: 2")
	})

	t.Run("InvalidBackend", func(t *testing.T) {
		g, _ := newGlobals(t)
		g.Backend = "sqlite"
		assert.Error(t, (&ConfigCmd{}).Run(g))
	})
}

func TestCLI_Execute(t *testing.T) {
	t.Run("UnknownCommand", func(t *testing.T) {
		err := NewCLI().Execute([]string{"bogus"})
		assert.Error(t, err)
	})

	t.Run("ImportThenList", func(t *testing.T) {
		dir := t.TempDir()
		data := filepath.Join(t.TempDir(), "data")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(fmt.Sprintf(docTemplate, "cli/a")), 0o644))

		cli := NewCLI()
		cli.Out = &bytes.Buffer{}
		require.NoError(t, cli.Execute([]string{"--data-dir", data, "--log-level", "error", "import", dir}))

		list := NewCLI()
		out := &bytes.Buffer{}
		list.Out = out
		require.NoError(t, list.Execute([]string{"--data-dir", data, "list"}))
		assert.True(t, strings.Contains(out.String(), "cli"))
	})
}
