package ingestion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/annis-go/internal/salt"
	"github.com/Benny93/annis-go/internal/storage"
)

func importedStore(t *testing.T) storage.Backend {
	t.Helper()
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"doc1.json":     documentJSON("root/doc1", "Is", "this", "example"),
		"sub/doc2.json": documentJSON("root/sub/doc2", "another", "one"),
	})
	store := newStore(t)
	result, err := RunImport(t.Context(), root, store, ImportOptions{Logger: nop})
	require.NoError(t, err)
	require.Equal(t, 2, result.Documents)
	return store
}

func TestRunExport(t *testing.T) {
	t.Parallel()

	store := importedStore(t)

	t.Run("AllDocuments", func(t *testing.T) {
		t.Parallel()
		out := t.TempDir()
		result, err := RunExport(t.Context(), store, ExportOptions{
			Corpus:  "root",
			OutDir:  out,
			Workers: 2,
			Logger:  nop,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Documents)
		assert.Empty(t, result.Failed)
		assert.Equal(t, []string{
			filepath.Join(out, "root", "doc1.json"),
			filepath.Join(out, "root", "sub", "doc2.json"),
		}, result.Files)

		f, err := os.Open(filepath.Join(out, "root", "sub", "doc2.json"))
		require.NoError(t, err)
		defer f.Close()
		doc, err := salt.DecodeDocument(f, salt.FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, "root/sub/doc2", doc.Path)
		assert.Equal(t, []string{"another", "one"}, tokenTexts(t, doc))
	})

	t.Run("SelectedDocumentAsYAML", func(t *testing.T) {
		t.Parallel()
		out := t.TempDir()
		result, err := RunExport(t.Context(), store, ExportOptions{
			Corpus:    "root",
			Documents: []string{"root/doc1"},
			Format:    salt.FormatYAML,
			OutDir:    out,
			Logger:    nop,
		})
		require.NoError(t, err)
		require.Equal(t, []string{filepath.Join(out, "root", "doc1.yaml")}, result.Files)

		f, err := os.Open(result.Files[0])
		require.NoError(t, err)
		defer f.Close()
		doc, err := salt.DecodeDocument(f, salt.FormatYAML)
		require.NoError(t, err)
		assert.Equal(t, []string{"Is", "this", "example"}, tokenTexts(t, doc))
	})

	t.Run("UnknownDocument", func(t *testing.T) {
		t.Parallel()
		_, err := RunExport(t.Context(), store, ExportOptions{
			Corpus:    "root",
			Documents: []string{"root/missing"},
			OutDir:    t.TempDir(),
			Logger:    nop,
		})
		assert.ErrorContains(t, err, "root/missing")
	})

	t.Run("UnknownCorpus", func(t *testing.T) {
		t.Parallel()
		_, err := RunExport(t.Context(), store, ExportOptions{Corpus: "nope", OutDir: t.TempDir(), Logger: nop})
		assert.ErrorIs(t, err, storage.ErrCorpusNotFound)
	})
}

func TestExportSubgraph(t *testing.T) {
	t.Parallel()

	store := importedStore(t)
	doc, err := ExportSubgraph(t.Context(), store, "root", []string{"root/doc1#tok2"}, 0, 1, nop)
	require.NoError(t, err)
	assert.Equal(t, []string{"this", "example"}, tokenTexts(t, doc))
}

func TestExportCorpus(t *testing.T) {
	t.Parallel()

	store := importedStore(t)
	cg, err := ExportCorpus(t.Context(), store, "root", nop)
	require.NoError(t, err)
	require.Len(t, cg.Roots, 1)
	assert.Equal(t, "root", cg.Roots[0].Name)
	assert.Len(t, cg.Documents(), 2)
}
