package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/salt"
	"github.com/Benny93/annis-go/internal/update"
)

func partOf(u *update.GraphUpdate, child, parent string) {
	u.AddEdge(child, parent, ns, "PART_OF_SUBCORPUS", "")
}

func TestExportCorpusGraph_Forest(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, func(u *update.GraphUpdate) {
		for _, name := range []string{"root", "root/sub", "root/doc1", "root/sub/doc2", "other"} {
			u.AddNode(name, graph.NodeTypeCorpus)
		}
		u.AddNodeLabel("root/doc1", ns, graph.DocKey, "doc1")
		u.AddNodeLabel("root/doc1", "meta", "lang", "de")
		partOf(u, "root/sub", "root")
		partOf(u, "root/doc1", "root")
		partOf(u, "root/sub/doc2", "root/sub")

		// annotation nodes point into documents but are not part of the tree
		u.AddNode("root/doc1#tok1", graph.NodeTypeNode)
		partOf(u, "root/doc1#tok1", "root/doc1")
	})

	cg, err := ExportCorpusGraph(g)
	require.NoError(t, err)
	assert.Equal(t, 5, cg.Len())

	var walked []string
	cg.Walk(func(n *salt.CorpusNode, depth int) {
		walked = append(walked, n.Path())
	})
	assert.ElementsMatch(t, []string{"root", "root/sub", "root/doc1", "root/sub/doc2", "other"}, walked)

	root, ok := cg.Node("salt:/root")
	require.True(t, ok)
	assert.Equal(t, salt.Corpus, root.Kind)
	assert.Nil(t, root.Parent)

	sub, ok := cg.Node("salt:/root/sub")
	require.True(t, ok)
	assert.Equal(t, salt.Corpus, sub.Kind)
	assert.Same(t, root, sub.Parent)

	doc1, ok := cg.Node("salt:/root/doc1")
	require.True(t, ok)
	assert.Equal(t, salt.Document, doc1.Kind)
	assert.Equal(t, "doc1", doc1.Name)
	lang, ok := doc1.MetaAnnotation("meta", "lang")
	require.True(t, ok)
	assert.Equal(t, "de", lang)
	for _, f := range doc1.Features {
		assert.Equal(t, ns, f.NS)
	}

	doc2, ok := cg.Node("salt:/root/sub/doc2")
	require.True(t, ok)
	assert.Equal(t, salt.Document, doc2.Kind)
	assert.Same(t, sub, doc2.Parent)

	// a corpus node outside any edge is a leaf, hence a document
	other, ok := cg.Node("salt:/other")
	require.True(t, ok)
	assert.Equal(t, salt.Document, other.Kind)

	docs := cg.Documents()
	assert.Len(t, docs, 3)
}

func TestExportCorpusGraph_FlatRoots(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, func(u *update.GraphUpdate) {
		u.AddNode("a", graph.NodeTypeCorpus)
		u.AddNode("b", graph.NodeTypeCorpus)
	})

	cg, err := ExportCorpusGraph(g)
	require.NoError(t, err)
	require.Len(t, cg.Roots, 2)
	for _, r := range cg.Roots {
		assert.Equal(t, salt.Corpus, r.Kind)
		assert.Empty(t, r.Children)
	}
}

func TestExportCorpusGraph_Empty(t *testing.T) {
	t.Parallel()

	cg, err := ExportCorpusGraph(graph.NewGraph())
	require.NoError(t, err)
	assert.Zero(t, cg.Len())
}

func TestExportCorpusGraph_Cycle(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	g := buildGraph(t, func(u *update.GraphUpdate) {
		u.AddNode("a", graph.NodeTypeCorpus)
		u.AddNode("b", graph.NodeTypeCorpus)
		partOf(u, "a", "b")
		partOf(u, "b", "a")
	})

	cg, err := ExportCorpusGraph(g, WithLogger(zap.New(core)))
	require.NoError(t, err)
	assert.Equal(t, 2, cg.Len())
	require.Len(t, cg.Roots, 1)
	require.Len(t, cg.Roots[0].Children, 1)
	assert.Equal(t, 1, logs.FilterMessageSnippet("cycle").Len())
}

func TestCorpusRoundTrip(t *testing.T) {
	t.Parallel()

	cg := salt.NewCorpusGraph()
	root, err := cg.AddCorpus(nil, salt.Corpus, "salt:/root", "root")
	require.NoError(t, err)
	root.MetaAnnotations = []salt.Annotation{{NS: "meta", Name: "source", Value: "web"}}
	_, err = cg.AddCorpus(root, salt.Document, "salt:/root/doc1", "doc1")
	require.NoError(t, err)
	_, err = cg.AddCorpus(root, salt.Document, "salt:/root/doc2", "doc2")
	require.NoError(t, err)

	u, err := BuildCorpusUpdate(cg)
	require.NoError(t, err)
	g := graph.NewGraph()
	require.NoError(t, g.Apply(u))

	got, err := ExportCorpusGraph(g)
	require.NoError(t, err)
	require.Len(t, got.Roots, 1)
	assert.Equal(t, "root", got.Roots[0].Name)
	source, ok := got.Roots[0].MetaAnnotation("meta", "source")
	require.True(t, ok)
	assert.Equal(t, "web", source)

	var names []string
	for _, d := range got.Documents() {
		names = append(names, d.Path())
	}
	assert.ElementsMatch(t, []string{"root/doc1", "root/doc2"}, names)
}

func TestBuildCorpusUpdate_Nil(t *testing.T) {
	t.Parallel()

	u, err := BuildCorpusUpdate(nil)
	assert.Nil(t, u)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestExportCorpusGraph_ParentOutsideSnapshot(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	g := buildGraph(t, func(u *update.GraphUpdate) {
		u.AddNode("root", graph.NodeTypeCorpus)
		u.AddNode("root/doc1", graph.NodeTypeCorpus)
		u.AddNode("root/doc2", graph.NodeTypeCorpus)
		u.AddNode("root/doc1#tok1", graph.NodeTypeNode)
		partOf(u, "root/doc1", "root")
		partOf(u, "root/doc2", "root/doc1#tok1")
	})

	cg, err := ExportCorpusGraph(g, WithLogger(zap.New(core)))
	require.NoError(t, err)
	assert.Equal(t, 3, cg.Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("outside snapshot").Len())

	doc1, ok := cg.Node("salt:/root/doc1")
	require.True(t, ok)
	require.NotNil(t, doc1.Parent)
	assert.Equal(t, "root", doc1.Parent.Name)

	doc2, ok := cg.Node("salt:/root/doc2")
	require.True(t, ok)
	assert.Nil(t, doc2.Parent, "a missing parent makes the node a root")
	assert.Equal(t, salt.Document, doc2.Kind)
	assert.Len(t, cg.Roots, 2)
}
