package mapping

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/salt"
	"github.com/Benny93/annis-go/internal/update"
)

const ns = graph.ANNISNamespace

func buildGraph(t *testing.T, fill func(u *update.GraphUpdate)) *graph.Graph {
	t.Helper()
	u := update.NewGraphUpdate()
	fill(u)
	u.Finish()
	g := graph.NewGraph()
	require.NoError(t, g.Apply(u))
	return g
}

func addTokens(u *update.GraphUpdate, doc string, words ...string) []string {
	names := make([]string, len(words))
	for i, w := range words {
		names[i] = fmt.Sprintf("%s#tok%d", doc, i+1)
		u.AddNode(names[i], graph.NodeTypeNode)
		u.AddNodeLabel(names[i], ns, graph.TokKey, w)
		if i > 0 {
			u.AddEdge(names[i-1], names[i], ns, "ORDERING", "")
		}
	}
	return names
}

func tokenTexts(t *testing.T, doc *salt.DocumentGraph) []string {
	t.Helper()
	var out []string
	for _, ref := range doc.SortedTokens() {
		text, ok := doc.TokenText(ref)
		require.True(t, ok, "token %s has no text", doc.Node(ref).ID)
		out = append(out, text)
	}
	return out
}

func TestExport_IsThisExample(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, func(u *update.GraphUpdate) {
		tokens := addTokens(u, "root/doc", "Is", "this", "example")
		u.AddNode("root/doc#span", graph.NodeTypeNode)
		u.AddNodeLabel("root/doc#span", "Inf-Struct", "topic", "topic")
		for _, tok := range tokens {
			u.AddEdge("root/doc#span", tok, ns, "COVERAGE", "")
		}
	})

	doc, err := Export(g)
	require.NoError(t, err)

	texts := doc.Texts()
	require.Len(t, texts, 1)
	assert.Equal(t, "Is this example", texts[0].Text)

	textual := doc.RelationsOfKind(salt.TextualRelation)
	require.Len(t, textual, 3)
	got := make(map[string][2]int)
	for _, r := range textual {
		got[doc.Node(r.Source).Name] = [2]int{r.Start, r.End}
	}
	assert.Equal(t, map[string][2]int{
		"tok1": {0, 2},
		"tok2": {3, 7},
		"tok3": {8, 15},
	}, got)

	span, ok := doc.NodeByID("salt:/root/doc#span")
	require.True(t, ok)
	assert.Equal(t, salt.Span, span.Kind)
	v, ok := span.Annotation("Inf-Struct", "topic")
	assert.True(t, ok)
	assert.Equal(t, "topic", v)

	spanning := doc.RelationsOfKind(salt.SpanningRelation)
	require.Len(t, spanning, 3)
	targets := make(map[salt.NodeRef]bool)
	for _, r := range spanning {
		assert.Equal(t, span.Ref, r.Source)
		targets[r.Target] = true
	}
	assert.Len(t, targets, 3)

	assert.Equal(t, "root/doc", doc.Path)
	assert.Equal(t, []string{"Is", "this", "example"}, tokenTexts(t, doc))
}

func TestExport_NodeFeatures(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, func(u *update.GraphUpdate) {
		addTokens(u, "root/doc", "a")
		u.AddNodeLabel("root/doc#tok1", ns, graph.LayerKey, "syntax")
		u.AddNodeLabel("root/doc#tok1", "tiger", "pos", "DT")
	})

	doc, err := Export(g)
	require.NoError(t, err)

	tok, ok := doc.NodeByID("salt:/root/doc#tok1")
	require.True(t, ok)
	assert.Equal(t, "tok1", tok.Name)
	id, ok := tok.Feature(ns, NodeIDFeature)
	assert.True(t, ok)
	assert.Equal(t, "0", id)
	_, ok = tok.Feature(ns, graph.TokKey)
	assert.True(t, ok)
	assert.Equal(t, []salt.Annotation{{NS: "tiger", Name: "pos", Value: "DT"}}, tok.Annotations)
	assert.Equal(t, []string{"syntax"}, tok.Layers)
	// isolated token still gets a text
	assert.Equal(t, []string{"a"}, tokenTexts(t, doc))
}

func TestExport_ClassificationTotality(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, func(u *update.GraphUpdate) {
		tokens := addTokens(u, "d", "x", "y")
		u.AddNode("d#struct", graph.NodeTypeNode)
		u.AddNode("d#span", graph.NodeTypeNode)
		u.AddEdge("d#struct", "d#span", "syntax", "DOMINANCE", "")
		u.AddEdge("d#span", tokens[0], ns, "COVERAGE", "")
		// a token with a dominance edge stays a token
		u.AddEdge(tokens[0], tokens[1], "syntax", "DOMINANCE", "")
	})

	doc, err := Export(g)
	require.NoError(t, err)

	kinds := make(map[string]salt.NodeKind)
	for _, n := range doc.Nodes() {
		if n.Kind != salt.TextualDS {
			kinds[n.Name] = n.Kind
		}
	}
	assert.Equal(t, map[string]salt.NodeKind{
		"tok1":   salt.Token,
		"tok2":   salt.Token,
		"struct": salt.Structure,
		"span":   salt.Span,
	}, kinds)
}

func TestExport_DominanceDeduplication(t *testing.T) {
	t.Parallel()

	t.Run("NamedAndMirror", func(t *testing.T) {
		t.Parallel()
		g := buildGraph(t, func(u *update.GraphUpdate) {
			addTokens(u, "d", "x")
			u.AddNode("d#s", graph.NodeTypeNode)
			u.AddEdge("d#s", "d#tok1", "syntax", "DOMINANCE", "edge")
			u.AddEdgeLabel("d#s", "d#tok1", "syntax", "DOMINANCE", "edge", "tiger", "func", "HD")
			u.AddEdge("d#s", "d#tok1", "syntax", "DOMINANCE", "")
		})

		doc, err := Export(g)
		require.NoError(t, err)

		dom := doc.RelationsOfKind(salt.DominanceRelation)
		require.Len(t, dom, 1)
		assert.Equal(t, "edge", dom[0].Type)
		v, _ := dom[0].Annotation("tiger", "func")
		assert.Equal(t, "HD", v)
		assert.Equal(t, []string{"syntax"}, dom[0].Layers)
	})

	t.Run("UnnamedOnly", func(t *testing.T) {
		t.Parallel()
		g := buildGraph(t, func(u *update.GraphUpdate) {
			addTokens(u, "d", "x")
			u.AddNode("d#s", graph.NodeTypeNode)
			u.AddEdge("d#s", "d#tok1", "", "DOMINANCE", "")
		})

		doc, err := Export(g)
		require.NoError(t, err)

		dom := doc.RelationsOfKind(salt.DominanceRelation)
		require.Len(t, dom, 1)
		assert.Empty(t, dom[0].Type)
		assert.Empty(t, dom[0].Layers)
	})

	t.Run("DefaultLayerNamedIsAMirrorSource", func(t *testing.T) {
		t.Parallel()
		g := buildGraph(t, func(u *update.GraphUpdate) {
			addTokens(u, "d", "x")
			u.AddNode("d#s", graph.NodeTypeNode)
			u.AddEdge("d#s", "d#tok1", "", "DOMINANCE", "edge")
			u.AddEdge("d#s", "d#tok1", "", "DOMINANCE", "")
		})

		doc, err := Export(g)
		require.NoError(t, err)

		dom := doc.RelationsOfKind(salt.DominanceRelation)
		require.Len(t, dom, 1)
		assert.Equal(t, "edge", dom[0].Type)
		assert.Empty(t, dom[0].Layers)
	})

	t.Run("InternalLayerNotAMirrorSource", func(t *testing.T) {
		t.Parallel()
		g := buildGraph(t, func(u *update.GraphUpdate) {
			addTokens(u, "d", "x")
			u.AddNode("d#s", graph.NodeTypeNode)
			u.AddEdge("d#s", "d#tok1", ns, "DOMINANCE", "internal")
			u.AddEdge("d#s", "d#tok1", "", "DOMINANCE", "")
		})

		doc, err := Export(g)
		require.NoError(t, err)
		assert.Len(t, doc.RelationsOfKind(salt.DominanceRelation), 2)
	})
}

func TestExport_CoverageDirectionality(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, func(u *update.GraphUpdate) {
		addTokens(u, "d", "x")
		u.AddNode("d#a", graph.NodeTypeNode)
		u.AddNode("d#b", graph.NodeTypeNode)
		u.AddEdge("d#a", "d#b", "syntax", "DOMINANCE", "")
		u.AddEdge("d#b", "d#tok1", "syntax", "DOMINANCE", "")
		u.AddEdge("d#a", "d#b", ns, "COVERAGE", "")
		u.AddEdge("d#a", "d#tok1", ns, "COVERAGE", "")
		// token to token coverage is not a spanning relation either
		u.AddNode("d#tok2", graph.NodeTypeNode)
		u.AddNodeLabel("d#tok2", ns, graph.TokKey, "y")
		u.AddEdge("d#tok1", "d#tok2", ns, "COVERAGE", "")
	})

	doc, err := Export(g)
	require.NoError(t, err)

	spanning := doc.RelationsOfKind(salt.SpanningRelation)
	require.Len(t, spanning, 1)
	assert.Equal(t, "a", doc.Node(spanning[0].Source).Name)
	assert.Equal(t, "tok1", doc.Node(spanning[0].Target).Name)
}

func TestExport_SkippedEdges(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, func(u *update.GraphUpdate) {
		addTokens(u, "root/d", "x")
		u.AddNode("root/d", graph.NodeTypeCorpus)
		u.AddEdge("root/d#tok1", "root/d", ns, "PART_OF_SUBCORPUS", "")
		u.AddEdge("root/d#tok1", "root/d", "", "POINTING", "dangling")
		u.AddEdge("root/d#tok1", "root/d#tok1", "", "POINTING", "self")
		u.AddEdge("root/d#tok1", "root/d#tok1", ns, "LEFT_TOKEN", "")
	})

	doc, err := Export(g)
	require.NoError(t, err)
	assert.Empty(t, doc.RelationsOfKind(salt.PointingRelation))
	assert.Len(t, doc.Relations(), 1) // textual
}

func TestExport_Pointing(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, func(u *update.GraphUpdate) {
		addTokens(u, "d", "x", "y")
		u.AddEdge("d#tok2", "d#tok1", "dep", "POINTING", "nsubj")
		u.AddEdgeLabel("d#tok2", "d#tok1", "dep", "POINTING", "nsubj", "", "func", "subj")
		u.AddEdgeLabel("d#tok2", "d#tok1", "dep", "POINTING", "nsubj", ns, "internal", "x")
	})

	doc, err := Export(g)
	require.NoError(t, err)

	rels := doc.RelationsOfKind(salt.PointingRelation)
	require.Len(t, rels, 1)
	assert.Equal(t, "nsubj", rels[0].Type)
	assert.Equal(t, []salt.Annotation{{Name: "func", Value: "subj"}}, rels[0].Annotations)
	assert.Equal(t, []salt.Annotation{{NS: ns, Name: "internal", Value: "x"}}, rels[0].Features)
	assert.Equal(t, []salt.RelRef{rels[0].Ref}, doc.Layer("dep").Relations)
}

func TestExport_Timeline(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, func(u *update.GraphUpdate) {
		// backbone with three points
		for i := 1; i <= 3; i++ {
			name := fmt.Sprintf("d#tli%d", i)
			u.AddNode(name, graph.NodeTypeNode)
			u.AddNodeLabel(name, ns, graph.TokKey, " ")
			if i > 1 {
				u.AddEdge(fmt.Sprintf("d#tli%d", i-1), name, ns, "ORDERING", "")
			}
		}
		// dipl: "Hello" covers 1-2, "you" covers 3
		u.AddNode("d#dipl1", graph.NodeTypeNode)
		u.AddNodeLabel("d#dipl1", ns, graph.TokKey, "Hello")
		u.AddNode("d#dipl2", graph.NodeTypeNode)
		u.AddNodeLabel("d#dipl2", ns, graph.TokKey, "you")
		u.AddEdge("d#dipl1", "d#dipl2", "dipl", "ORDERING", "dipl")
		u.AddEdge("d#dipl1", "d#tli1", ns, "COVERAGE", "")
		u.AddEdge("d#dipl1", "d#tli2", ns, "COVERAGE", "")
		u.AddEdge("d#dipl2", "d#tli3", ns, "COVERAGE", "")
		// norm: "Hello" "y" "ou"
		for i, w := range []string{"Hello", "y", "ou"} {
			name := fmt.Sprintf("d#norm%d", i+1)
			u.AddNode(name, graph.NodeTypeNode)
			u.AddNodeLabel(name, ns, graph.TokKey, w)
			if i > 0 {
				u.AddEdge(fmt.Sprintf("d#norm%d", i), name, "norm", "ORDERING", "norm")
			}
		}
		u.AddEdge("d#norm1", "d#tli1", ns, "COVERAGE", "")
		u.AddEdge("d#norm1", "d#tli2", ns, "COVERAGE", "")
		u.AddEdge("d#norm2", "d#tli3", ns, "COVERAGE", "")
		// norm3 has no backbone coverage
	})

	doc, err := Export(g)
	require.NoError(t, err)

	require.NotNil(t, doc.Timeline)
	assert.Equal(t, 3, doc.Timeline.Points)

	// backbone nodes are not tokens
	_, ok := doc.NodeByID("salt:/d#tli1")
	assert.False(t, ok)
	assert.Len(t, doc.Tokens(), 5)

	timeline := make(map[string][2]int)
	count := make(map[string]int)
	for _, r := range doc.RelationsOfKind(salt.TimelineRelation) {
		name := doc.Node(r.Source).Name
		timeline[name] = [2]int{r.Start, r.End}
		count[name]++
		assert.Equal(t, doc.Timeline.Node, r.Target)
	}
	assert.Equal(t, map[string][2]int{
		"dipl1": {0, 2},
		"dipl2": {2, 3},
		"norm1": {0, 2},
		"norm2": {2, 3},
	}, timeline)
	for name, c := range count {
		assert.Equal(t, 1, c, name)
	}

	texts := make(map[string]string)
	for _, ds := range doc.Texts() {
		name, _ := ds.Feature(ns, TokenizationFeature)
		texts[name] = ds.Text
	}
	assert.Equal(t, map[string]string{"dipl": "Hello you", "norm": "Hello y ou"}, texts)
}

func TestExport_MalformedTimeline(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	g := buildGraph(t, func(u *update.GraphUpdate) {
		addTokens(u, "d", "a", "b")
		// second unnamed chain root makes the backbone ambiguous
		u.AddNode("d#c", graph.NodeTypeNode)
		u.AddNodeLabel("d#c", ns, graph.TokKey, "c")
		u.AddNode("d#e", graph.NodeTypeNode)
		u.AddNodeLabel("d#e", ns, graph.TokKey, "e")
		u.AddEdge("d#c", "d#e", ns, "ORDERING", "")
		u.AddNode("d#n", graph.NodeTypeNode)
		u.AddNodeLabel("d#n", ns, graph.TokKey, "n")
		u.AddNode("d#m", graph.NodeTypeNode)
		u.AddNodeLabel("d#m", ns, graph.TokKey, "m")
		u.AddEdge("d#n", "d#m", "norm", "ORDERING", "norm")
	})

	doc, err := Export(g, WithLogger(zap.New(core)))
	require.NoError(t, err)

	assert.Nil(t, doc.Timeline)
	assert.Len(t, doc.Tokens(), 6)
	assert.Equal(t, 1, logs.FilterMessageSnippet("no single root").Len())

	// the unnamed tokenization yields one text per chain
	var texts []string
	for _, ds := range doc.Texts() {
		texts = append(texts, ds.Text)
	}
	assert.ElementsMatch(t, []string{"a b", "c e", "n m"}, texts)
	assert.Equal(t, 1, logs.FilterMessageSnippet("several chains").Len())
}

func TestExport_CyclicChain(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	g := buildGraph(t, func(u *update.GraphUpdate) {
		addTokens(u, "d", "a", "b", "c")
		u.AddEdge("d#tok3", "d#tok1", ns, "ORDERING", "")
	})

	doc, err := Export(g, WithLogger(zap.New(core)))
	require.NoError(t, err)

	require.Len(t, doc.Texts(), 1)
	assert.Equal(t, "a b c", doc.Texts()[0].Text)
	assert.Equal(t, 1, logs.FilterMessageSnippet("without root").Len())
}

// brokenDB reports a component with an unknown type.
type brokenDB struct {
	*graph.Graph
}

func (b brokenDB) Components() []graph.Component {
	return append(b.Graph.Components(), graph.Component{Type: graph.ComponentType(99), Name: "bogus"})
}

func TestExport_InvariantViolation(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	g := buildGraph(t, func(u *update.GraphUpdate) {
		addTokens(u, "d", "a")
	})

	doc, err := Export(brokenDB{g}, WithLogger(zap.New(core)))
	assert.Nil(t, doc)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, 1, logs.FilterMessage("export aborted").Len())
}
