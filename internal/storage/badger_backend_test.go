package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/update"
)

func TestBadgerBackend_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("Success", func(t *testing.T) {
		backend := NewBadgerBackend()
		err := backend.Initialize(filepath.Join(t.TempDir(), "badger"), false)

		assert.NoError(t, err)
		assert.NotNil(t, backend.db)
		assert.True(t, backend.initialized)
		assert.NoError(t, backend.Close())
		assert.NoError(t, backend.Close(), "closing twice is harmless")
	})

	t.Run("InvalidPath", func(t *testing.T) {
		backend := NewBadgerBackend()
		err := backend.Initialize("/nonexistent/path/that/does/not/exist", false)
		assert.Error(t, err)
	})

	t.Run("NotInitialized", func(t *testing.T) {
		backend := NewBadgerBackend()
		err := backend.ApplyUpdate(context.Background(), "pcc", documentUpdate("doc1", "a"))
		assert.Error(t, err)
	})
}

func TestBadgerBackend_Persistence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "badger")

	first := NewBadgerBackend()
	require.NoError(t, first.Initialize(dbPath, false))
	require.NoError(t, first.ApplyUpdate(ctx, "pcc", documentUpdate("doc1", "Is", "this", "example")))

	// remove a token and relabel the span
	u := update.NewGraphUpdate()
	u.DeleteNode("root/doc1#tok3")
	u.AddNodeLabel("root/doc1#span", "Inf-Struct", "topic", "Comment")
	u.Finish()
	require.NoError(t, first.ApplyUpdate(ctx, "pcc", u))
	want, err := first.Stats(ctx, "pcc")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := NewBadgerBackend()
	require.NoError(t, second.Initialize(dbPath, true))
	t.Cleanup(func() { second.Close() })

	names, err := second.ListCorpora(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pcc"}, names)

	got, err := second.Stats(ctx, "pcc")
	require.NoError(t, err)
	assert.Equal(t, want["nodes"], got["nodes"])
	assert.Equal(t, want["edges"], got["edges"])
	assert.Equal(t, 2, got["updates"])

	g, err := second.DocumentGraph(ctx, "pcc", "root/doc1")
	require.NoError(t, err)
	_, ok := g.NodeByName("root/doc1#tok3")
	assert.False(t, ok)

	span, ok := g.NodeByName("root/doc1#span")
	require.True(t, ok)
	topic, _ := g.NodeLabel(span, "Inf-Struct", "topic")
	assert.Equal(t, "Comment", topic)

	tok1, ok := g.NodeByName("root/doc1#tok1")
	require.True(t, ok)
	coverage := graph.Component{Type: graph.Coverage, Layer: ns}
	edges := g.OutgoingEdges(span, coverage)
	require.Len(t, edges, 1)
	assert.Equal(t, tok1, edges[0].Target)
	labels := g.EdgeAnnotations(edges[0], coverage)
	assert.Contains(t, labels, graph.Annotation{Key: graph.AnnoKey{NS: "test", Name: "weight"}, Value: "1"})

	// the ordering edge into the deleted token is gone
	tok2, _ := g.NodeByName("root/doc1#tok2")
	assert.Empty(t, g.OutgoingEdges(tok2, graph.Component{Type: graph.Ordering, Layer: ns}))

	matches, err := second.Find(ctx, "pcc", Query{Value: "example"}, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)

	assert.ErrorIs(t, second.ApplyUpdate(ctx, "pcc", documentUpdate("doc2", "a")), ErrReadOnly)
}

func TestBadgerBackend_DeletePersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "badger")

	b := NewBadgerBackend()
	require.NoError(t, b.Initialize(dbPath, false))
	require.NoError(t, b.ApplyUpdate(ctx, "pcc", documentUpdate("doc1", "a")))
	require.NoError(t, b.DeleteCorpus(ctx, "pcc"))
	require.NoError(t, b.Close())

	reopened := NewBadgerBackend()
	require.NoError(t, reopened.Initialize(dbPath, false))
	t.Cleanup(func() { reopened.Close() })
	names, err := reopened.ListCorpora(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestBadgerBackend_UnfinishedEventsAreNotApplied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "badger")

	b := NewBadgerBackend()
	require.NoError(t, b.Initialize(dbPath, false))

	u := update.NewGraphUpdate()
	u.AddNode("root/doc1#a", graph.NodeTypeNode)
	u.Finish()
	u.AddNode("root/doc1#b", graph.NodeTypeNode)
	require.NoError(t, b.ApplyUpdate(ctx, "pcc", u))

	before, err := b.Stats(ctx, "pcc")
	require.NoError(t, err)
	assert.Equal(t, 1, before["nodes"])
	require.NoError(t, b.Close())

	reopened := NewBadgerBackend()
	require.NoError(t, reopened.Initialize(dbPath, true))
	t.Cleanup(func() { reopened.Close() })

	after, err := reopened.Stats(ctx, "pcc")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
