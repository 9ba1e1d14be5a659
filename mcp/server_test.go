package mcp

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/annis-go/internal/mapping"
	"github.com/Benny93/annis-go/internal/salt"
	"github.com/Benny93/annis-go/internal/storage"
)

const sampleDocument = `{
  "path": "root/doc1",
  "texts": [{"name": "sText1", "content": "Is this example"}],
  "tokens": [
    {"name": "tok1", "text": "sText1", "start": 0, "end": 2},
    {"name": "tok2", "text": "sText1", "start": 3, "end": 7},
    {"name": "tok3", "text": "sText1", "start": 8, "end": 15}
  ],
  "spans": [{"name": "topic", "annotations": [{"name": "inf-struct", "value": "topic"}]}],
  "relations": [
    {"kind": "spanning", "source": "topic", "target": "tok1"},
    {"kind": "spanning", "source": "topic", "target": "tok2"}
  ]
}`

func newTestStore(t *testing.T) storage.Backend {
	t.Helper()
	store := storage.NewMemoryBackend()
	require.NoError(t, store.Initialize("", false))
	t.Cleanup(func() { _ = store.Close() })

	doc, err := salt.DecodeDocument(strings.NewReader(sampleDocument), salt.FormatJSON)
	require.NoError(t, err)
	u, err := mapping.BuildUpdate(doc)
	require.NoError(t, err)
	require.NoError(t, store.ApplyUpdate(t.Context(), "root", u))
	return store
}

func TestNewServer(t *testing.T) {
	t.Parallel()

	server := NewServer(newTestStore(t), nil)
	assert.NotNil(t, server)
	assert.NotNil(t, server.storage)
	assert.NotNil(t, server.MCP())
}

func TestServer_Tools(t *testing.T) {
	t.Parallel()

	server := NewServer(newTestStore(t), nil)

	t.Run("ListTools", func(t *testing.T) {
		var names []string
		for _, tool := range server.ListTools() {
			names = append(names, tool.Name)
		}
		assert.ElementsMatch(t, []string{
			"annis_list_corpora",
			"annis_subgraph",
			"annis_document",
			"annis_corpus_tree",
			"annis_find",
		}, names)
	})

	t.Run("ToolDescriptions", func(t *testing.T) {
		for _, tool := range server.ListTools() {
			assert.NotEmpty(t, tool.Description)
			require.NotNil(t, tool.InputSchema)
			assert.Equal(t, "object", tool.InputSchema.Type)
		}
	})
}

func TestServer_HandleToolCalls(t *testing.T) {
	t.Parallel()

	server := NewServer(newTestStore(t), nil)
	ctx := context.Background()

	t.Run("ListCorpora", func(t *testing.T) {
		result, err := server.CallTool(ctx, "annis_list_corpora", map[string]any{})
		require.NoError(t, err)
		assert.Contains(t, result, "| root |")
	})

	t.Run("Document", func(t *testing.T) {
		result, err := server.CallTool(ctx, "annis_document", map[string]any{
			"corpus":   "root",
			"document": "root/doc1",
		})
		require.NoError(t, err)
		doc, err := salt.DecodeDocument(strings.NewReader(result), salt.FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, "root/doc1", doc.Path)
		assert.Len(t, doc.Tokens(), 3)
	})

	t.Run("DocumentAsYAML", func(t *testing.T) {
		result, err := server.CallTool(ctx, "annis_document", map[string]any{
			"corpus":   "root",
			"document": "root/doc1",
			"format":   "yaml",
		})
		require.NoError(t, err)
		assert.Contains(t, result, "path: root/doc1")
	})

	t.Run("Subgraph", func(t *testing.T) {
		result, err := server.CallTool(ctx, "annis_subgraph", map[string]any{
			"corpus": "root",
			"nodes":  []any{"root/doc1#tok2"},
			"left":   float64(0),
			"right":  float64(0),
		})
		require.NoError(t, err)
		doc, err := salt.DecodeDocument(strings.NewReader(result), salt.FormatJSON)
		require.NoError(t, err)
		require.Len(t, doc.Tokens(), 1)
		text, ok := doc.TokenText(doc.Tokens()[0].Ref)
		require.True(t, ok)
		assert.Equal(t, "this", text)
	})

	t.Run("CorpusTree", func(t *testing.T) {
		result, err := server.CallTool(ctx, "annis_corpus_tree", map[string]any{"corpus": "root"})
		require.NoError(t, err)
		assert.Contains(t, result, "- root (corpus)")
		assert.Contains(t, result, "  - doc1 (document)")
	})

	t.Run("Find", func(t *testing.T) {
		result, err := server.CallTool(ctx, "annis_find", map[string]any{
			"corpus": "root",
			"value":  "TOPIC",
		})
		require.NoError(t, err)
		assert.Contains(t, result, "root/doc1#topic")
		assert.Contains(t, result, "inf-struct")
	})

	t.Run("FindMissingValue", func(t *testing.T) {
		result, err := server.CallTool(ctx, "annis_find", map[string]any{"corpus": "root"})
		require.NoError(t, err)
		assert.Contains(t, result, "No value provided")
	})

	t.Run("UnknownCorpus", func(t *testing.T) {
		_, err := server.CallTool(ctx, "annis_corpus_tree", map[string]any{"corpus": "nope"})
		assert.ErrorIs(t, err, storage.ErrCorpusNotFound)
	})

	t.Run("MissingArguments", func(t *testing.T) {
		_, err := server.CallTool(ctx, "annis_subgraph", map[string]any{"corpus": "root"})
		assert.Error(t, err)
	})

	t.Run("UnknownTool", func(t *testing.T) {
		result, err := server.CallTool(ctx, "unknown_tool", map[string]any{})
		assert.ErrorContains(t, err, "unknown tool")
		assert.Empty(t, result)
	})
}

func TestServer_Resources(t *testing.T) {
	t.Parallel()

	server := NewServer(newTestStore(t), nil)
	ctx := context.Background()

	t.Run("ResourceMetadata", func(t *testing.T) {
		resources := server.ListResources()
		require.Len(t, resources, 2)
		for _, res := range resources {
			assert.True(t, strings.HasPrefix(res.URI, "annis://"))
			assert.NotEmpty(t, res.Name)
			assert.NotEmpty(t, res.Description)
			assert.NotEmpty(t, res.MimeType)
		}
	})

	t.Run("ReadSchema", func(t *testing.T) {
		content, err := server.ReadResource(ctx, "annis://schema")
		require.NoError(t, err)
		assert.Contains(t, content, "COVERAGE")
		assert.Contains(t, content, "PART_OF_SUBCORPUS")
	})

	t.Run("ReadCorpora", func(t *testing.T) {
		content, err := server.ReadResource(ctx, "annis://corpora")
		require.NoError(t, err)
		assert.Contains(t, content, "root")
	})

	t.Run("UnknownResource", func(t *testing.T) {
		_, err := server.ReadResource(ctx, "annis://unknown")
		assert.Error(t, err)
	})
}

func TestServer_Run(t *testing.T) {
	t.Parallel()

	server := NewServer(newTestStore(t), nil)
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"annis_corpus_tree","arguments":{"corpus":"root"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"annis_corpus_tree","arguments":{"corpus":"nope"}}}`,
		`not json`,
		`{"jsonrpc":"2.0","id":5,"method":"bogus"}`,
	}, "\n")

	var out strings.Builder
	require.NoError(t, server.Run(t.Context(), strings.NewReader(input), &out))

	var responses []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		var resp map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	require.Len(t, responses, 6, "the notification must not be answered")

	info := responses[0]["result"].(map[string]any)["serverInfo"].(map[string]any)
	assert.Equal(t, "annis-go", info["name"])

	tools := responses[1]["result"].(map[string]any)["tools"].([]any)
	assert.Len(t, tools, 5)

	call := responses[2]["result"].(map[string]any)
	assert.Nil(t, call["isError"])
	text := call["content"].([]any)[0].(map[string]any)["text"].(string)
	assert.Contains(t, text, "doc1 (document)")

	failed := responses[3]["result"].(map[string]any)
	assert.Equal(t, true, failed["isError"])

	assert.Equal(t, float64(-32700), responses[4]["error"].(map[string]any)["code"])
	assert.Equal(t, float64(-32601), responses[5]["error"].(map[string]any)["code"])
}

func TestServer_SDKSession(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	server := NewServer(newTestStore(t), nil)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.MCP().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, tools.Tools, 5)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "annis_find",
		Arguments: map[string]any{"corpus": "root", "value": "example"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "root/doc1#tok3")

	schema, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: "annis://schema"})
	require.NoError(t, err)
	require.Len(t, schema.Contents, 1)
	assert.Contains(t, schema.Contents[0].Text, "ORDERING")
}
