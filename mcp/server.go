// Package mcp provides the MCP (Model Context Protocol) server for annis-go.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	jsoniter "github.com/json-iterator/go"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/ingestion"
	"github.com/Benny93/annis-go/internal/salt"
	"github.com/Benny93/annis-go/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is reported in the server identity.
var Version = "0.1.0"

const (
	defaultContext   = 5
	defaultFindLimit = 20
)

// Server represents the MCP server.
type Server struct {
	storage storage.Backend
	server  *mcp.Server
	log     *zap.Logger
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a new MCP server on top of a corpus store.
func NewServer(store storage.Backend, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		storage: store,
		log:     log,
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "annis-go",
		Version: Version,
	}, nil)

	s.registerTools()
	s.registerResources()

	return s
}

// MCP returns the SDK server with all tools and resources registered.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	corpus := &jsonschema.Schema{Type: "string", Description: "Corpus name"}
	format := &jsonschema.Schema{Type: "string", Description: "Output encoding", Enum: []any{"json", "yaml"}}
	return []Tool{
		{
			Name:        "annis_list_corpora",
			Description: "List all stored corpora with their node and edge counts.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{}),
		},
		{
			Name:        "annis_subgraph",
			Description: "Export the annotation graph around the given nodes with left and right token context.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"corpus": corpus,
				"nodes": {
					Type:        "array",
					Items:       &jsonschema.Schema{Type: "string"},
					Description: "Node names such as root/doc1#tok2",
				},
				"left":   {Type: "integer", Description: "Tokens of left context"},
				"right":  {Type: "integer", Description: "Tokens of right context"},
				"format": format,
			}, "corpus", "nodes"),
		},
		{
			Name:        "annis_document",
			Description: "Export the full annotation graph of one document.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"corpus":   corpus,
				"document": {Type: "string", Description: "Document path such as root/doc1"},
				"format":   format,
			}, "corpus", "document"),
		},
		{
			Name:        "annis_corpus_tree",
			Description: "Show the corpus and document hierarchy with meta annotations.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"corpus": corpus,
			}, "corpus"),
		},
		{
			Name:        "annis_find",
			Description: "Find nodes by annotation value. Matches are case-insensitive.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"corpus": corpus,
				"value":  {Type: "string", Description: "Annotation value"},
				"ns":     {Type: "string", Description: "Annotation namespace filter"},
				"name":   {Type: "string", Description: "Annotation name filter"},
				"prefix": {Type: "boolean", Description: "Match value prefixes"},
				"limit":  {Type: "integer", Description: "Maximum number of results"},
			}, "corpus", "value"),
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "annis://corpora",
			Name:        "Corpora",
			Description: "Stored corpora and their sizes",
			MimeType:    "text/plain",
		},
		{
			URI:         "annis://schema",
			Name:        "Graph Schema",
			Description: "Node types, component types and reserved annis labels",
			MimeType:    "text/plain",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "annis_list_corpora":
		return s.corporaOverview(ctx)
	case "annis_subgraph":
		left, ok := intArg(args, "left")
		if !ok {
			left = defaultContext
		}
		right, ok := intArg(args, "right")
		if !ok {
			right = defaultContext
		}
		return s.handleSubgraph(ctx, stringArg(args, "corpus"), stringsArg(args, "nodes"), left, right, stringArg(args, "format"))
	case "annis_document":
		return s.handleDocument(ctx, stringArg(args, "corpus"), stringArg(args, "document"), stringArg(args, "format"))
	case "annis_corpus_tree":
		return s.handleCorpusTree(ctx, stringArg(args, "corpus"))
	case "annis_find":
		limit, ok := intArg(args, "limit")
		if !ok || limit <= 0 {
			limit = defaultFindLimit
		}
		prefix, _ := args["prefix"].(bool)
		q := storage.Query{
			NS:     stringArg(args, "ns"),
			Name:   stringArg(args, "name"),
			Value:  stringArg(args, "value"),
			Prefix: prefix,
		}
		return s.handleFind(ctx, stringArg(args, "corpus"), q, limit)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "annis://corpora":
		return s.corporaOverview(ctx)
	case "annis://schema":
		return getSchema(), nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Run serves line-delimited JSON-RPC over stdin and stdout.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if stdin == nil || stdout == nil {
		return fmt.Errorf("stdin and stdout must not be nil")
	}

	reader := bufio.NewReader(stdin)
	encoder := json.NewEncoder(stdout)
	// MCP requires compact JSON, one message per line

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var req map[string]any
			if jerr := json.Unmarshal(line, &req); jerr != nil {
				if eerr := encoder.Encode(errorResponse(nil, -32700, "Parse error")); eerr != nil {
					return eerr
				}
			} else if resp := s.handleRequest(ctx, req); resp != nil {
				if eerr := encoder.Encode(resp); eerr != nil {
					return eerr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req map[string]any) map[string]any {
	method, _ := req["method"].(string)
	id, hasID := req["id"]

	// notifications get no response
	if !hasID {
		return nil
	}

	switch method {
	case "initialize":
		return s.handleInitialize(id)
	case "ping":
		return result(id, map[string]any{})
	case "tools/list":
		return s.handleToolsList(id)
	case "tools/call":
		return s.handleToolsCall(ctx, id, req)
	case "resources/list":
		return s.handleResourcesList(id)
	case "resources/read":
		return s.handleResourcesRead(ctx, id, req)
	default:
		return errorResponse(id, -32601, "Method not found: "+method)
	}
}

func (s *Server) handleInitialize(id any) map[string]any {
	return result(id, map[string]any{
		"protocolVersion": "2024-11-05",
		"serverInfo": map[string]any{
			"name":    "annis-go",
			"version": Version,
		},
		"capabilities": map[string]any{
			"tools": map[string]any{
				"listChanged": false,
			},
			"resources": map[string]any{
				"listChanged": false,
			},
		},
	})
}

func (s *Server) handleToolsList(id any) map[string]any {
	tools := s.ListTools()
	toolList := make([]map[string]any, len(tools))
	for i, tool := range tools {
		schema, _ := json.Marshal(tool.InputSchema)
		var schemaMap map[string]any
		_ = json.Unmarshal(schema, &schemaMap)

		toolList[i] = map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": schemaMap,
		}
	}
	return result(id, map[string]any{"tools": toolList})
}

func (s *Server) handleToolsCall(ctx context.Context, id any, req map[string]any) map[string]any {
	params, _ := req["params"].(map[string]any)
	if params == nil {
		return errorResponse(id, -32602, "Invalid params")
	}

	name, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)

	text, err := s.CallTool(ctx, name, args)
	if err != nil {
		s.log.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
		return result(id, map[string]any{
			"content": []map[string]any{{"type": "text", "text": err.Error()}},
			"isError": true,
		})
	}
	return result(id, map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	})
}

func (s *Server) handleResourcesList(id any) map[string]any {
	resources := s.ListResources()
	resourceList := make([]map[string]any, len(resources))
	for i, res := range resources {
		resourceList[i] = map[string]any{
			"uri":         res.URI,
			"name":        res.Name,
			"description": res.Description,
			"mimeType":    res.MimeType,
		}
	}
	return result(id, map[string]any{"resources": resourceList})
}

func (s *Server) handleResourcesRead(ctx context.Context, id any, req map[string]any) map[string]any {
	params, _ := req["params"].(map[string]any)
	if params == nil {
		return errorResponse(id, -32602, "Invalid params")
	}

	uri, _ := params["uri"].(string)
	content, err := s.ReadResource(ctx, uri)
	if err != nil {
		return errorResponse(id, -32002, err.Error())
	}

	return result(id, map[string]any{
		"contents": []map[string]any{
			{
				"uri":      uri,
				"mimeType": "text/plain",
				"text":     content,
			},
		},
	})
}

// Tool handlers

func (s *Server) corporaOverview(ctx context.Context) (string, error) {
	corpora, err := s.storage.ListCorpora(ctx)
	if err != nil {
		return "", err
	}
	if len(corpora) == 0 {
		return "No corpora found", nil
	}

	var sb strings.Builder
	sb.WriteString("# Corpora\n\n")
	sb.WriteString("| Corpus | Nodes | Edges | Components |\n")
	sb.WriteString("|--------|-------|-------|------------|\n")
	for _, c := range corpora {
		stats, err := s.storage.Stats(ctx, c)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "| %s | %d | %d | %d |\n", c, stats["nodes"], stats["edges"], stats["components"])
	}
	return sb.String(), nil
}

func (s *Server) handleSubgraph(ctx context.Context, corpus string, nodes []string, left, right int, format string) (string, error) {
	if corpus == "" || len(nodes) == 0 {
		return "", fmt.Errorf("corpus and nodes are required")
	}
	doc, err := ingestion.ExportSubgraph(ctx, s.storage, corpus, nodes, left, right, s.log)
	if err != nil {
		return "", err
	}
	return encode(doc, format)
}

func (s *Server) handleDocument(ctx context.Context, corpus, document, format string) (string, error) {
	if corpus == "" || document == "" {
		return "", fmt.Errorf("corpus and document are required")
	}
	doc, err := ingestion.ExportDocument(ctx, s.storage, corpus, document, s.log)
	if err != nil {
		return "", err
	}
	return encode(doc, format)
}

func (s *Server) handleCorpusTree(ctx context.Context, corpus string) (string, error) {
	if corpus == "" {
		return "", fmt.Errorf("corpus is required")
	}
	cg, err := ingestion.ExportCorpus(ctx, s.storage, corpus, s.log)
	if err != nil {
		return "", err
	}
	return FormatCorpusTree(cg), nil
}

func (s *Server) handleFind(ctx context.Context, corpus string, q storage.Query, limit int) (string, error) {
	if corpus == "" || q.Value == "" {
		return "No value provided", nil
	}
	matches, err := s.storage.Find(ctx, corpus, q, limit)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No results found", nil
	}
	return FormatMatches(matches), nil
}

// FormatCorpusTree renders a corpus graph as an indented list.
func FormatCorpusTree(cg *salt.CorpusGraph) string {
	var sb strings.Builder
	cg.Walk(func(n *salt.CorpusNode, depth int) {
		fmt.Fprintf(&sb, "%s- %s (%s)", strings.Repeat("  ", depth), n.Name, n.Kind)
		for _, a := range n.MetaAnnotations {
			fmt.Fprintf(&sb, " %s=%s", a.QName(), a.Value)
		}
		sb.WriteString("\n")
	})
	return sb.String()
}

// FormatMatches renders find results as a markdown list.
func FormatMatches(matches []storage.Match) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d match(es):\n\n", len(matches))
	for i, m := range matches {
		key := m.Name
		if m.NS != "" {
			key = m.NS + "::" + m.Name
		}
		fmt.Fprintf(&sb, "%d. %s  %s=%q\n", i+1, m.Node, key, m.Value)
	}
	return sb.String()
}

func encode(doc *salt.DocumentGraph, format string) (string, error) {
	f := salt.FormatJSON
	if format != "" {
		var err error
		if f, err = salt.ParseFormat(format); err != nil {
			return "", err
		}
	}
	var buf bytes.Buffer
	if err := salt.EncodeDocument(&buf, doc, f); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Resource handlers

var componentDocs = []struct {
	t    graph.ComponentType
	desc string
}{
	{graph.Coverage, "span/structure -> token"},
	{graph.InverseCoverage, "token -> span/structure"},
	{graph.Dominance, "structure -> child"},
	{graph.Pointing, "node -> node"},
	{graph.Ordering, "token -> next token"},
	{graph.LeftToken, "node <-> first covered token"},
	{graph.RightToken, "node <-> last covered token"},
	{graph.PartOfSubcorpus, "node/document -> parent corpus"},
}

func getSchema() string {
	var sb strings.Builder
	sb.WriteString("# annis-go Graph Schema\n\n")
	sb.WriteString("## Node Types\n\n")
	sb.WriteString("| annis::node_type | Description |\n")
	sb.WriteString("|------------------|-------------|\n")
	fmt.Fprintf(&sb, "| `%s` | Token, span or structure of a document |\n", graph.NodeTypeNode)
	fmt.Fprintf(&sb, "| `%s` | Corpus or document |\n", graph.NodeTypeCorpus)
	sb.WriteString("\n## Component Types\n\n")
	sb.WriteString("| Type | Source -> Target |\n")
	sb.WriteString("|------|------------------|\n")
	for _, c := range componentDocs {
		fmt.Fprintf(&sb, "| `%s` | %s |\n", c.t, c.desc)
	}
	sb.WriteString("\n## Reserved Labels\n\n")
	sb.WriteString("- `annis::node_name`: unique node name `<document path>#<fragment>`\n")
	sb.WriteString("- `annis::node_type`: see above\n")
	sb.WriteString("- `annis::tok`: token text\n")
	sb.WriteString("- `annis::doc`: document name\n")
	sb.WriteString("- `annis::layer`: first layer of a node\n")
	return sb.String()
}

// Helper functions

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func stringsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}

func result(id any, res map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  res,
	}
}

func errorResponse(id any, code int, message string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
}

// registerTools registers tools with the MCP server.
func (s *Server) registerTools() {
	for _, tool := range s.ListTools() {
		name := tool.Name
		s.server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := map[string]any{}
			if raw := req.Params.Arguments; len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("decoding arguments: %w", err)
				}
			}
			text, err := s.CallTool(ctx, name, args)
			if err != nil {
				return &mcp.CallToolResult{
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
					IsError: true,
				}, nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: text}},
			}, nil
		})
	}
}

// registerResources registers resources with the MCP server.
func (s *Server) registerResources() {
	for _, res := range s.ListResources() {
		uri, mimeType := res.URI, res.MimeType
		s.server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, uri)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mimeType, Text: text}},
			}, nil
		})
	}
}
