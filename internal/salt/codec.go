package salt

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format is an on-disk document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported document file %q", path)
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

type documentFile struct {
	Path       string           `json:"path" yaml:"path"`
	Texts      []textRecord     `json:"texts,omitempty" yaml:"texts,omitempty"`
	Tokens     []tokenRecord    `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Spans      []nodeRecord     `json:"spans,omitempty" yaml:"spans,omitempty"`
	Structures []nodeRecord     `json:"structures,omitempty" yaml:"structures,omitempty"`
	Relations  []relationRecord `json:"relations,omitempty" yaml:"relations,omitempty"`
	Timeline   int              `json:"timeline,omitempty" yaml:"timeline,omitempty"`
}

type textRecord struct {
	Name    string `json:"name" yaml:"name"`
	Content string `json:"content" yaml:"content"`
}

type nodeRecord struct {
	Name        string       `json:"name" yaml:"name"`
	Annotations []Annotation `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	Features    []Annotation `json:"features,omitempty" yaml:"features,omitempty"`
	Layers      []string     `json:"layers,omitempty" yaml:"layers,omitempty"`
}

type tokenRecord struct {
	nodeRecord `yaml:",inline"`
	Text       string `json:"text,omitempty" yaml:"text,omitempty"`
	Start      int    `json:"start" yaml:"start"`
	End        int    `json:"end" yaml:"end"`
}

type relationRecord struct {
	Kind        string       `json:"kind" yaml:"kind"`
	Source      string       `json:"source" yaml:"source"`
	Target      string       `json:"target" yaml:"target"`
	Type        string       `json:"type,omitempty" yaml:"type,omitempty"`
	Start       int          `json:"start,omitempty" yaml:"start,omitempty"`
	End         int          `json:"end,omitempty" yaml:"end,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	Layers      []string     `json:"layers,omitempty" yaml:"layers,omitempty"`
}

var relationKindNames = map[string]RelationKind{
	"dominance": DominanceRelation,
	"pointing":  PointingRelation,
	"spanning":  SpanningRelation,
	"order":     OrderRelation,
	"timeline":  TimelineRelation,
}

// EncodeDocument writes d in the given format.
func EncodeDocument(w io.Writer, d *DocumentGraph, format Format) error {
	file := toFile(d)
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(file); err != nil {
			return fmt.Errorf("encoding document %s: %w", d.Path, err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(file); err != nil {
			return fmt.Errorf("encoding document %s: %w", d.Path, err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding document %s: %w", d.Path, err)
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}

// DecodeDocument reads a document in the given format.
func DecodeDocument(r io.Reader, format Format) (*DocumentGraph, error) {
	var file documentFile
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&file); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&file); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return fromFile(&file)
}

func toFile(d *DocumentGraph) *documentFile {
	file := &documentFile{Path: d.Path}
	if d.Timeline != nil {
		file.Timeline = d.Timeline.Points
	}
	for _, n := range d.Nodes() {
		rec := nodeRecord{Name: n.Name, Annotations: n.Annotations, Features: n.Features, Layers: n.Layers}
		switch n.Kind {
		case TextualDS:
			file.Texts = append(file.Texts, textRecord{Name: n.Name, Content: n.Text})
		case Token:
			tok := tokenRecord{nodeRecord: rec}
			if pos, ok := d.Position(n.Ref); ok {
				tok.Text = d.Node(pos.Text).Name
				tok.Start = pos.Start
				tok.End = pos.End
			}
			file.Tokens = append(file.Tokens, tok)
		case Span:
			file.Spans = append(file.Spans, rec)
		case Structure:
			file.Structures = append(file.Structures, rec)
		}
	}
	for _, r := range d.Relations() {
		if r.Kind == TextualRelation {
			continue
		}
		file.Relations = append(file.Relations, relationRecord{
			Kind:        r.Kind.String(),
			Source:      d.Node(r.Source).Name,
			Target:      d.Node(r.Target).Name,
			Type:        r.Type,
			Start:       r.Start,
			End:         r.End,
			Annotations: r.Annotations,
			Layers:      r.Layers,
		})
	}
	return file
}

func fromFile(file *documentFile) (*DocumentGraph, error) {
	if file.Path == "" {
		return nil, fmt.Errorf("document without path")
	}
	d := NewDocumentGraph(file.Path)
	byName := make(map[string]NodeRef)
	if file.Timeline > 0 {
		tl, err := d.SetTimeline(file.Timeline)
		if err != nil {
			return nil, err
		}
		byName[TimelineName] = tl.Node
	}

	add := func(kind NodeKind, rec nodeRecord) (*Node, error) {
		n, err := d.AddNode(kind, rec.Name)
		if err != nil {
			return nil, err
		}
		n.Annotations = rec.Annotations
		n.Features = rec.Features
		for _, l := range rec.Layers {
			d.AddNodeToLayer(l, n.Ref)
		}
		byName[rec.Name] = n.Ref
		return n, nil
	}

	for _, t := range file.Texts {
		n, err := d.AddText(t.Name, t.Content)
		if err != nil {
			return nil, err
		}
		byName[t.Name] = n.Ref
	}
	for _, tok := range file.Tokens {
		n, err := add(Token, tok.nodeRecord)
		if err != nil {
			return nil, err
		}
		if tok.Text == "" {
			continue
		}
		text, ok := byName[tok.Text]
		if !ok || d.Node(text).Kind != TextualDS {
			return nil, fmt.Errorf("token %s: unknown text %q", tok.Name, tok.Text)
		}
		rel, err := d.AddRelation(TextualRelation, n.Ref, text)
		if err != nil {
			return nil, err
		}
		rel.Start, rel.End = tok.Start, tok.End
	}
	for _, s := range file.Spans {
		if _, err := add(Span, s); err != nil {
			return nil, err
		}
	}
	for _, s := range file.Structures {
		if _, err := add(Structure, s); err != nil {
			return nil, err
		}
	}

	for _, rec := range file.Relations {
		kind, ok := relationKindNames[strings.ToLower(rec.Kind)]
		if !ok {
			return nil, fmt.Errorf("unknown relation kind %q", rec.Kind)
		}
		source, ok := byName[rec.Source]
		if !ok {
			return nil, fmt.Errorf("%s relation: unknown source %q", rec.Kind, rec.Source)
		}
		target, ok := byName[rec.Target]
		if !ok {
			return nil, fmt.Errorf("%s relation: unknown target %q", rec.Kind, rec.Target)
		}
		rel, err := d.AddRelation(kind, source, target)
		if err != nil {
			return nil, err
		}
		rel.Type = rec.Type
		rel.Start, rel.End = rec.Start, rec.End
		rel.Annotations = rec.Annotations
		for _, l := range rec.Layers {
			d.AddRelationToLayer(l, rel.Ref)
		}
	}
	return d, nil
}
