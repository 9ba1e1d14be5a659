// Package graph provides the typed property graph that backs a corpus.
//
// Nodes are opaque integer ids carrying string-interned (namespace, name) ->
// value labels. Edges are grouped into typed and named components such as
// coverage, dominance, pointing or ordering. The graph has no notion of
// tokens or spans; that interpretation is done by the mapping layer.
package graph

import (
	"fmt"
	"strings"
)

// NodeID is the engine-internal identity of a node.
type NodeID uint64

// StringID identifies an interned string.
type StringID uint32

// Reserved namespace and label names.
const (
	ANNISNamespace = "annis"

	NodeNameKey = "node_name"
	NodeTypeKey = "node_type"
	TokKey      = "tok"
	LayerKey    = "layer"
	DocKey      = "doc"

	// NodeTypeNode marks annotation nodes (tokens, spans, structures).
	NodeTypeNode = "node"
	// NodeTypeCorpus marks corpus and document nodes.
	NodeTypeCorpus = "corpus"
)

// ComponentType is the type of an edge component.
type ComponentType int

const (
	Coverage ComponentType = iota
	InverseCoverage
	Dominance
	Pointing
	Ordering
	LeftToken
	RightToken
	PartOfSubcorpus
)

var componentTypeNames = [...]string{
	Coverage:        "COVERAGE",
	InverseCoverage: "INVERSE_COVERAGE",
	Dominance:       "DOMINANCE",
	Pointing:        "POINTING",
	Ordering:        "ORDERING",
	LeftToken:       "LEFT_TOKEN",
	RightToken:      "RIGHT_TOKEN",
	PartOfSubcorpus: "PART_OF_SUBCORPUS",
}

// Valid reports whether t is one of the known component types.
func (t ComponentType) Valid() bool {
	return t >= Coverage && t <= PartOfSubcorpus
}

// String returns the upper-case name used in update events.
func (t ComponentType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("ComponentType(%d)", int(t))
	}
	return componentTypeNames[t]
}

// ParseComponentType parses the name of a component type.
func ParseComponentType(s string) (ComponentType, error) {
	for t, name := range componentTypeNames {
		if strings.EqualFold(name, s) {
			return ComponentType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown component type %q", s)
}

// Component is a named, typed group of edges.
type Component struct {
	Type  ComponentType
	Layer string
	Name  string
}

// String formats the component as TYPE/layer/name.
func (c Component) String() string {
	return c.Type.String() + "/" + c.Layer + "/" + c.Name
}

// Less orders components by type, layer and name.
func (c Component) Less(o Component) bool {
	if c.Type != o.Type {
		return c.Type < o.Type
	}
	if c.Layer != o.Layer {
		return c.Layer < o.Layer
	}
	return c.Name < o.Name
}

// Edge is a directed edge inside one component.
type Edge struct {
	Source NodeID
	Target NodeID
}

// Inverse returns the edge with swapped endpoints.
func (e Edge) Inverse() Edge {
	return Edge{Source: e.Target, Target: e.Source}
}

// RawKey is an interned annotation key.
type RawKey struct {
	NS   StringID
	Name StringID
}

// RawAnnotation is a label as stored by the engine: all parts are interned.
type RawAnnotation struct {
	Key   RawKey
	Value StringID
}

// AnnoKey is a resolved annotation key.
type AnnoKey struct {
	NS   string
	Name string
}

// Annotation is a resolved label.
type Annotation struct {
	Key   AnnoKey
	Value string
}

// QName returns ns::name, or just name for the empty namespace.
func (k AnnoKey) QName() string {
	if k.NS == "" {
		return k.Name
	}
	return k.NS + "::" + k.Name
}
