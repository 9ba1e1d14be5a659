// Package update describes atomic graph-construction operations.
//
// A GraphUpdate is an ordered, replayable list of events (add node, add label,
// add edge, ...) handed to a corpus storage backend as a single transaction.
// Nodes and edges are referenced by their unique node names, never by the
// engine-internal numeric ids.
package update

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventKind is the type of a single update event.
type EventKind string

const (
	AddNode         EventKind = "add_node"
	DeleteNode      EventKind = "delete_node"
	AddNodeLabel    EventKind = "add_node_label"
	DeleteNodeLabel EventKind = "delete_node_label"
	AddEdge         EventKind = "add_edge"
	DeleteEdge      EventKind = "delete_edge"
	AddEdgeLabel    EventKind = "add_edge_label"
	DeleteEdgeLabel EventKind = "delete_edge_label"
)

// Event is one atomic operation. Which fields are meaningful depends on Kind.
type Event struct {
	Kind EventKind `json:"kind"`

	// NodeName and NodeType are used by node events.
	NodeName string `json:"node_name,omitempty"`
	NodeType string `json:"node_type,omitempty"`

	// Edge events identify the edge by its endpoints and component.
	SourceNode    string `json:"source_node,omitempty"`
	TargetNode    string `json:"target_node,omitempty"`
	Layer         string `json:"layer,omitempty"`
	ComponentType string `json:"component_type,omitempty"`
	ComponentName string `json:"component_name,omitempty"`

	// Label events.
	AnnoNS    string `json:"anno_ns,omitempty"`
	AnnoName  string `json:"anno_name,omitempty"`
	AnnoValue string `json:"anno_value,omitempty"`
}

// String renders the event for log output.
func (e Event) String() string {
	switch e.Kind {
	case AddNode, DeleteNode:
		return fmt.Sprintf("%s(%s)", e.Kind, e.NodeName)
	case AddNodeLabel, DeleteNodeLabel:
		return fmt.Sprintf("%s(%s, %s::%s=%q)", e.Kind, e.NodeName, e.AnnoNS, e.AnnoName, e.AnnoValue)
	case AddEdge, DeleteEdge:
		return fmt.Sprintf("%s(%s -> %s, %s/%s/%s)", e.Kind, e.SourceNode, e.TargetNode,
			e.ComponentType, e.Layer, e.ComponentName)
	default:
		return fmt.Sprintf("%s(%s -> %s, %s/%s/%s, %s::%s=%q)", e.Kind, e.SourceNode, e.TargetNode,
			e.ComponentType, e.Layer, e.ComponentName, e.AnnoNS, e.AnnoName, e.AnnoValue)
	}
}

// Change is an event together with its change id.
type Change struct {
	ID    uint64 `json:"id"`
	Event Event  `json:"event"`
}

// GraphUpdate is an ordered list of events.
//
// Change ids are assigned in insertion order. Only changes up to the last
// consistent change id (set by Finish) are handed out by ConsistentChanges.
type GraphUpdate struct {
	Diffs                  []Change `json:"diffs"`
	LastConsistentChangeID uint64   `json:"last_consistent_change_id"`
}

// NewGraphUpdate creates an empty update list.
func NewGraphUpdate() *GraphUpdate {
	return &GraphUpdate{}
}

// AddEvent appends an event and returns its change id.
func (u *GraphUpdate) AddEvent(e Event) uint64 {
	id := u.LastConsistentChangeID + uint64(len(u.Diffs)) + 1
	if n := len(u.Diffs); n > 0 && u.Diffs[n-1].ID >= id {
		id = u.Diffs[n-1].ID + 1
	}
	u.Diffs = append(u.Diffs, Change{ID: id, Event: e})
	return id
}

// Finish marks every event added so far as consistent.
func (u *GraphUpdate) Finish() {
	if len(u.Diffs) > 0 {
		u.LastConsistentChangeID = u.Diffs[len(u.Diffs)-1].ID
	}
}

// IsConsistent reports whether all events have been finished.
func (u *GraphUpdate) IsConsistent() bool {
	if len(u.Diffs) == 0 {
		return true
	}
	return u.LastConsistentChangeID == u.Diffs[len(u.Diffs)-1].ID
}

// ConsistentChanges returns the events up to the last consistent change id.
func (u *GraphUpdate) ConsistentChanges() []Change {
	result := make([]Change, 0, len(u.Diffs))
	for _, c := range u.Diffs {
		if c.ID <= u.LastConsistentChangeID {
			result = append(result, c)
		}
	}
	return result
}

// Len returns the number of events.
func (u *GraphUpdate) Len() int {
	return len(u.Diffs)
}

// IsEmpty returns true if no event was added.
func (u *GraphUpdate) IsEmpty() bool {
	return len(u.Diffs) == 0
}

// Events returns all events in order.
func (u *GraphUpdate) Events() []Event {
	events := make([]Event, len(u.Diffs))
	for i, c := range u.Diffs {
		events[i] = c.Event
	}
	return events
}

// Append copies all events of other to the end of u.
func (u *GraphUpdate) Append(other *GraphUpdate) {
	if other == nil {
		return
	}
	for _, c := range other.Diffs {
		u.AddEvent(c.Event)
	}
}

// Convenience builders

// AddNode adds a node with the given unique name and node type.
func (u *GraphUpdate) AddNode(name, nodeType string) {
	u.AddEvent(Event{Kind: AddNode, NodeName: name, NodeType: nodeType})
}

// DeleteNode removes a node and all edges connected to it.
func (u *GraphUpdate) DeleteNode(name string) {
	u.AddEvent(Event{Kind: DeleteNode, NodeName: name})
}

// AddNodeLabel sets a label on a node.
func (u *GraphUpdate) AddNodeLabel(name, ns, annoName, value string) {
	u.AddEvent(Event{Kind: AddNodeLabel, NodeName: name, AnnoNS: ns, AnnoName: annoName, AnnoValue: value})
}

// DeleteNodeLabel removes a label from a node.
func (u *GraphUpdate) DeleteNodeLabel(name, ns, annoName string) {
	u.AddEvent(Event{Kind: DeleteNodeLabel, NodeName: name, AnnoNS: ns, AnnoName: annoName})
}

// AddEdge adds an edge to the component (componentType, layer, componentName).
func (u *GraphUpdate) AddEdge(source, target, layer, componentType, componentName string) {
	u.AddEvent(Event{
		Kind:          AddEdge,
		SourceNode:    source,
		TargetNode:    target,
		Layer:         layer,
		ComponentType: componentType,
		ComponentName: componentName,
	})
}

// DeleteEdge removes an edge from its component.
func (u *GraphUpdate) DeleteEdge(source, target, layer, componentType, componentName string) {
	u.AddEvent(Event{
		Kind:          DeleteEdge,
		SourceNode:    source,
		TargetNode:    target,
		Layer:         layer,
		ComponentType: componentType,
		ComponentName: componentName,
	})
}

// AddEdgeLabel sets a label on an existing edge.
func (u *GraphUpdate) AddEdgeLabel(source, target, layer, componentType, componentName, ns, annoName, value string) {
	u.AddEvent(Event{
		Kind:          AddEdgeLabel,
		SourceNode:    source,
		TargetNode:    target,
		Layer:         layer,
		ComponentType: componentType,
		ComponentName: componentName,
		AnnoNS:        ns,
		AnnoName:      annoName,
		AnnoValue:     value,
	})
}

// DeleteEdgeLabel removes a label from an edge.
func (u *GraphUpdate) DeleteEdgeLabel(source, target, layer, componentType, componentName, ns, annoName string) {
	u.AddEvent(Event{
		Kind:          DeleteEdgeLabel,
		SourceNode:    source,
		TargetNode:    target,
		Layer:         layer,
		ComponentType: componentType,
		ComponentName: componentName,
		AnnoNS:        ns,
		AnnoName:      annoName,
	})
}

// Marshal encodes the update as JSON.
func (u *GraphUpdate) Marshal() ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("marshaling graph update: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a JSON encoded update.
func Unmarshal(data []byte) (*GraphUpdate, error) {
	var u GraphUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshaling graph update: %w", err)
	}
	return &u, nil
}
