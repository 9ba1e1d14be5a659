package graph

import (
	"fmt"

	"github.com/Benny93/annis-go/internal/update"
)

// Apply executes the consistent events of u as one transaction. Events
// added after the last Finish are ignored.
//
// Events are replayed against a private copy of the graph. The copy replaces
// the receiver's state only if every event succeeded, so a rejected update
// leaves the graph untouched. Deleting something that does not exist is not
// an error.
func (g *Graph) Apply(u *update.GraphUpdate) error {
	if u == nil {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	work := g.cloneLocked()
	for _, change := range u.ConsistentChanges() {
		if err := work.applyEvent(change.Event); err != nil {
			return fmt.Errorf("change %d %s: %w", change.ID, change.Event, err)
		}
	}

	g.strings = work.strings
	g.nodes = work.nodes
	g.byName = work.byName
	g.byType = work.byType
	g.components = work.components
	g.nextID = work.nextID
	return nil
}

// applyEvent runs one event without locking. Only called on private copies.
func (g *Graph) applyEvent(e update.Event) error {
	switch e.Kind {
	case update.AddNode:
		if e.NodeName == "" {
			return fmt.Errorf("empty node name")
		}
		nodeType := e.NodeType
		if nodeType == "" {
			nodeType = NodeTypeNode
		}
		g.addNode(e.NodeName, nodeType)
		return nil

	case update.DeleteNode:
		if id, ok := g.byName[e.NodeName]; ok {
			g.deleteNode(id)
		}
		return nil

	case update.AddNodeLabel:
		id, ok := g.byName[e.NodeName]
		if !ok {
			return fmt.Errorf("node %q: %w", e.NodeName, ErrNodeNotFound)
		}
		g.setNodeLabel(id, e.AnnoNS, e.AnnoName, e.AnnoValue)
		return nil

	case update.DeleteNodeLabel:
		if id, ok := g.byName[e.NodeName]; ok {
			g.deleteNodeLabel(id, e.AnnoNS, e.AnnoName)
		}
		return nil
	}

	c, err := eventComponent(e)
	if err != nil {
		return err
	}
	source, sourceOK := g.byName[e.SourceNode]
	target, targetOK := g.byName[e.TargetNode]

	switch e.Kind {
	case update.AddEdge:
		if !sourceOK {
			return fmt.Errorf("source %q: %w", e.SourceNode, ErrNodeNotFound)
		}
		if !targetOK {
			return fmt.Errorf("target %q: %w", e.TargetNode, ErrNodeNotFound)
		}
		return g.addEdge(c, Edge{Source: source, Target: target})

	case update.DeleteEdge:
		if sourceOK && targetOK {
			g.deleteEdge(c, Edge{Source: source, Target: target})
		}
		return nil

	case update.AddEdgeLabel:
		if !sourceOK || !targetOK {
			return fmt.Errorf("edge %q -> %q: %w", e.SourceNode, e.TargetNode, ErrEdgeNotFound)
		}
		return g.setEdgeLabel(c, Edge{Source: source, Target: target}, e.AnnoNS, e.AnnoName, e.AnnoValue)

	case update.DeleteEdgeLabel:
		if sourceOK && targetOK {
			g.deleteEdgeLabel(c, Edge{Source: source, Target: target}, e.AnnoNS, e.AnnoName)
		}
		return nil
	}

	return fmt.Errorf("unknown event kind %q", e.Kind)
}

func eventComponent(e update.Event) (Component, error) {
	switch e.Kind {
	case update.AddEdge, update.DeleteEdge, update.AddEdgeLabel, update.DeleteEdgeLabel:
	default:
		return Component{}, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	t, err := ParseComponentType(e.ComponentType)
	if err != nil {
		return Component{}, err
	}
	return Component{Type: t, Layer: e.Layer, Name: e.ComponentName}, nil
}
