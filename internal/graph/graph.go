package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNodeNotFound is returned when a node name or id is unknown.
	ErrNodeNotFound = errors.New("node not found")
	// ErrEdgeNotFound is returned when an edge does not exist in its component.
	ErrEdgeNotFound = errors.New("edge not found")
)

// labelMap keeps labels in insertion order.
type labelMap struct {
	values map[RawKey]StringID
	keys   []RawKey
}

func newLabelMap() *labelMap {
	return &labelMap{values: make(map[RawKey]StringID)}
}

func (l *labelMap) set(k RawKey, v StringID) {
	if _, ok := l.values[k]; !ok {
		l.keys = append(l.keys, k)
	}
	l.values[k] = v
}

func (l *labelMap) remove(k RawKey) {
	if _, ok := l.values[k]; !ok {
		return
	}
	delete(l.values, k)
	for i, existing := range l.keys {
		if existing == k {
			l.keys = append(l.keys[:i], l.keys[i+1:]...)
			break
		}
	}
}

func (l *labelMap) annotations() []RawAnnotation {
	result := make([]RawAnnotation, 0, len(l.keys))
	for _, k := range l.keys {
		result = append(result, RawAnnotation{Key: k, Value: l.values[k]})
	}
	return result
}

func (l *labelMap) clone() *labelMap {
	c := &labelMap{
		values: make(map[RawKey]StringID, len(l.values)),
		keys:   make([]RawKey, len(l.keys)),
	}
	copy(c.keys, l.keys)
	for k, v := range l.values {
		c.values[k] = v
	}
	return c
}

type nodeData struct {
	name   string
	labels *labelMap
}

type componentData struct {
	outgoing map[NodeID]map[NodeID]*labelMap
	incoming map[NodeID]map[NodeID]struct{}
	size     int
}

func newComponentData() *componentData {
	return &componentData{
		outgoing: make(map[NodeID]map[NodeID]*labelMap),
		incoming: make(map[NodeID]map[NodeID]struct{}),
	}
}

// Graph is an in-memory typed property graph.
//
// Nodes are keyed by NodeID with a secondary index on their unique name and
// on their node type. Every component keeps outgoing and incoming adjacency
// so that neighborhood lookups are O(result) rather than O(graph). Removing
// a node cascades to every edge in every component.
type Graph struct {
	mu         sync.RWMutex
	strings    *StringStorage
	nodes      map[NodeID]*nodeData
	byName     map[string]NodeID
	byType     map[string]map[NodeID]struct{}
	components map[Component]*componentData
	nextID     NodeID
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		strings:    NewStringStorage(),
		nodes:      make(map[NodeID]*nodeData),
		byName:     make(map[string]NodeID),
		byType:     make(map[string]map[NodeID]struct{}),
		components: make(map[Component]*componentData),
	}
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges over all components.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	count := 0
	for _, c := range g.components {
		count += c.size
	}
	return count
}

// Str resolves an interned string id.
func (g *Graph) Str(id StringID) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.strings.Str(id)
}

// Intern interns a string and returns its id.
func (g *Graph) Intern(s string) StringID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.strings.Intern(s)
}

// AddNode adds a node with a unique name. Adding an existing name returns
// the existing id and only updates its node type.
func (g *Graph) AddNode(name, nodeType string) NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addNode(name, nodeType)
}

func (g *Graph) addNode(name, nodeType string) NodeID {
	id, exists := g.byName[name]
	if !exists {
		id = g.nextID
		g.nextID++
		g.nodes[id] = &nodeData{name: name, labels: newLabelMap()}
		g.byName[name] = id
		g.setNodeLabel(id, ANNISNamespace, NodeNameKey, name)
	}
	g.setNodeLabel(id, ANNISNamespace, NodeTypeKey, nodeType)
	return id
}

// NodeByName looks up a node by its unique name.
func (g *Graph) NodeByName(name string) (NodeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byName[name]
	return id, ok
}

// NodeName returns the unique name of a node.
func (g *Graph) NodeName(id NodeID) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return "", false
	}
	return n.name, true
}

// DeleteNode removes a node and cascade-deletes all edges that reference it.
// Returns true if the node existed.
func (g *Graph) DeleteNode(id NodeID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deleteNode(id)
}

func (g *Graph) deleteNode(id NodeID) bool {
	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	if typeID, ok := g.strings.Lookup(NodeTypeKey); ok {
		if nsID, ok := g.strings.Lookup(ANNISNamespace); ok {
			if v, ok := n.labels.values[RawKey{NS: nsID, Name: typeID}]; ok {
				t, _ := g.strings.Str(v)
				delete(g.byType[t], id)
			}
		}
	}
	delete(g.nodes, id)
	delete(g.byName, n.name)
	g.cascadeEdgesForNode(id)
	return true
}

// cascadeEdgesForNode removes all edges where the node is source or target.
// Must be called with the write lock held.
func (g *Graph) cascadeEdgesForNode(id NodeID) {
	for _, c := range g.components {
		for target := range c.outgoing[id] {
			delete(c.incoming[target], id)
			c.size--
		}
		delete(c.outgoing, id)
		for source := range c.incoming[id] {
			delete(c.outgoing[source], id)
			c.size--
		}
		delete(c.incoming, id)
	}
}

// SetNodeLabel adds or replaces a node label.
func (g *Graph) SetNodeLabel(id NodeID, ns, name, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("setting label %s::%s: %w", ns, name, ErrNodeNotFound)
	}
	g.setNodeLabel(id, ns, name, value)
	return nil
}

func (g *Graph) setNodeLabel(id NodeID, ns, name, value string) {
	n := g.nodes[id]
	key := RawKey{NS: g.strings.Intern(ns), Name: g.strings.Intern(name)}
	if ns == ANNISNamespace && name == NodeTypeKey {
		if old, ok := n.labels.values[key]; ok {
			oldType, _ := g.strings.Str(old)
			delete(g.byType[oldType], id)
		}
		if g.byType[value] == nil {
			g.byType[value] = make(map[NodeID]struct{})
		}
		g.byType[value][id] = struct{}{}
	}
	n.labels.set(key, g.strings.Intern(value))
}

// DeleteNodeLabel removes a node label if present.
func (g *Graph) DeleteNodeLabel(id NodeID, ns, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteNodeLabel(id, ns, name)
}

func (g *Graph) deleteNodeLabel(id NodeID, ns, name string) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	nsID, ok1 := g.strings.Lookup(ns)
	nameID, ok2 := g.strings.Lookup(name)
	if !ok1 || !ok2 {
		return
	}
	n.labels.remove(RawKey{NS: nsID, Name: nameID})
}

// AddEdge adds an edge to a component, creating the component on demand.
// Adding an existing edge is a no-op.
func (g *Graph) AddEdge(c Component, e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdge(c, e)
}

func (g *Graph) addEdge(c Component, e Edge) error {
	if !c.Type.Valid() {
		return fmt.Errorf("adding edge to %s: invalid component type", c)
	}
	if _, ok := g.nodes[e.Source]; !ok {
		return fmt.Errorf("adding edge source %d: %w", e.Source, ErrNodeNotFound)
	}
	if _, ok := g.nodes[e.Target]; !ok {
		return fmt.Errorf("adding edge target %d: %w", e.Target, ErrNodeNotFound)
	}

	cd, ok := g.components[c]
	if !ok {
		cd = newComponentData()
		g.components[c] = cd
	}
	if cd.outgoing[e.Source] == nil {
		cd.outgoing[e.Source] = make(map[NodeID]*labelMap)
	}
	if _, exists := cd.outgoing[e.Source][e.Target]; exists {
		return nil
	}
	cd.outgoing[e.Source][e.Target] = newLabelMap()
	if cd.incoming[e.Target] == nil {
		cd.incoming[e.Target] = make(map[NodeID]struct{})
	}
	cd.incoming[e.Target][e.Source] = struct{}{}
	cd.size++
	return nil
}

// DeleteEdge removes an edge from a component. Returns true if it existed.
func (g *Graph) DeleteEdge(c Component, e Edge) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deleteEdge(c, e)
}

func (g *Graph) deleteEdge(c Component, e Edge) bool {
	cd, ok := g.components[c]
	if !ok {
		return false
	}
	if _, ok := cd.outgoing[e.Source][e.Target]; !ok {
		return false
	}
	delete(cd.outgoing[e.Source], e.Target)
	delete(cd.incoming[e.Target], e.Source)
	cd.size--
	return true
}

// SetEdgeLabel adds or replaces a label on an existing edge.
func (g *Graph) SetEdgeLabel(c Component, e Edge, ns, name, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.setEdgeLabel(c, e, ns, name, value)
}

func (g *Graph) setEdgeLabel(c Component, e Edge, ns, name, value string) error {
	labels := g.edgeLabelMap(c, e)
	if labels == nil {
		return fmt.Errorf("setting label %s::%s on %d -> %d in %s: %w", ns, name, e.Source, e.Target, c, ErrEdgeNotFound)
	}
	labels.set(RawKey{NS: g.strings.Intern(ns), Name: g.strings.Intern(name)}, g.strings.Intern(value))
	return nil
}

// DeleteEdgeLabel removes an edge label if present.
func (g *Graph) DeleteEdgeLabel(c Component, e Edge, ns, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteEdgeLabel(c, e, ns, name)
}

func (g *Graph) deleteEdgeLabel(c Component, e Edge, ns, name string) {
	labels := g.edgeLabelMap(c, e)
	if labels == nil {
		return
	}
	nsID, ok1 := g.strings.Lookup(ns)
	nameID, ok2 := g.strings.Lookup(name)
	if ok1 && ok2 {
		labels.remove(RawKey{NS: nsID, Name: nameID})
	}
}

func (g *Graph) edgeLabelMap(c Component, e Edge) *labelMap {
	cd, ok := g.components[c]
	if !ok {
		return nil
	}
	return cd.outgoing[e.Source][e.Target]
}

// Nodes returns all node ids in ascending order.
func (g *Graph) Nodes() []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	result := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		result = append(result, id)
	}
	sortNodeIDs(result)
	return result
}

// NodesByType returns all nodes whose annis::node_type equals nodeType.
func (g *Graph) NodesByType(nodeType string) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids, ok := g.byType[nodeType]
	if !ok {
		return nil
	}
	result := make([]NodeID, 0, len(ids))
	for id := range ids {
		result = append(result, id)
	}
	sortNodeIDs(result)
	return result
}

// Components returns every component in a stable order.
func (g *Graph) Components() []Component {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.componentsLocked(nil)
}

// ComponentsByType returns every component of the given type.
func (g *Graph) ComponentsByType(t ComponentType) []Component {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.componentsLocked(&t)
}

func (g *Graph) componentsLocked(filter *ComponentType) []Component {
	result := make([]Component, 0, len(g.components))
	for c := range g.components {
		if filter == nil || c.Type == *filter {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Less(result[j]) })
	return result
}

// OutgoingEdges returns the outgoing edges of a node in one component.
func (g *Graph) OutgoingEdges(id NodeID, c Component) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cd, ok := g.components[c]
	if !ok {
		return nil
	}
	targets := cd.outgoing[id]
	if len(targets) == 0 {
		return nil
	}
	result := make([]Edge, 0, len(targets))
	for t := range targets {
		result = append(result, Edge{Source: id, Target: t})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Target < result[j].Target })
	return result
}

// IncomingEdges returns the incoming edges of a node in one component.
func (g *Graph) IncomingEdges(id NodeID, c Component) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cd, ok := g.components[c]
	if !ok {
		return nil
	}
	sources := cd.incoming[id]
	if len(sources) == 0 {
		return nil
	}
	result := make([]Edge, 0, len(sources))
	for s := range sources {
		result = append(result, Edge{Source: s, Target: id})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Source < result[j].Source })
	return result
}

// Edges returns every edge of a component ordered by source and target.
func (g *Graph) Edges(c Component) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cd, ok := g.components[c]
	if !ok {
		return nil
	}
	result := make([]Edge, 0, cd.size)
	for s, targets := range cd.outgoing {
		for t := range targets {
			result = append(result, Edge{Source: s, Target: t})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Source != result[j].Source {
			return result[i].Source < result[j].Source
		}
		return result[i].Target < result[j].Target
	})
	return result
}

// NodeLabels returns the raw labels of a node in insertion order.
func (g *Graph) NodeLabels(id NodeID) []RawAnnotation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return n.labels.annotations()
}

// EdgeLabels returns the raw labels of an edge in insertion order.
func (g *Graph) EdgeLabels(e Edge, c Component) []RawAnnotation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	labels := g.edgeLabelMap(c, e)
	if labels == nil {
		return nil
	}
	return labels.annotations()
}

// NodeAnnotations returns the resolved labels of a node.
func (g *Graph) NodeAnnotations(id NodeID) []Annotation {
	return g.resolve(g.NodeLabels(id))
}

// EdgeAnnotations returns the resolved labels of an edge.
func (g *Graph) EdgeAnnotations(e Edge, c Component) []Annotation {
	return g.resolve(g.EdgeLabels(e, c))
}

// NodeLabel returns a single resolved node label.
func (g *Graph) NodeLabel(id NodeID, ns, name string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return "", false
	}
	nsID, ok1 := g.strings.Lookup(ns)
	nameID, ok2 := g.strings.Lookup(name)
	if !ok1 || !ok2 {
		return "", false
	}
	v, ok := n.labels.values[RawKey{NS: nsID, Name: nameID}]
	if !ok {
		return "", false
	}
	return g.strings.Str(v)
}

func (g *Graph) resolve(raw []RawAnnotation) []Annotation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	result := make([]Annotation, 0, len(raw))
	for _, a := range raw {
		ns, _ := g.strings.Str(a.Key.NS)
		name, _ := g.strings.Str(a.Key.Name)
		value, _ := g.strings.Str(a.Value)
		result = append(result, Annotation{Key: AnnoKey{NS: ns, Name: name}, Value: value})
	}
	return result
}

// Stats returns a summary of graph size.
func (g *Graph) Stats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := 0
	for _, c := range g.components {
		edges += c.size
	}
	return map[string]int{
		"nodes":      len(g.nodes),
		"edges":      edges,
		"components": len(g.components),
		"strings":    g.strings.Len(),
	}
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cloneLocked()
}

func (g *Graph) cloneLocked() *Graph {
	c := &Graph{
		strings:    g.strings.clone(),
		nodes:      make(map[NodeID]*nodeData, len(g.nodes)),
		byName:     make(map[string]NodeID, len(g.byName)),
		byType:     make(map[string]map[NodeID]struct{}, len(g.byType)),
		components: make(map[Component]*componentData, len(g.components)),
		nextID:     g.nextID,
	}
	for id, n := range g.nodes {
		c.nodes[id] = &nodeData{name: n.name, labels: n.labels.clone()}
	}
	for name, id := range g.byName {
		c.byName[name] = id
	}
	for t, ids := range g.byType {
		m := make(map[NodeID]struct{}, len(ids))
		for id := range ids {
			m[id] = struct{}{}
		}
		c.byType[t] = m
	}
	for comp, cd := range g.components {
		ncd := newComponentData()
		ncd.size = cd.size
		for s, targets := range cd.outgoing {
			m := make(map[NodeID]*labelMap, len(targets))
			for t, l := range targets {
				m[t] = l.clone()
			}
			ncd.outgoing[s] = m
		}
		for t, sources := range cd.incoming {
			m := make(map[NodeID]struct{}, len(sources))
			for s := range sources {
				m[s] = struct{}{}
			}
			ncd.incoming[t] = m
		}
		c.components[comp] = ncd
	}
	return c
}

func sortNodeIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
