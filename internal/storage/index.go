package storage

import (
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/annis-go/internal/graph"
)

// Query selects annotation values. Empty NS or Name match any namespace or
// name. Value is compared case-insensitively, as a prefix when Prefix is set.
type Query struct {
	NS     string `json:"ns,omitempty"`
	Name   string `json:"name,omitempty"`
	Value  string `json:"value"`
	Prefix bool   `json:"prefix,omitempty"`
}

// Match is one annotation value hit.
type Match struct {
	Corpus string `json:"corpus"`
	Node   string `json:"node"`
	NS     string `json:"ns"`
	Name   string `json:"name"`
	Value  string `json:"value"`
}

func (q Query) matches(ns, name, value string) bool {
	if q.NS != "" && q.NS != ns {
		return false
	}
	if q.Name != "" && q.Name != name {
		return false
	}
	v, want := strings.ToLower(value), strings.ToLower(q.Value)
	if q.Prefix {
		return strings.HasPrefix(v, want)
	}
	return v == want
}

// indexable reports whether a label is searchable. Engine-internal labels
// are skipped except the token text.
func indexable(ns, name string) bool {
	return ns != graph.ANNISNamespace || name == graph.TokKey
}

// findInGraph scans all node labels of g.
func findInGraph(corpus string, g *graph.Graph, q Query, limit int) []Match {
	var matches []Match
	for _, id := range g.Nodes() {
		name, _ := g.NodeName(id)
		for _, a := range g.NodeAnnotations(id) {
			if !indexable(a.Key.NS, a.Key.Name) || !q.matches(a.Key.NS, a.Key.Name, a.Value) {
				continue
			}
			matches = append(matches, Match{Corpus: corpus, Node: name, NS: a.Key.NS, Name: a.Key.Name, Value: a.Value})
		}
	}
	return sortMatches(matches, limit)
}

func sortMatches(matches []Match, limit int) []Match {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Node != matches[j].Node {
			return matches[i].Node < matches[j].Node
		}
		if matches[i].NS != matches[j].NS {
			return matches[i].NS < matches[j].NS
		}
		return matches[i].Name < matches[j].Name
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// valueIndex is an inverted index from lower-cased annotation values to
// nodes, stored next to the corpus data.
//
//	v:<corpus>\x00<lower value>\x00<node>\x00<ns>\x00<name> -> value
type valueIndex struct {
	corpus string
}

func (ix valueIndex) key(value, node, ns, name string) []byte {
	return []byte(prefixValue + ix.corpus + sep + strings.ToLower(value) + sep + node + sep + ns + sep + name)
}

func (ix valueIndex) set(txn *badger.Txn, node string, annos []graph.Annotation) error {
	for _, a := range annos {
		if !indexable(a.Key.NS, a.Key.Name) {
			continue
		}
		if err := txn.Set(ix.key(a.Value, node, a.Key.NS, a.Key.Name), []byte(a.Value)); err != nil {
			return err
		}
	}
	return nil
}

func (ix valueIndex) remove(txn *badger.Txn, node string, annos []graph.Annotation) error {
	for _, a := range annos {
		if !indexable(a.Key.NS, a.Key.Name) {
			continue
		}
		if err := txn.Delete(ix.key(a.Value, node, a.Key.NS, a.Key.Name)); err != nil {
			return err
		}
	}
	return nil
}

func (ix valueIndex) search(txn *badger.Txn, q Query, limit int) ([]Match, error) {
	prefix := prefixValue + ix.corpus + sep + strings.ToLower(q.Value)
	if !q.Prefix {
		prefix += sep
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var matches []Match
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		parts := strings.Split(strings.TrimPrefix(string(item.Key()), prefixValue+ix.corpus+sep), sep)
		if len(parts) != 4 {
			continue
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		m := Match{Corpus: ix.corpus, Node: parts[1], NS: parts[2], Name: parts[3], Value: string(value)}
		if q.matches(m.NS, m.Name, m.Value) {
			matches = append(matches, m)
		}
	}
	return sortMatches(matches, limit), nil
}
