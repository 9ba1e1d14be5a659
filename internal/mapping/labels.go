package mapping

import (
	"strings"

	"github.com/Benny93/annis-go/internal/graph"
	"github.com/Benny93/annis-go/internal/salt"
)

// resolveLabels turns interned labels into strings. Labels whose parts
// cannot be resolved are dropped.
func resolveLabels(db GraphDB, raw []graph.RawAnnotation) []graph.Annotation {
	result := make([]graph.Annotation, 0, len(raw))
	for _, a := range raw {
		ns, ok1 := db.Str(a.Key.NS)
		name, ok2 := db.Str(a.Key.Name)
		value, ok3 := db.Str(a.Value)
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		result = append(result, graph.Annotation{Key: graph.AnnoKey{NS: ns, Name: name}, Value: value})
	}
	return result
}

// splitLabels separates annotations from engine-internal features.
func splitLabels(labels []graph.Annotation) (annotations, features []salt.Annotation) {
	for _, l := range labels {
		a := salt.Annotation{NS: l.Key.NS, Name: l.Key.Name, Value: l.Value}
		if l.Key.NS == graph.ANNISNamespace {
			features = append(features, a)
		} else {
			annotations = append(annotations, a)
		}
	}
	return annotations, features
}

func label(labels []graph.Annotation, ns, name string) (string, bool) {
	for _, l := range labels {
		if l.Key.NS == ns && l.Key.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// lastSegment returns the part after the last '/'.
func lastSegment(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}
