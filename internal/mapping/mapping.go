// Package mapping translates between the native property graph and the
// linguistic annotation graph.
//
// Export reads a bounded graph snapshot and recovers tokens, spans,
// structures, texts and an optional timeline from edge topology. Import walks
// an annotation graph and emits the ordered list of update events (nodes,
// labels, ordering, coverage and token-anchor edges) the engine needs to
// rebuild the same structure.
//
// Every call owns its builder state. Calls are safe to run concurrently on
// independent inputs.
package mapping

import (
	"errors"

	"go.uber.org/zap"

	"github.com/Benny93/annis-go/internal/graph"
)

// ErrInvariantViolation signals a broken engine contract, such as an edge in
// a component of unknown type. The call that detects it returns no result.
var ErrInvariantViolation = errors.New("invariant violation")

// GraphDB is the read contract export needs from the engine.
type GraphDB interface {
	NodesByType(nodeType string) []graph.NodeID
	Components() []graph.Component
	OutgoingEdges(id graph.NodeID, c graph.Component) []graph.Edge
	NodeLabels(id graph.NodeID) []graph.RawAnnotation
	EdgeLabels(e graph.Edge, c graph.Component) []graph.RawAnnotation
	Str(id graph.StringID) (string, bool)
}

var _ GraphDB = (*graph.Graph)(nil)

type options struct {
	logger *zap.Logger
}

// Option configures an export or import call.
type Option func(*options)

// WithLogger sets the logger anomalies are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
