package mapping

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Anomaly kinds. Each one is recovered locally and counted.
const (
	anomalyDanglingEdge      = "dangling_edge"
	anomalySelfEdge          = "self_edge"
	anomalyOrphanNode        = "orphan_node"
	anomalyDisconnectedChain = "disconnected_chain"
	anomalyCyclicChain       = "cyclic_chain"
	anomalyMalformedTimeline = "malformed_timeline"
	anomalyDanglingCorpus    = "dangling_corpus"
	anomalyNodeFailure       = "node_failure"
)

var (
	// anomaliesTotal counts recovered topology anomalies.
	// Labels: kind
	anomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annis",
		Subsystem: "mapping",
		Name:      "anomalies_total",
		Help:      "Topology anomalies skipped during export or import",
	}, []string{"kind"})

	// operationsTotal counts mapping calls.
	// Labels: operation (export, export_corpus, import, import_corpus), status (ok, error)
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annis",
		Subsystem: "mapping",
		Name:      "operations_total",
		Help:      "Mapping calls by operation and status",
	}, []string{"operation", "status"})
)

func recordAnomaly(logger *zap.Logger, kind, msg string, fields ...zap.Field) {
	anomaliesTotal.WithLabelValues(kind).Inc()
	if kind == anomalyDanglingEdge {
		// expected for bounded subgraphs
		logger.Debug(msg, append(fields, zap.String("anomaly", kind))...)
		return
	}
	logger.Warn(msg, append(fields, zap.String("anomaly", kind))...)
}

func recordOperation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	operationsTotal.WithLabelValues(operation, status).Inc()
}
