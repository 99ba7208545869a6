package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "studyaid"

var (
	// StorageWriteFailures counts durable writes that failed after all retry attempts.
	StorageWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_write_failures_total",
			Help:      "Durable key-value writes that failed after retries.",
		},
		[]string{"operation"},
	)

	// StoreMutations counts committed record store mutations by operation and outcome.
	StoreMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_mutations_total",
			Help:      "Record store mutations by operation and outcome (durable, not_persisted, rejected).",
		},
		[]string{"operation", "outcome"},
	)

	// MalformedRecords counts persisted payloads that failed to decode and were replaced by defaults.
	MalformedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_records_total",
			Help:      "Persisted payloads that could not be decoded.",
		},
		[]string{"kind"},
	)
)

// Outcome labels for StoreMutations.
const (
	OutcomeDurable      = "durable"
	OutcomeNotPersisted = "not_persisted"
	OutcomeRejected     = "rejected"
)
