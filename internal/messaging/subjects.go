package messaging

// Subjects follow the pattern flowguard.{stream}.{kind}.
const (
	// Batch subjects carry validated batches to the pipeline workers.
	SubjectBatchesLogs    = "flowguard.batches.logs"
	SubjectBatchesMetrics = "flowguard.batches.metrics"
	SubjectBatchesAll     = "flowguard.batches.>"

	// SubjectResultsBatch carries a summary of every processed batch.
	SubjectResultsBatch = "flowguard.results.batch"
)

// JetStream names.
const (
	StreamBatches   = "FLOWGUARD_BATCHES"
	ConsumerWorkers = "flowguard-workers"
)

// HeaderBatchID carries the batch id on published batches.
const HeaderBatchID = "Flowguard-Batch-Id"

// BatchSubject returns the subject for a batch kind ("logs" or "metrics"),
// or "" for unknown kinds.
func BatchSubject(kind string) string {
	switch kind {
	case "logs":
		return SubjectBatchesLogs
	case "metrics":
		return SubjectBatchesMetrics
	}
	return ""
}
