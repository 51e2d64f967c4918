// Package metrics defines the Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prefix is prepended to every sheetpipe metric name.
const Prefix = "sheetpipe_"

type (
	// UploadOutcome labels an upload attempt.
	UploadOutcome string

	// MessageOutcome labels how a consumed message was settled.
	MessageOutcome string
)

const (
	UploadAccepted       UploadOutcome = "accepted"
	UploadRejectedInput  UploadOutcome = "rejected_input"
	UploadPublishFailure UploadOutcome = "publish_failure"
	UploadStoreFailure   UploadOutcome = "store_failure"

	MessageProcessed       MessageOutcome = "processed"
	MessageFailed          MessageOutcome = "failed"
	MessageSkippedTerminal MessageOutcome = "skipped_terminal"
	MessageUndecodable     MessageOutcome = "undecodable"
	MessageAbandoned       MessageOutcome = "abandoned"
)

// Pipeline holds the pipeline collectors. A nil *Pipeline records nothing, so
// components can be built without metrics in tests.
type Pipeline struct {
	uploads         *prometheus.CounterVec
	uploadedRows    prometheus.Counter
	messages        *prometheus.CounterVec
	batches         *prometheus.CounterVec
	rowsUpserted    prometheus.Counter
	batchDuration   prometheus.Histogram
	filesCompleted  *prometheus.CounterVec
	publishDuration prometheus.Histogram
}

// NewPipeline registers the pipeline collectors with reg.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)

	return &Pipeline{
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "uploads_total",
			Help: "Number of upload attempts grouped by outcome",
		}, []string{"outcome"}),
		uploadedRows: factory.NewCounter(prometheus.CounterOpts{
			Name: Prefix + "uploaded_rows_total",
			Help: "Number of data rows accepted for ingestion",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "messages_consumed_total",
			Help: "Number of queue messages consumed grouped by outcome",
		}, []string{"outcome"}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "batches_total",
			Help: "Number of batch transactions grouped by result",
		}, []string{"result"}),
		rowsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Name: Prefix + "rows_upserted_total",
			Help: "Number of rows committed to the target table",
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    Prefix + "batch_duration_seconds",
			Help:    "Time taken to upsert and commit one batch",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		filesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "files_completed_total",
			Help: "Number of files that reached a terminal status grouped by status",
		}, []string{"status"}),
		publishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    Prefix + "publish_duration_seconds",
			Help:    "Time taken to publish one ingestion message",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordUpload counts an upload attempt. Rows are added only when the upload
// was accepted.
func (p *Pipeline) RecordUpload(outcome UploadOutcome, rows int) {
	if p == nil {
		return
	}

	p.uploads.With(prometheus.Labels{"outcome": string(outcome)}).Inc()

	if outcome == UploadAccepted {
		p.uploadedRows.Add(float64(rows))
	}
}

// RecordPublish observes how long one queue publish took.
func (p *Pipeline) RecordPublish(duration time.Duration) {
	if p == nil {
		return
	}

	p.publishDuration.Observe(duration.Seconds())
}

// RecordMessage counts a consumed message by how it was settled.
func (p *Pipeline) RecordMessage(outcome MessageOutcome) {
	if p == nil {
		return
	}

	p.messages.With(prometheus.Labels{"outcome": string(outcome)}).Inc()
}

// RecordBatchCommitted counts a committed batch and the rows it upserted.
func (p *Pipeline) RecordBatchCommitted(rows int, duration time.Duration) {
	if p == nil {
		return
	}

	p.batches.With(prometheus.Labels{"result": "committed"}).Inc()
	p.rowsUpserted.Add(float64(rows))
	p.batchDuration.Observe(duration.Seconds())
}

// RecordBatchFailed counts a rolled back batch, including ones that timed out.
func (p *Pipeline) RecordBatchFailed(duration time.Duration) {
	if p == nil {
		return
	}

	p.batches.With(prometheus.Labels{"result": "failed"}).Inc()
	p.batchDuration.Observe(duration.Seconds())
}

// RecordFileCompleted counts a file that reached Processed or Error.
func (p *Pipeline) RecordFileCompleted(status string) {
	if p == nil {
		return
	}

	p.filesCompleted.With(prometheus.Labels{"status": status}).Inc()
}
