package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

// Metrics holds every counter the pipeline records.
// It is created once and passed explicitly to each component.
//
// Hot-path counters are plain atomics so the listener and reconstructor
// goroutines never touch a label map; they are exported to Prometheus
// through CounterFunc/GaugeFunc collectors.
type Metrics struct {
	// Telemetry counters
	fecSetFailures       atomic.Uint64
	fecSetSuccesses      atomic.Uint64
	fecSetsRemaining     atomic.Int64
	collectedCoding      atomic.Uint64
	collectedData        atomic.Uint64
	processedData        atomic.Uint64
	queueDropped         atomic.Uint64
	duplicateShreds      atomic.Uint64
	lateShreds           atomic.Uint64
	fecSetsRecovered     atomic.Uint64
	entriesDecoded       atomic.Uint64
	transactionsDecoded  atomic.Uint64
	partialEntryErrors   atomic.Uint64
	batchesAbandoned     atomic.Uint64
	evaluations          atomic.Uint64
	opportunities        atomic.Uint64
	overflowRejections   atomic.Uint64
	graduatesDetected    atomic.Uint64
	unresolvableAccounts atomic.Uint64

	// Labeled counters
	malformedPackets    *prometheus.CounterVec
	programTransactions *prometheus.CounterVec
	swapsApplied        *prometheus.CounterVec
	swapsSkipped        *prometheus.CounterVec
	largeSwaps          prometheus.Counter
	executions          *prometheus.CounterVec
	fecRecoveryDuration prometheus.Histogram
	evaluationDuration  prometheus.Histogram

	// RPC Metrics
	rpcCallDuration *prometheus.HistogramVec
	rpcCallsTotal   *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)
	m := &Metrics{}

	counterFunc := func(name, help string, v *atomic.Uint64) {
		factory.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return float64(v.Load())
		})
	}

	counterFunc("fec_set_failure_count", "FEC sets that failed recovery or expired", &m.fecSetFailures)
	counterFunc("fec_set_success_count", "FEC sets reconstructed successfully", &m.fecSetSuccesses)
	counterFunc("total_collected_coding", "Valid coding shreds received", &m.collectedCoding)
	counterFunc("total_collected_data", "Valid data shreds received", &m.collectedData)
	counterFunc("total_processed_data", "Data shreds delivered by successful reconstructions", &m.processedData)
	counterFunc("queue_dropped_total", "Shreds dropped by the ingest queue on saturation", &m.queueDropped)
	counterFunc("duplicate_shreds_total", "Shreds ignored because the FEC set already held them", &m.duplicateShreds)
	counterFunc("late_shreds_total", "Shreds received after their FEC set was finalized", &m.lateShreds)
	counterFunc("fec_sets_recovered_total", "FEC sets that needed erasure decoding", &m.fecSetsRecovered)
	counterFunc("entries_decoded_total", "Ledger entries decoded", &m.entriesDecoded)
	counterFunc("transactions_decoded_total", "Transactions decoded from entries", &m.transactionsDecoded)
	counterFunc("partial_entry_errors_total", "Entry batches that failed to decode completely", &m.partialEntryErrors)
	counterFunc("batches_abandoned_total", "Incomplete entry batches dropped for lagging slots", &m.batchesAbandoned)
	counterFunc("evaluations_total", "Arbitrage cycle evaluations", &m.evaluations)
	counterFunc("opportunities_total", "Arbitrage opportunities emitted", &m.opportunities)
	counterFunc("overflow_rejections_total", "Cycle evaluations rejected by arithmetic overflow", &m.overflowRejections)
	counterFunc("graduates_detected_total", "Pump graduations observed", &m.graduatesDetected)
	counterFunc("unresolvable_accounts_total", "Instructions referencing accounts outside the static key list", &m.unresolvableAccounts)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fec_sets_remaining",
		Help: "Open FEC sets awaiting enough shreds",
	}, func() float64 {
		return float64(m.fecSetsRemaining.Load())
	})

	m.malformedPackets = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malformed_packets_total",
			Help: "Datagrams rejected by the shred parser",
		},
		[]string{"reason"},
	)
	m.programTransactions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "program_transactions_total",
			Help: "Transactions invoking a tracked AMM program",
		},
		[]string{"program"},
	)
	m.swapsApplied = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swaps_applied_total",
			Help: "Pool updates applied by instruction kind",
		},
		[]string{"kind"},
	)
	m.swapsSkipped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swaps_skipped_total",
			Help: "Pool updates skipped by reason",
		},
		[]string{"reason"},
	)
	m.largeSwaps = factory.NewCounter(prometheus.CounterOpts{
		Name: "large_swaps_total",
		Help: "Swaps moving more WSOL than the large swap threshold",
	})
	m.executions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executions_total",
			Help: "Opportunity executions by status",
		},
		[]string{"status"},
	)
	m.fecRecoveryDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "fec_recovery_duration_seconds",
		Help:    "Time spent in erasure decoding per FEC set",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
	})

	m.evaluationDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "evaluation_duration_seconds",
		Help:    "Time spent evaluating the cycles through one dirty pool",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	m.rpcCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solana_rpc_call_duration_seconds",
			Help:    "Duration of Solana RPC calls in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
	m.rpcCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solana_rpc_calls_total",
			Help: "Total number of Solana RPC calls",
		},
		[]string{"method", "status", "endpoint"},
	)

	m.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method", "status"},
	)
	m.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)
	m.sseActiveConnections = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sse_active_connections",
		Help: "Number of active SSE connections",
	})
	m.sseEventsSent = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sse_events_sent_total",
			Help: "Total number of SSE events sent",
		},
		[]string{"event_type"},
	)

	m.natsMessagesPublished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_published_total",
			Help: "Total number of messages published to NATS",
		},
		[]string{"subject", "status"},
	)
	m.natsPublishDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_publish_duration_seconds",
			Help:    "Duration of NATS publish operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"subject"},
	)

	return m
}

// Ingest

func (m *Metrics) RecordMalformedPacket(reason string) {
	m.malformedPackets.WithLabelValues(reason).Inc()
}

// RecordCollected counts a valid shred by type.
func (m *Metrics) RecordCollected(coding bool) {
	if coding {
		m.collectedCoding.Inc()
		return
	}
	m.collectedData.Inc()
}

func (m *Metrics) RecordQueueDropped() { m.queueDropped.Inc() }

// Reconstruction

func (m *Metrics) RecordDuplicateShred() { m.duplicateShreds.Inc() }

func (m *Metrics) RecordLateShred() { m.lateShreds.Inc() }

func (m *Metrics) RecordFecSetOpened() { m.fecSetsRemaining.Inc() }

// RecordFecSetSuccess counts a reconstructed set and the data shreds it delivered.
func (m *Metrics) RecordFecSetSuccess(numData int, recovered bool, duration float64) {
	m.fecSetsRemaining.Dec()
	m.fecSetSuccesses.Inc()
	m.processedData.Add(uint64(numData))
	if recovered {
		m.fecSetsRecovered.Inc()
		m.fecRecoveryDuration.Observe(duration)
	}
}

// RecordFecSetFailure counts a set that failed recovery or expired.
func (m *Metrics) RecordFecSetFailure() {
	m.fecSetsRemaining.Dec()
	m.fecSetFailures.Inc()
}

// RecordFecSetAbandoned removes a set from the open gauge without counting a failure.
func (m *Metrics) RecordFecSetAbandoned() { m.fecSetsRemaining.Dec() }

// Entries

func (m *Metrics) RecordEntriesDecoded(entries, transactions int) {
	m.entriesDecoded.Add(uint64(entries))
	m.transactionsDecoded.Add(uint64(transactions))
}

func (m *Metrics) RecordPartialEntryError() { m.partialEntryErrors.Inc() }

func (m *Metrics) RecordBatchAbandoned() { m.batchesAbandoned.Inc() }

// Tracker

func (m *Metrics) RecordProgramTransaction(program string) {
	m.programTransactions.WithLabelValues(program).Inc()
}

func (m *Metrics) RecordSwapApplied(kind string) {
	m.swapsApplied.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordSwapSkipped(reason string) {
	m.swapsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordLargeSwap() { m.largeSwaps.Inc() }

func (m *Metrics) RecordGraduate() { m.graduatesDetected.Inc() }

func (m *Metrics) RecordUnresolvableAccount() { m.unresolvableAccounts.Inc() }

// Engine

func (m *Metrics) RecordEvaluation() { m.evaluations.Inc() }

func (m *Metrics) RecordOpportunity() { m.opportunities.Inc() }

func (m *Metrics) RecordOverflowRejection() { m.overflowRejections.Inc() }

func (m *Metrics) ObserveEvaluation(seconds float64) { m.evaluationDuration.Observe(seconds) }

// RecordExecution records the outcome of handing an opportunity to the executor.
func (m *Metrics) RecordExecution(status string) {
	m.executions.WithLabelValues(status).Inc()
}

// RPC metric helpers

// RecordRPCCall records a Solana RPC call.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.rpcCallDuration.WithLabelValues(method, endpoint).Observe(duration)
	m.rpcCallsTotal.WithLabelValues(method, status, endpoint).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
