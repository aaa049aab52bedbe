package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the follow-up service.
// Every method is safe on a nil receiver so components can run without metrics.
type Metrics struct {
	CandidatesCreated     *prometheus.CounterVec
	StatusChangesRecorded *prometheus.CounterVec
	OutboxPublished       *prometheus.CounterVec
	OutboxSkipped         prometheus.Counter
	OutboxFailures        *prometheus.CounterVec
	OutboxTickDuration    prometheus.Histogram
	RecordsConsumed       *prometheus.CounterVec
	HandlerRetries        *prometheus.CounterVec
	RecordsDiscarded      *prometheus.CounterVec
	CheckpointsScheduled  prometheus.Counter
	CheckpointsCancelled  prometheus.Counter
	CheckpointsProcessed  prometheus.Counter
	IdentifiersRewritten  prometheus.Counter
	ArchiveFallbacks      prometheus.Counter
	Leader                prometheus.Gauge
}

// New creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CandidatesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "followup_candidates_created_total",
			Help: "Candidates created, by the signal that created them",
		}, []string{"source"}),
		StatusChangesRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "followup_status_changes_recorded_total",
			Help: "Status changes appended to candidates, by kind",
		}, []string{"kind"}),
		OutboxPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "followup_outbox_published_total",
			Help: "Outbox items published, by item type",
		}, []string{"item"}),
		OutboxSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "followup_outbox_skipped_total",
			Help: "Unpublished candidates held back by the notification grace period",
		}),
		OutboxFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "followup_outbox_failures_total",
			Help: "Outbox failures, by stage (send or mark)",
		}, []string{"stage"}),
		OutboxTickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "followup_outbox_tick_duration_seconds",
			Help:    "Duration of one outbox publishing pass",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		RecordsConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "followup_records_consumed_total",
			Help: "Inbound records handled, by topic",
		}, []string{"topic"}),
		HandlerRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "followup_handler_retries_total",
			Help: "Handler failures that caused a record to be retried, by topic",
		}, []string{"topic"}),
		RecordsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "followup_records_discarded_total",
			Help: "Inbound records committed without effect, by reason",
		}, []string{"reason"}),
		CheckpointsScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "followup_checkpoints_scheduled_total",
			Help: "Checkpoints created or updated from case-duration signals",
		}),
		CheckpointsCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "followup_checkpoints_cancelled_total",
			Help: "Pending checkpoints removed because the case became ineligible",
		}),
		CheckpointsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "followup_checkpoints_processed_total",
			Help: "Due checkpoints turned into candidates",
		}),
		IdentifiersRewritten: f.NewCounter(prometheus.CounterOpts{
			Name: "followup_identifiers_rewritten_total",
			Help: "Candidates whose person identifier was replaced by the active one",
		}),
		ArchiveFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "followup_archive_fallbacks_total",
			Help: "Assessments archived with the fallback reference",
		}),
		Leader: f.NewGauge(prometheus.GaugeOpts{
			Name: "followup_leader",
			Help: "1 while this instance holds scheduling leadership",
		}),
	}
}

func (m *Metrics) IncCandidateCreated(source string) {
	if m == nil {
		return
	}
	m.CandidatesCreated.WithLabelValues(source).Inc()
}

func (m *Metrics) IncStatusChange(kind string) {
	if m == nil {
		return
	}
	m.StatusChangesRecorded.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncOutboxPublished(item string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(item).Inc()
}

func (m *Metrics) IncOutboxSkipped() {
	if m == nil {
		return
	}
	m.OutboxSkipped.Inc()
}

func (m *Metrics) IncOutboxFailure(stage string) {
	if m == nil {
		return
	}
	m.OutboxFailures.WithLabelValues(stage).Inc()
}

// ObserveOutboxTick records the duration of an outbox pass.
// Call with time.Now() at the start of the pass.
func (m *Metrics) ObserveOutboxTick(start time.Time) {
	if m == nil {
		return
	}
	m.OutboxTickDuration.Observe(time.Since(start).Seconds())
}

// IncRecordDiscarded counts a record dropped as a duplicate, a replay, a
// late answer or a malformed payload.
func (m *Metrics) IncRecordDiscarded(reason string) {
	if m == nil {
		return
	}
	m.RecordsDiscarded.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncRecordConsumed(topic string) {
	if m == nil {
		return
	}
	m.RecordsConsumed.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncHandlerRetry(topic string) {
	if m == nil {
		return
	}
	m.HandlerRetries.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncCheckpointScheduled() {
	if m == nil {
		return
	}
	m.CheckpointsScheduled.Inc()
}

func (m *Metrics) IncCheckpointCancelled() {
	if m == nil {
		return
	}
	m.CheckpointsCancelled.Inc()
}

func (m *Metrics) IncCheckpointProcessed() {
	if m == nil {
		return
	}
	m.CheckpointsProcessed.Inc()
}

func (m *Metrics) AddIdentifiersRewritten(n int) {
	if m == nil {
		return
	}
	m.IdentifiersRewritten.Add(float64(n))
}

func (m *Metrics) IncArchiveFallback() {
	if m == nil {
		return
	}
	m.ArchiveFallbacks.Inc()
}

// SetLeader records the latest leadership observation.
func (m *Metrics) SetLeader(leader bool) {
	if m == nil {
		return
	}
	if leader {
		m.Leader.Set(1)
		return
	}
	m.Leader.Set(0)
}
