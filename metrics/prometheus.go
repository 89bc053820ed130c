package metrics

import (
	"time"

	"github.com/JoNeedsSleep/machiave-llm/game"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus exports run events as Prometheus metrics, all prefixed with
// "machiavellm_":
//   - machiavellm_phases_started_total
//   - machiavellm_phases_processed_total
//   - machiavellm_phase_duration_seconds
//   - machiavellm_messages_total{power,outcome} - outcome is "sent" or "dropped"
//   - machiavellm_agent_failures_total{power,operation}
//   - machiavellm_orders_submitted_total{power}
//   - machiavellm_checkpoints_total{result} - result is "ok" or "failed"
type Prometheus struct {
	PhasesStarted   prometheus.Counter
	PhasesProcessed prometheus.Counter
	PhaseDuration   prometheus.Histogram
	Messages        *prometheus.CounterVec
	AgentFailures   *prometheus.CounterVec
	Orders          *prometheus.CounterVec
	Checkpoints     *prometheus.CounterVec
}

// NewPrometheus registers the metrics on reg. Each registry can hold one
// Prometheus collector.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		PhasesStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "machiavellm_phases_started_total",
			Help: "Total number of phases started",
		}),
		PhasesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "machiavellm_phases_processed_total",
			Help: "Total number of phases processed by the engine",
		}),
		PhaseDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "machiavellm_phase_duration_seconds",
			Help:    "Wall-clock duration of a phase from board fetch to checkpoint",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "machiavellm_messages_total",
			Help: "Negotiation messages by sender and outcome",
		}, []string{"power", "outcome"}),
		AgentFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "machiavellm_agent_failures_total",
			Help: "Gateway calls that failed and were treated as empty",
		}, []string{"power", "operation"}),
		Orders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "machiavellm_orders_submitted_total",
			Help: "Orders submitted to the engine",
		}, []string{"power"}),
		Checkpoints: f.NewCounterVec(prometheus.CounterOpts{
			Name: "machiavellm_checkpoints_total",
			Help: "Checkpoint saves by result",
		}, []string{"result"}),
	}
}

var _ Collector = (*Prometheus)(nil)

func (m *Prometheus) PhaseStarted(string) {
	m.PhasesStarted.Inc()
}

func (m *Prometheus) MessageDrafted(from game.Power) {
	m.Messages.WithLabelValues(string(from), "sent").Inc()
}

func (m *Prometheus) MessageDropped(from game.Power) {
	m.Messages.WithLabelValues(string(from), "dropped").Inc()
}

func (m *Prometheus) AgentFailure(p game.Power, op Operation) {
	m.AgentFailures.WithLabelValues(string(p), string(op)).Inc()
}

func (m *Prometheus) OrdersSubmitted(p game.Power, n int) {
	m.Orders.WithLabelValues(string(p)).Add(float64(n))
}

func (m *Prometheus) PhaseCompleted(_ string, d time.Duration) {
	m.PhasesProcessed.Inc()
	m.PhaseDuration.Observe(d.Seconds())
}

func (m *Prometheus) CheckpointWritten() {
	m.Checkpoints.WithLabelValues("ok").Inc()
}

func (m *Prometheus) CheckpointFailed() {
	m.Checkpoints.WithLabelValues("failed").Inc()
}
