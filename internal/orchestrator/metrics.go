package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShayCichocki/crew/pkg/models"
)

// Metrics exposes Prometheus collectors that report orchestrator activity.
type Metrics struct {
	tokens        *prometheus.CounterVec
	cost          prometheus.Counter
	agents        *prometheus.CounterVec
	sessions      *prometheus.CounterVec
	agentDuration *prometheus.HistogramVec
	agentsRunning prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with the
// global Prometheus registry. The collectors are created only once so that
// several orchestrators in one process share them.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors that are already registered are reused; any other registration
// error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	tokens := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crew",
			Subsystem: "orchestrator",
			Name:      "tokens_total",
			Help:      "Tokens reported by capability calls, by direction.",
		},
		[]string{"direction"},
	)
	cost := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crew",
			Subsystem: "orchestrator",
			Name:      "cost_usd_total",
			Help:      "Cost in USD reported by capability calls.",
		},
	)
	agents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crew",
			Subsystem: "orchestrator",
			Name:      "agents_total",
			Help:      "Sub-agents that reached a terminal state, by status.",
		},
		[]string{"status"},
	)
	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crew",
			Subsystem: "orchestrator",
			Name:      "sessions_total",
			Help:      "Orchestration sessions that reached a terminal state, by status.",
		},
		[]string{"status"},
	)
	agentDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crew",
			Subsystem: "orchestrator",
			Name:      "agent_duration_seconds",
			Help:      "Duration of sub-agent executions, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"outcome"},
	)
	agentsRunning := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crew",
			Subsystem: "orchestrator",
			Name:      "agents_running",
			Help:      "Sub-agents currently counted as running.",
		},
	)

	collectors := []prometheus.Collector{tokens, cost, agents, sessions, agentDuration, agentsRunning}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.CounterVec:
					switch target {
					case tokens:
						tokens = already.ExistingCollector.(*prometheus.CounterVec)
					case agents:
						agents = already.ExistingCollector.(*prometheus.CounterVec)
					case sessions:
						sessions = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case *prometheus.HistogramVec:
					agentDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case prometheus.Gauge:
					if target == agentsRunning {
						agentsRunning = already.ExistingCollector.(prometheus.Gauge)
					}
				case prometheus.Counter:
					cost = already.ExistingCollector.(prometheus.Counter)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		tokens:        tokens,
		cost:          cost,
		agents:        agents,
		sessions:      sessions,
		agentDuration: agentDuration,
		agentsRunning: agentsRunning,
	}
}

// AddUsage records usage reported by a capability call.
func (m *Metrics) AddUsage(u models.Usage) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("input").Add(float64(u.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(u.OutputTokens))
	m.cost.Add(u.CostUSD)
}

// ObserveAgent records an agent reaching a terminal state.
func (m *Metrics) ObserveAgent(status models.AgentStatus) {
	if m == nil {
		return
	}
	m.agents.WithLabelValues(string(status)).Inc()
}

// ObserveDuration records how long one execution attempt took.
func (m *Metrics) ObserveDuration(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.agentDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveSession records a session reaching a terminal state.
func (m *Metrics) ObserveSession(status models.SessionStatus) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(string(status)).Inc()
}

// IncRunning marks an agent as running.
func (m *Metrics) IncRunning() {
	if m == nil {
		return
	}
	m.agentsRunning.Inc()
}

// DecRunning marks an agent as no longer running.
func (m *Metrics) DecRunning() {
	if m == nil {
		return
	}
	m.agentsRunning.Dec()
}
