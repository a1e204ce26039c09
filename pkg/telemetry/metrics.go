package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus instrumentation for the runner, namespaced
// "warpcoder_". Workers and the scheduler call its methods; nothing else
// in the core talks to prometheus directly.
type Metrics struct {
	inFlightActs   prometheus.Gauge
	queueDepth     prometheus.Gauge
	actLatency     *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	deployBatch    prometheus.Histogram
	pollLatency    prometheus.Histogram
}

// NewMetrics registers warpcoder metrics against reg (use
// prometheus.DefaultRegisterer for the global registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		inFlightActs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warpcoder_inflight_acts",
			Help: "Number of acts currently executing.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warpcoder_queue_depth",
			Help: "Number of actionable runs waiting for a free worker.",
		}),
		actLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warpcoder_act_latency_seconds",
			Help:    "Act execution duration.",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900, 3600},
		}, []string{"act", "result"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warpcoder_retries_total",
			Help: "Retry results (max_turns, max_retries) observed.",
		}, []string{"act", "reason"}),
		deployBatch: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "warpcoder_deploy_batch_size",
			Help:    "Number of issues in a deploy batch.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		pollLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "warpcoder_poll_tick_seconds",
			Help:    "Wall-clock duration of one discovery+dispatch poll tick.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ActStarted()   { m.inFlightActs.Inc() }
func (m *Metrics) ActFinished()  { m.inFlightActs.Dec() }
func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

func (m *Metrics) ObserveAct(act, result string, seconds float64) {
	m.actLatency.WithLabelValues(act, result).Observe(seconds)
}

func (m *Metrics) ObserveRetry(act, reason string) {
	m.retries.WithLabelValues(act, reason).Inc()
}

func (m *Metrics) ObserveDeployBatch(size int) {
	m.deployBatch.Observe(float64(size))
}

func (m *Metrics) ObservePollTick(seconds float64) {
	m.pollLatency.Observe(seconds)
}
