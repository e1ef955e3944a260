package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the process-local prometheus registry. A nil Collector is
// a no-op so tests can wire the pipeline without metrics.
type Collector struct {
	registry *prometheus.Registry

	eventsIngested   *prometheus.CounterVec
	eventsRejected   prometheus.Counter
	incidentsCreated prometheus.Counter
	validationFailed prometheus.Counter
	decisions        *prometheus.CounterVec
	streamSubs       prometheus.Gauge
	llmTimeouts      prometheus.Counter
	simEvents        prometheus.Counter
}

// New builds and registers all collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg}

	c.eventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alibi_events_ingested_total",
		Help: "Camera events accepted by the ingestion pipeline",
	}, []string{"event_type"})
	c.eventsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alibi_events_rejected_total",
		Help: "Camera events rejected at validation",
	})
	c.incidentsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alibi_incidents_created_total",
		Help: "New incidents opened by the grouper",
	})
	c.validationFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alibi_plan_validation_failed_total",
		Help: "Engine runs whose plan or alert failed hard-rule validation",
	})
	c.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alibi_decisions_total",
		Help: "Operator decisions recorded",
	}, []string{"action"})
	c.streamSubs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alibi_stream_subscribers",
		Help: "Connected push-stream subscribers",
	})
	c.llmTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alibi_llm_timeouts_total",
		Help: "Alert rewrites abandoned on timeout or error",
	})
	c.simEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alibi_simulator_events_total",
		Help: "Events generated by the simulator",
	})

	reg.MustRegister(c.eventsIngested, c.eventsRejected, c.incidentsCreated,
		c.validationFailed, c.decisions, c.streamSubs, c.llmTimeouts, c.simEvents)
	return c
}

// Handler exposes the registry for /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) EventIngested(eventType string) {
	if c != nil {
		c.eventsIngested.WithLabelValues(eventType).Inc()
	}
}

func (c *Collector) EventRejected() {
	if c != nil {
		c.eventsRejected.Inc()
	}
}

func (c *Collector) IncidentCreated() {
	if c != nil {
		c.incidentsCreated.Inc()
	}
}

func (c *Collector) ValidationFailed() {
	if c != nil {
		c.validationFailed.Inc()
	}
}

func (c *Collector) DecisionRecorded(action string) {
	if c != nil {
		c.decisions.WithLabelValues(action).Inc()
	}
}

func (c *Collector) StreamSubscribers(n int) {
	if c != nil {
		c.streamSubs.Set(float64(n))
	}
}

func (c *Collector) LLMTimeout() {
	if c != nil {
		c.llmTimeouts.Inc()
	}
}

func (c *Collector) SimulatorEvent() {
	if c != nil {
		c.simEvents.Inc()
	}
}
