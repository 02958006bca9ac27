package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/genui-chat/offline-worker/internal/fetch"
)

// Metrics 汇总 worker 的 Prometheus 指标。Registerer 为 nil 时指标照常计数但不对外注册。
type Metrics struct {
	requests      *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	revalidations *prometheus.CounterVec
	installs      *prometheus.CounterVec
	activations   *prometheus.CounterVec
	messages      *prometheus.CounterVec
	syncs         *prometheus.CounterVec
	cachesDeleted prometheus.Counter
}

// NewMetrics registers the worker metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_worker_requests_total",
			Help: "Intercepted requests by routing strategy and response source",
		}, []string{"strategy", "source"}),
		fetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_worker_fetch_errors_total",
			Help: "Intercepted requests that ended in an error, by strategy",
		}, []string{"strategy"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "offline_worker_request_duration_seconds",
			Help:    "Time spent producing a response for intercepted requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		revalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_worker_revalidations_total",
			Help: "Background revalidations by result",
		}, []string{"result"}),
		installs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_worker_installs_total",
			Help: "Worker installs by result",
		}, []string{"result"}),
		activations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_worker_activations_total",
			Help: "Worker activations by result",
		}, []string{"result"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_worker_messages_total",
			Help: "Control messages by type",
		}, []string{"type"}),
		syncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_worker_syncs_total",
			Help: "Sync triggers by tag and whether they were acknowledged",
		}, []string{"tag", "acknowledged"}),
		cachesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "offline_worker_caches_deleted_total",
			Help: "Stale caches removed during activation",
		}),
	}
}

func (m *Metrics) observeFetch(strategy Strategy, resp *fetch.Response, err error, elapsed time.Duration) {
	if strategy == StrategyPassthrough {
		m.requests.WithLabelValues(string(strategy), "").Inc()
		return
	}
	m.latency.WithLabelValues(string(strategy)).Observe(elapsed.Seconds())
	if err != nil {
		m.fetchErrors.WithLabelValues(string(strategy)).Inc()
		return
	}
	if resp != nil {
		m.requests.WithLabelValues(string(strategy), string(resp.Source)).Inc()
	}
}

func (m *Metrics) observeRevalidation(result string) {
	m.revalidations.WithLabelValues(result).Inc()
}

func (m *Metrics) observeInstall(ok bool) {
	m.installs.WithLabelValues(resultLabel(ok)).Inc()
}

func (m *Metrics) observeActivation(ok bool) {
	m.activations.WithLabelValues(resultLabel(ok)).Inc()
}

func (m *Metrics) observeMessage(kind string) {
	m.messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeSync(tag string, acknowledged bool) {
	ack := "false"
	if acknowledged {
		ack = "true"
	}
	m.syncs.WithLabelValues(tag, ack).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
