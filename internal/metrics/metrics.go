package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every series the relister exports.
// A nil *Collector is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	// Scan cycle metrics
	cyclesTotal   *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	itemsSeen     prometheus.Counter
	unitsTotal    *prometheus.CounterVec
	unitsAbandon  prometheus.Counter
	tradeDuration *prometheus.HistogramVec

	// Proxy health metrics
	probesTotal       *prometheus.CounterVec
	probeDuration     prometheus.Histogram
	liveProxies       prometheus.Gauge
	blacklisted       prometheus.Gauge
	candidatesFetched *prometheus.CounterVec

	// API metrics
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

// NewCollector registers the series on reg, or on the default registry when reg is nil
func NewCollector(namespace string, reg *prometheus.Registry) *Collector {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	f := promauto.With(registerer)

	return &Collector{
		gatherer: gatherer,
		cyclesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_cycles_total",
				Help:      "Total number of scan cycles by result",
			},
			[]string{"result"},
		),
		cycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_cycle_duration_seconds",
				Help:      "Scan cycle duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		itemsSeen: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_seen_total",
				Help:      "Total number of active listings fetched",
			},
		),
		unitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verification_units_total",
				Help:      "Per-item verification units by outcome",
			},
			[]string{"outcome"},
		),
		unitsAbandon: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verification_units_abandoned_total",
				Help:      "Units the cycle stopped waiting for at their deadline",
			},
		),
		tradeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trade_request_duration_seconds",
				Help:      "Buy and sell request latency in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"op"},
		),
		probesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_probes_total",
				Help:      "Total number of proxy probes by result",
			},
			[]string{"result"},
		),
		probeDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "proxy_probe_duration_seconds",
				Help:      "Successful proxy probe duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2, 3, 5, 10},
			},
		),
		liveProxies: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_proxies",
				Help:      "Current number of proxies in the live pool",
			},
		),
		blacklisted: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blacklisted_proxies",
				Help:      "Current number of blacklisted proxy hosts",
			},
		),
		candidatesFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_candidates_fetched_total",
				Help:      "Total number of candidate proxies downloaded",
			},
			[]string{"source"},
		),
		apiRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

// Handler serves the registry this collector was built on
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) RecordCycle(result string, seconds float64) {
	if c == nil {
		return
	}
	c.cyclesTotal.WithLabelValues(result).Inc()
	c.cycleDuration.Observe(seconds)
}

func (c *Collector) RecordItemsSeen(n int) {
	if c == nil {
		return
	}
	c.itemsSeen.Add(float64(n))
}

func (c *Collector) RecordUnit(outcome string) {
	if c == nil {
		return
	}
	c.unitsTotal.WithLabelValues(outcome).Inc()
}

// RecordUnitAbandoned counts a unit left running past its deadline. Its final
// outcome is still recorded by RecordUnit once it returns.
func (c *Collector) RecordUnitAbandoned() {
	if c == nil {
		return
	}
	c.unitsAbandon.Inc()
}

func (c *Collector) RecordTradeDuration(op string, seconds float64) {
	if c == nil {
		return
	}
	c.tradeDuration.WithLabelValues(op).Observe(seconds)
}

func (c *Collector) RecordProbeSuccess(seconds float64) {
	if c == nil {
		return
	}
	c.probesTotal.WithLabelValues("success").Inc()
	c.probeDuration.Observe(seconds)
}

func (c *Collector) RecordProbeFailure() {
	if c == nil {
		return
	}
	c.probesTotal.WithLabelValues("failure").Inc()
}

func (c *Collector) SetLiveProxies(count int) {
	if c == nil {
		return
	}
	c.liveProxies.Set(float64(count))
}

func (c *Collector) SetBlacklisted(count int) {
	if c == nil {
		return
	}
	c.blacklisted.Set(float64(count))
}

func (c *Collector) RecordCandidatesFetched(source string, count int) {
	if c == nil {
		return
	}
	c.candidatesFetched.WithLabelValues(source).Add(float64(count))
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	if c == nil {
		return
	}
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	if c == nil {
		return
	}
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
