package metrics

import (
	"context"
	"time"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

const namespace = "debridarr"

// Metrics owns the private registry and every collector the application exports
type Metrics struct {
	registry         *prometheus.Registry
	transitions      *prometheus.CounterVec
	scrapeDuration   prometheus.Histogram
	providerRequests *prometheus.CounterVec
	tickDuration     prometheus.Histogram
}

// New creates the collectors and registers them. Queue sizes are read from db on every scrape.
func New(db *models.Database, logger zerolog.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed item state transitions",
		}, []string{"from", "to"}),
		scrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrape_duration_seconds",
			Help:      "Duration of one indexer fanout",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Debrid provider calls by operation and result",
		}, []string{"provider", "operation", "result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one scheduler tick",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.scrapeDuration,
		m.providerRequests,
		m.tickDuration,
		newQueueCollector(db, logger),
	)
	return m
}

// Registry returns the registry to expose
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTransition has the signature of models.TransitionHook
func (m *Metrics) ObserveTransition(_ *models.MediaItem, from, to models.State, _ string) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) ObserveScrape(d time.Duration) {
	m.scrapeDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveProviderRequest(provider, operation, result string) {
	m.providerRequests.WithLabelValues(provider, operation, result).Inc()
}

func (m *Metrics) ObserveTick(d time.Duration) {
	m.tickDuration.Observe(d.Seconds())
}

// queueCollector reports the number of items per state straight from the store
type queueCollector struct {
	db     *models.Database
	desc   *prometheus.Desc
	logger zerolog.Logger
}

func newQueueCollector(db *models.Database, logger zerolog.Logger) *queueCollector {
	return &queueCollector{
		db: db,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_items"),
			"Number of media items by state",
			[]string{"state"},
			nil,
		),
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := c.db.CountByState(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to count items for metrics")
		return
	}
	for _, state := range models.AllStates {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(counts[state]), string(state))
	}
}
