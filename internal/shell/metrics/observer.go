// Package metrics exposes deployment lifecycle activity as Prometheus
// collectors, fed entirely by bus subscription.
package metrics

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/shell/bus"
)

// =============================================================================
// Observer
// =============================================================================

// Observer consumes the bus firehose and keeps deployment metrics current.
// It observes only; losing it never affects the lifecycle.
type Observer struct {
	bus    *bus.Bus
	logger *slog.Logger

	created     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	logLines    *prometheus.CounterVec
	running     prometheus.Gauge

	mu      sync.Mutex
	started bool
	cancel  bus.CancelFunc
	done    chan struct{}
}

// NewObserver creates an observer and registers its collectors. Collectors
// already registered by an earlier observer are reused.
func NewObserver(b *bus.Bus, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Observer{
		bus:    b,
		logger: logger.With("component", "metrics"),
	}

	o.created = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "berth",
		Subsystem: "deployments",
		Name:      "created_total",
		Help:      "Count of deployment records created",
	}, []string{"project"})

	o.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "berth",
		Subsystem: "deployments",
		Name:      "status_transitions_total",
		Help:      "Count of status transitions by resulting status",
	}, []string{"to"})

	o.logLines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "berth",
		Subsystem: "deployments",
		Name:      "log_lines_total",
		Help:      "Count of log lines published, by origin stream",
	}, []string{"origin"})

	o.running = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "berth",
		Subsystem: "deployments",
		Name:      "running",
		Help:      "Deployments currently in the running status",
	})

	collectors := []prometheus.Collector{o.created, o.transitions, o.logLines, o.running}
	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch v := are.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					if collector == o.created {
						o.created = v
					} else if collector == o.transitions {
						o.transitions = v
					} else if collector == o.logLines {
						o.logLines = v
					}
				case prometheus.Gauge:
					o.running = v
				}
			}
		}
	}

	return o
}

// Start subscribes to the bus and begins observing.
func (o *Observer) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return
	}
	o.started = true

	events, cancel := o.bus.SubscribeAll()
	o.cancel = cancel
	o.done = make(chan struct{})

	go func() {
		defer close(o.done)
		for event := range events {
			o.observe(event)
		}
	}()

	o.logger.Info("Metrics observer started")
}

// Stop unsubscribes and waits for the observe loop to drain.
func (o *Observer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.started {
		return
	}
	o.started = false

	o.cancel()
	<-o.done

	o.logger.Info("Metrics observer stopped")
}

func (o *Observer) observe(event bus.Event) {
	switch e := event.(type) {
	case bus.DeploymentCreated:
		o.created.With(prometheus.Labels{"project": e.Record.ProjectID}).Inc()

	case bus.StatusChanged:
		if e.To == domain.StatusRunning {
			o.running.Inc()
		}
		if e.From == domain.StatusRunning && e.To != domain.StatusRunning {
			o.running.Dec()
		}
		o.transitions.With(prometheus.Labels{"to": string(e.To)}).Inc()

	case bus.LogLine:
		o.logLines.With(prometheus.Labels{"origin": string(e.Entry.Origin)}).Inc()
	}
}
