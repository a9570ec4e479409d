package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hotlib"

// Registry owns every hotlib collector. Each Registry has its own prometheus
// registry so tests and multiple engines do not collide.
type Registry struct {
	registry *prometheus.Registry

	buildsTotal          *prometheus.CounterVec
	buildDuration        *prometheus.HistogramVec
	buildsRunning        *prometheus.GaugeVec
	generationsInstalled *prometheus.CounterVec
	generationsUnloaded  *prometheus.CounterVec
	generationRefs       *prometheus.GaugeVec
	changeSignals        *prometheus.CounterVec
	watchEvents          prometheus.Counter
	watchErrors          prometheus.Counter
	eventPublished       *prometheus.CounterVec
	eventDropped         *prometheus.CounterVec
	eventSubscribers     *prometheus.GaugeVec
}

var Default = NewRegistry()

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Build attempts by terminal status",
		}, []string{"package", "status"}),
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time of build tool invocations",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"package"}),
		buildsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "builds_running",
			Help:      "Builds currently running",
		}, []string{"package"}),
		generationsInstalled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_installed_total",
			Help:      "Generations that became current",
		}, []string{"package"}),
		generationsUnloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_unloaded_total",
			Help:      "Retired generations whose library was released",
		}, []string{"package"}),
		generationRefs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation_refs",
			Help:      "Outstanding generation references",
		}, []string{"package"}),
		changeSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_signals_total",
			Help:      "Debounced change signals emitted",
		}, []string{"package"}),
		watchEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_total",
			Help:      "Raw filesystem events accepted by the watcher",
		}),
		watchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_errors_total",
			Help:      "Errors reported by the filesystem watcher",
		}),
		eventPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_published_total",
			Help:      "Events published on in-process buses",
		}, []string{"bus", "type"}),
		eventDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_dropped_total",
			Help:      "Events dropped because a subscriber was full",
		}, []string{"bus", "type"}),
		eventSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Active bus subscribers",
		}, []string{"bus", "kind"}),
	}
	r.registry.MustRegister(
		r.buildsTotal,
		r.buildDuration,
		r.buildsRunning,
		r.generationsInstalled,
		r.generationsUnloaded,
		r.generationRefs,
		r.changeSignals,
		r.watchEvents,
		r.watchErrors,
		r.eventPublished,
		r.eventDropped,
		r.eventSubscribers,
	)
	return r
}

// WithProcessCollectors adds the Go runtime and process collectors. Only the
// CLI does this; library users usually have their own.
func (r *Registry) WithProcessCollectors() *Registry {
	if r == nil {
		return r
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

func (r *Registry) ObserveBuild(pkg, status string, duration time.Duration) {
	if r == nil {
		return
	}
	pkg = label(pkg)
	r.buildsTotal.WithLabelValues(pkg, label(status)).Inc()
	if duration > 0 {
		r.buildDuration.WithLabelValues(pkg).Observe(duration.Seconds())
	}
}

func (r *Registry) AddBuildsRunning(pkg string, delta float64) {
	if r == nil {
		return
	}
	r.buildsRunning.WithLabelValues(label(pkg)).Add(delta)
}

func (r *Registry) IncGenerationInstalled(pkg string) {
	if r == nil {
		return
	}
	r.generationsInstalled.WithLabelValues(label(pkg)).Inc()
}

func (r *Registry) IncGenerationUnloaded(pkg string) {
	if r == nil {
		return
	}
	r.generationsUnloaded.WithLabelValues(label(pkg)).Inc()
}

func (r *Registry) AddGenerationRefs(pkg string, delta float64) {
	if r == nil {
		return
	}
	r.generationRefs.WithLabelValues(label(pkg)).Add(delta)
}

func (r *Registry) IncChangeSignal(pkg string) {
	if r == nil {
		return
	}
	r.changeSignals.WithLabelValues(label(pkg)).Inc()
}

func (r *Registry) IncWatchEvent() {
	if r == nil {
		return
	}
	r.watchEvents.Inc()
}

func (r *Registry) IncWatchError() {
	if r == nil {
		return
	}
	r.watchErrors.Inc()
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventPublished.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventDropped.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	bus = label(bus)
	r.eventSubscribers.WithLabelValues(bus, "filtered").Set(float64(filtered))
	r.eventSubscribers.WithLabelValues(bus, "unfiltered").Set(float64(unfiltered))
}

func label(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}
