// Package metrics implements engine.Metrics with Prometheus collectors,
// following the registration-with-collision-recovery pattern used in
// builder/internal/http/metrics.go.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus-backed recorder wired into engine.Engine.
type Metrics struct {
	pullsTotal      *prometheus.CounterVec
	buildsTotal     *prometheus.CounterVec
	rotationsTotal  *prometheus.CounterVec
	activeGauge     *prometheus.GaugeVec
	startingGauge   *prometheus.GaugeVec
	endingGauge     *prometheus.GaugeVec
	containerCPU    *prometheus.GaugeVec
	containerMemory *prometheus.GaugeVec
}

// New registers every collector against the default registry, recovering
// the existing collector on a second call within the same process.
func New() *Metrics {
	m := &Metrics{
		pullsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollerd",
			Name:      "pulls_total",
			Help:      "Count of completed VCS pulls/clones by result.",
		}, []string{"result"}),
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollerd",
			Name:      "builds_total",
			Help:      "Count of completed image builds by result.",
		}, []string{"result"}),
		rotationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollerd",
			Name:      "rotations_total",
			Help:      "Count of completed rotation/fleet-fill cycles by project and result.",
		}, []string{"project", "result"}),
		activeGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rollerd",
			Name:      "active_containers",
			Help:      "Current number of active containers per project.",
		}, []string{"project"}),
		startingGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rollerd",
			Name:      "starting_containers",
			Help:      "Current number of starting containers per project.",
		}, []string{"project"}),
		endingGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rollerd",
			Name:      "ending_containers",
			Help:      "Current number of containers mid-shutdown per project.",
		}, []string{"project"}),
		containerCPU: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rollerd",
			Name:      "container_cpu_percent",
			Help:      "Most recent CPU percent sample per active container.",
		}, []string{"project", "container"}),
		containerMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rollerd",
			Name:      "container_memory_bytes",
			Help:      "Most recent memory usage sample, in bytes, per active container.",
		}, []string{"project", "container"}),
	}

	m.pullsTotal = registerCounterVec(m.pullsTotal)
	m.buildsTotal = registerCounterVec(m.buildsTotal)
	m.rotationsTotal = registerCounterVec(m.rotationsTotal)
	m.activeGauge = registerGaugeVec(m.activeGauge)
	m.startingGauge = registerGaugeVec(m.startingGauge)
	m.endingGauge = registerGaugeVec(m.endingGauge)
	m.containerCPU = registerGaugeVec(m.containerCPU)
	m.containerMemory = registerGaugeVec(m.containerMemory)
	return m
}

// registerCounterVec and registerGaugeVec register against the default
// registry, falling back to whatever is already registered under the
// same name so a second Metrics in the same process keeps
// working rather than silently writing to an orphaned collector.
func registerCounterVec(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func registerGaugeVec(g *prometheus.GaugeVec) *prometheus.GaugeVec {
	if err := prometheus.Register(g); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
	}
	return g
}

// ObservePull implements engine.Metrics.
func (m *Metrics) ObservePull(result string) {
	m.pullsTotal.WithLabelValues(result).Inc()
}

// ObserveBuild implements engine.Metrics.
func (m *Metrics) ObserveBuild(result string) {
	m.buildsTotal.WithLabelValues(result).Inc()
}

// ObserveRotation implements engine.Metrics.
func (m *Metrics) ObserveRotation(projectIndex int, result string) {
	m.rotationsTotal.WithLabelValues(strconv.Itoa(projectIndex), result).Inc()
}

// SetFleet implements engine.Metrics.
func (m *Metrics) SetFleet(projectIndex int, active, starting, ending int) {
	label := strconv.Itoa(projectIndex)
	m.activeGauge.WithLabelValues(label).Set(float64(active))
	m.startingGauge.WithLabelValues(label).Set(float64(starting))
	m.endingGauge.WithLabelValues(label).Set(float64(ending))
}

// ObserveContainerStats implements engine.Metrics.
func (m *Metrics) ObserveContainerStats(projectIndex int, handle string, cpuPercent float64, memoryBytes uint64) {
	label := strconv.Itoa(projectIndex)
	m.containerCPU.WithLabelValues(label, handle).Set(cpuPercent)
	m.containerMemory.WithLabelValues(label, handle).Set(float64(memoryBytes))
}

// ForgetContainer implements engine.Metrics, dropping a retired
// container's sample series so cardinality does not grow without bound
// as containers are rotated.
func (m *Metrics) ForgetContainer(projectIndex int, handle string) {
	label := strconv.Itoa(projectIndex)
	m.containerCPU.DeleteLabelValues(label, handle)
	m.containerMemory.DeleteLabelValues(label, handle)
}
