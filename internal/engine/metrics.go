package engine

// Metrics receives engine-level observations. internal/metrics.Metrics
// implements it; Engine.metrics may be nil, in which case every call
// site below guards with a nil check.
type Metrics interface {
	ObservePull(result string)
	ObserveBuild(result string)
	ObserveRotation(projectIndex int, result string)
	SetFleet(projectIndex int, active, starting, ending int)

	// ObserveContainerStats records a point-in-time resource sample for
	// one active container, taken by the periodic sampler.
	ObserveContainerStats(projectIndex int, handle string, cpuPercent float64, memoryBytes uint64)

	// ForgetContainer drops a retired container's sample series.
	ForgetContainer(projectIndex int, handle string)
}
