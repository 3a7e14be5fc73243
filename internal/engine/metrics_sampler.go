package engine

import (
	"context"
	"time"

	"rollerd/internal/containerrt"
)

// activeHandleTarget names one active container to be sampled.
type activeHandleTarget struct {
	projectIndex int
	handle       containerrt.Handle
}

// RunMetricsSampler periodically samples resource usage for every active
// container and reports it through Metrics.ObserveContainerStats. The set
// of handles to sample is fetched through the engine's own queue so the
// sampler, like every other caller, never reads Project state off the
// engine goroutine; the actual runtime.Stats calls happen concurrently on
// the calling goroutine since they are pure reads against the adapter, not
// a registry mutation.
func (e *Engine) RunMetricsSampler(ctx context.Context, interval time.Duration) {
	if e.metrics == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sampleOnce(ctx)
		}
	}
}

func (e *Engine) sampleOnce(ctx context.Context) {
	targets, err := e.activeHandles(ctx)
	if err != nil {
		return
	}
	for _, target := range targets {
		sampleCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecTimeout)
		stats, err := e.rt.Stats(sampleCtx, target.handle)
		cancel()
		if err != nil {
			e.logger.Warn("container stats sample failed", "project", target.projectIndex, "handle", target.handle, "error", err)
			continue
		}
		e.metrics.ObserveContainerStats(target.projectIndex, string(target.handle), stats.CPUPercent, stats.MemoryBytes)
	}
}

func (e *Engine) activeHandles(ctx context.Context) ([]activeHandleTarget, error) {
	resp := make(chan []activeHandleTarget, 1)
	e.queue.push(activeHandlesRequestEvent{resp: resp})
	select {
	case targets := <-resp:
		return targets, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
