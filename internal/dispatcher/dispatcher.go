// Package dispatcher fans a scrape run out over a pool of workers.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/rivalwatch/internal/metrics"
	"github.com/JakeFAU/rivalwatch/internal/monitor"
	"github.com/JakeFAU/rivalwatch/internal/queue/memory"
	"github.com/JakeFAU/rivalwatch/internal/worker"
)

// Processor runs the pipeline for one task.
type Processor interface {
	Run(ctx context.Context, queue monitor.Queue, report func(monitor.Outcome))
}

// Dispatcher runs each scrape over a fresh bounded queue drained by its workers.
type Dispatcher struct {
	workers []Processor
	ids     monitor.IDGenerator
	clock   monitor.Clock
	logger  *zap.Logger
}

// New creates a Dispatcher over the given workers.
func New(workers []*worker.Worker, ids monitor.IDGenerator, clock monitor.Clock, logger *zap.Logger) *Dispatcher {
	procs := make([]Processor, 0, len(workers))
	for _, w := range workers {
		procs = append(procs, w)
	}
	return newDispatcher(procs, ids, clock, logger)
}

func newDispatcher(procs []Processor, ids monitor.IDGenerator, clock monitor.Clock, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: procs, ids: ids, clock: clock, logger: logger}
}

// Run processes every unique target once and blocks until all tasks finish or ctx ends.
// Per-page failures are counted in the result, never returned.
func (d *Dispatcher) Run(ctx context.Context, targets []monitor.PageTarget) monitor.RunResult {
	runID := d.newRunID()
	logger := d.logger.With(zap.String("run_id", runID))
	unique := Dedupe(targets)
	res := monitor.RunResult{RunID: runID, Targets: len(unique), Started: d.clock.Now()}
	if dropped := len(targets) - len(unique); dropped > 0 {
		logger.Info("collapsed duplicate targets", zap.Int("dropped", dropped))
	}

	if len(unique) == 0 || len(d.workers) == 0 {
		if len(unique) > 0 {
			logger.Error("no workers configured; run skipped", zap.Int("targets", len(unique)))
			res.Failed = len(unique)
		}
		res.Finished = d.clock.Now()
		metrics.ObserveRun(runStatus(res))
		return res
	}

	queue := memory.NewQueue(len(unique))
	enqueued := 0
	for _, target := range unique {
		task := monitor.Task{RunID: runID, Target: target, Submitted: res.Started}
		if err := queue.Enqueue(ctx, task); err != nil {
			logger.Warn("enqueue task failed", zap.String("url", target.URL), zap.Error(err))
			res.Failed++
			continue
		}
		enqueued++
	}
	queue.Close()

	var (
		mu        sync.Mutex
		processed int
		wg        sync.WaitGroup
	)
	report := func(out monitor.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		processed++
		switch {
		case out.Err != nil:
			res.Failed++
		case out.Changed:
			res.Succeeded++
			res.Changes++
		default:
			res.Succeeded++
		}
	}
	for _, w := range d.workers {
		wg.Add(1)
		go func(p Processor) {
			defer wg.Done()
			p.Run(ctx, queue, report)
		}(w)
	}
	wg.Wait()

	// Tasks left in the queue when ctx ended never ran.
	if skipped := enqueued - processed; skipped > 0 {
		res.Failed += skipped
	}
	res.Finished = d.clock.Now()
	metrics.ObserveRun(runStatus(res))
	logger.Info("scrape run finished",
		zap.Int("targets", res.Targets),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("changes", res.Changes),
		zap.Duration("elapsed", res.Finished.Sub(res.Started)),
	)
	return res
}

func (d *Dispatcher) newRunID() string {
	if d.ids == nil {
		return ""
	}
	id, err := d.ids.NewID()
	if err != nil {
		d.logger.Warn("generate run id failed", zap.Error(err))
		return ""
	}
	return id
}

// Dedupe drops repeated (competitor, url) targets, keeping the first occurrence.
func Dedupe(targets []monitor.PageTarget) []monitor.PageTarget {
	seen := make(map[string]struct{}, len(targets))
	out := make([]monitor.PageTarget, 0, len(targets))
	for _, t := range targets {
		if _, ok := seen[t.Key()]; ok {
			continue
		}
		seen[t.Key()] = struct{}{}
		out = append(out, t)
	}
	return out
}

func runStatus(res monitor.RunResult) string {
	switch {
	case res.Failed == 0:
		return "success"
	case res.Succeeded == 0:
		return "failed"
	default:
		return "partial"
	}
}
