// Package worker runs the report consume loop and the maintenance sweep.
package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Worker runs a Processor and a Sweeper side by side.
type Worker struct {
	processor *Processor
	sweeper   *Sweeper
	logger    *slog.Logger
}

func New(processor *Processor, sweeper *Sweeper, logger *slog.Logger) *Worker {
	return &Worker{processor: processor, sweeper: sweeper, logger: logger}
}

// Run blocks until ctx is cancelled. The in-flight message is drained first and
// only then is the sweep stopped.
func (w *Worker) Run(ctx context.Context) {
	sweepCtx, stopSweep := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSweep()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.sweeper.Start(sweepCtx)
	}()

	w.logger.InfoContext(ctx, "report worker started")
	w.processor.Start(ctx)
	w.logger.Info("report worker draining")

	stopSweep()
	wg.Wait()
	w.logger.Info("report worker stopped")
}
