package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// runner drives a task on a fixed interval between Start and Stop
type runner struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context)
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newRunner(name string, interval time.Duration, task func(ctx context.Context), logger *slog.Logger) *runner {
	return &runner{name: name, interval: interval, task: task, logger: logger}
}

// Start begins the background loop
func (r *runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	r.logger.Info(r.name+" worker started", "interval", r.interval)

	go r.run(ctx, r.stopCh, r.doneCh)
	return nil
}

// Stop stops the background loop and waits for the running task
func (r *runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.running = false
	r.mu.Unlock()

	close(stopCh)
	<-doneCh

	r.logger.Info(r.name + " worker stopped")
	return nil
}

// IsRunning returns whether the worker is currently running
func (r *runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *runner) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			r.task(ctx)
		}
	}
}
