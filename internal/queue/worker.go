package queue

import (
	"context"
	"log"
	"time"
)

// Handler runs one extraction job.
type Handler func(ctx context.Context, projectID string) error

// Worker polls the queue for due jobs and runs them sequentially. Jobs are
// not retried automatically: a failed extraction is recorded in the error
// log and the next webhook schedules a fresh run.
type Worker struct {
	queue   *Queue
	handler Handler
	poll    time.Duration
	logger  *log.Logger
}

func NewWorker(queue *Queue, handler Handler) *Worker {
	return &Worker{
		queue:   queue,
		handler: handler,
		poll:    time.Second,
	}
}

// WithLogger overrides the worker's logger, mainly for tests.
func (w *Worker) WithLogger(logger *log.Logger) *Worker {
	w.logger = logger
	return w
}

func (w *Worker) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Run polls until the context ends.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain claims and runs every currently-due job.
func (w *Worker) drain(ctx context.Context) {
	for {
		claimed, err := w.queue.claimDue(ctx, 10)
		if err != nil {
			w.logf("queue: claim due jobs: %v", err)
			return
		}
		if len(claimed) == 0 {
			return
		}
		for _, projectID := range claimed {
			started := time.Now()
			if err := w.handler(ctx, projectID); err != nil {
				w.logf("queue: extraction for project %s failed after %s: %v", projectID, time.Since(started).Round(time.Millisecond), err)
				continue
			}
			w.logf("queue: extraction for project %s finished in %s", projectID, time.Since(started).Round(time.Millisecond))
		}
	}
}
