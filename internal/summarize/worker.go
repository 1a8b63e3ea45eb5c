package summarize

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/litlabs-admin/daddyjohn/internal/memory"
	"github.com/litlabs-admin/daddyjohn/internal/observability"
)

// Runner is the unit of work executed by the Worker.
type Runner interface {
	Summarize(ctx context.Context, userID string, history []memory.Turn) error
}

// Worker runs summarization jobs in the background. Jobs never report back
// to the caller: failures and panics are logged and counted here.
type Worker struct {
	runner  Runner
	sem     *semaphore.Weighted
	flights singleflight.Group
	logger  *zap.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewWorker(runner Runner, maxConcurrent int, logger *zap.Logger, metrics *observability.Metrics) *Worker {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		runner:  runner,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Dispatch schedules a summary of history for userID and returns at once.
// It reports false when the job was dropped because the worker is saturated
// or closed. Concurrent jobs for the same user share one upstream call.
func (w *Worker) Dispatch(userID string, history []memory.Turn) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.observe("closed")
		return false
	}
	if !w.sem.TryAcquire(1) {
		w.mu.Unlock()
		w.logger.Warn("summarization queue saturated, dropping job", zap.String("user_id", userID))
		w.observe("dropped")
		return false
	}
	w.wg.Add(1)
	w.mu.Unlock()

	snapshot := make([]memory.Turn, len(history))
	copy(snapshot, history)

	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("summarization panicked", zap.String("user_id", userID), zap.String("panic", fmt.Sprint(r)))
				w.observe("panic")
			}
		}()

		// Do reports shared to the leader too, so only the caller that ran
		// the job counts it.
		var led bool
		_, err, _ := w.flights.Do(userID, func() (any, error) {
			led = true
			return nil, w.runner.Summarize(w.ctx, userID, snapshot)
		})
		switch {
		case !led:
			w.observe("shared")
		case err != nil:
			w.logger.Error("summarization failed", zap.String("user_id", userID), zap.Error(err))
			w.observe("failed")
		default:
			w.observe("stored")
		}
	}()
	return true
}

// Close stops accepting jobs and waits for in-flight ones. If ctx ends
// first, running jobs are cancelled.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}

func (w *Worker) observe(outcome string) {
	if w.metrics == nil {
		return
	}
	w.metrics.SummaryJobs.WithLabelValues(outcome).Inc()
}
