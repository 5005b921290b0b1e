package export

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"freight-insights/internal/domain"
)

const (
	// DefaultWorkers bounds concurrent renders per process.
	DefaultWorkers = 4
	// DefaultQueueDepth bounds accepted-but-unstarted jobs.
	DefaultQueueDepth = 64
)

// Dispatcher feeds PENDING jobs to a bounded worker pool. Losing the
// PENDING→PROCESSING swap is not an error here: it means another worker or
// a synchronous caller already owns the job.
type Dispatcher struct {
	manager *Manager
	queue   chan string
	workers int
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given manager.
func NewDispatcher(manager *Manager, workers, queueDepth int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		manager: manager,
		queue:   make(chan string, queueDepth),
		workers: workers,
		logger:  logger,
	}
}

// Enqueue hands a job to the pool. It fails fast with a ConflictError when
// the queue is full instead of blocking the caller.
func (d *Dispatcher) Enqueue(jobID string) error {
	select {
	case d.queue <- jobID:
		return nil
	default:
		return domain.ErrConflict("export queue is full")
	}
}

// Run recovers jobs left PENDING by a previous process, then serves the
// queue until ctx is canceled. It blocks; run it in a goroutine.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.recover(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case jobID := <-d.queue:
					d.process(ctx, jobID)
				}
			}
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// recover re-enqueues jobs that were accepted but never processed.
func (d *Dispatcher) recover(ctx context.Context) error {
	pending, err := d.manager.jobs.ListPending(ctx)
	if err != nil {
		return err
	}
	for i := range pending {
		if err := d.Enqueue(pending[i].ID); err != nil {
			d.logger.Warn("pending job not recovered, queue full", "job_id", pending[i].ID)
		}
	}
	if len(pending) > 0 {
		d.logger.Info("recovered pending export jobs", "count", len(pending))
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, jobID string) {
	job, err := d.manager.Process(ctx, jobID)
	if err != nil {
		var aerr *domain.AlreadyProcessingError
		if errors.As(err, &aerr) {
			return
		}
		d.logger.Error("export job processing error", "job_id", jobID, "error", err)
		return
	}
	if job.Status == domain.ExportStatusFailed {
		d.logger.Warn("export job failed", "job_id", jobID, "error", job.Error)
	}
}
