package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/unireg-api/pkg/config"
	"github.com/noah-isme/unireg-api/pkg/jobs"
)

const jobTypeRecount = "recount_enrolled"

type enrolledRecounter interface {
	RecountEnrolled(ctx context.Context, courseID int64) (int, error)
}

// Reconciler replays failed enrolled recalculations in the background so a
// detected inconsistency heals without manual intervention.
type Reconciler struct {
	repo    enrolledRecounter
	metrics *MetricsService
	queue   *jobs.Queue
	logger  *zap.Logger
}

// NewReconciler builds a reconciler backed by an in-memory retry queue.
func NewReconciler(repo enrolledRecounter, metrics *MetricsService, cfg config.ReconcileConfig, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{repo: repo, metrics: metrics, logger: logger}
	r.queue = jobs.NewQueue("reconcile", r.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return r
}

// Start launches the queue workers.
func (r *Reconciler) Start(ctx context.Context) {
	r.queue.Start(ctx)
}

// Stop drains the workers.
func (r *Reconciler) Stop() {
	r.queue.Stop()
}

// EnqueueRecount schedules a recount for the course. Enqueue failures are
// logged, not propagated: the caller has already surfaced the inconsistency.
func (r *Reconciler) EnqueueRecount(courseID int64) {
	r.metrics.RecordRecountFailure()
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobTypeRecount,
		Payload: courseID,
	}
	if err := r.queue.Enqueue(job); err != nil {
		r.logger.Error("failed to schedule recount",
			zap.Int64("course_id", courseID),
			zap.Error(err),
		)
	}
}

func (r *Reconciler) handle(ctx context.Context, job jobs.Job) error {
	courseID, ok := job.Payload.(int64)
	if !ok {
		r.logger.Error("unexpected reconcile payload", zap.String("job_id", job.ID))
		return nil
	}
	enrolled, err := r.repo.RecountEnrolled(ctx, courseID)
	if err != nil {
		return err
	}
	r.logger.Info("enrolled count reconciled",
		zap.Int64("course_id", courseID),
		zap.Int("enrolled", enrolled),
	)
	return nil
}
