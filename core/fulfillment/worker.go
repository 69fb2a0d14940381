package fulfillment

import (
	"context"
	"sync"
	"time"

	"mirlo/cache"
	"mirlo/core/archive"
	"mirlo/logger"
	"mirlo/model"
	"mirlo/queue"
)

// JobSource is the consumer side of the build-job queue.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.BuildJob, error)
	Ack(ctx context.Context, jobID string) error
	CollectStalled(ctx context.Context, visibility time.Duration) ([]*queue.BuildJob, error)
}

// Worker consumes build jobs and drives the archive builder. Each worker
// goroutine processes one job at a time, and within a job items are fetched
// sequentially, bounding memory and connection use and preserving ordinal
// order in the archive.
type Worker struct {
	jobs    JobSource
	builder *archive.Builder
	status  StatusStore
	events  *Events

	concurrency  int
	stallTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a Worker. Event listeners can be registered on
// Events() before Start.
func NewWorker(jobs JobSource, builder *archive.Builder, status StatusStore, concurrency int, stallTimeout time.Duration) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	w := &Worker{
		jobs:         jobs,
		builder:      builder,
		status:       status,
		events:       &Events{},
		concurrency:  concurrency,
		stallTimeout: stallTimeout,
	}

	// Default listeners keep the build-status cache in step with job
	// outcomes so pollers see what happened.
	w.events.OnCompleted(func(r Result) {
		ctx := context.Background()
		target := model.Target{Kind: r.TargetKind, ID: r.TargetID}
		if err := status.SetTargetState(ctx, target, r.Format, cache.BuildCompleted); err != nil {
			logger.Warn("failed to record completed state", logger.ErrorField(err))
		}
		if err := status.SetJobState(ctx, r.JobID, cache.BuildCompleted); err != nil {
			logger.Warn("failed to record completed job state", logger.ErrorField(err))
		}
	})
	w.events.OnFailed(func(r Result, buildErr error) {
		ctx := context.Background()
		target := model.Target{Kind: r.TargetKind, ID: r.TargetID}
		if err := status.SetTargetState(ctx, target, r.Format, cache.BuildFailed); err != nil {
			logger.Warn("failed to record failed state", logger.ErrorField(err))
		}
		if err := status.SetJobState(ctx, r.JobID, cache.BuildFailed); err != nil {
			logger.Warn("failed to record failed job state", logger.ErrorField(err))
		}
	})
	w.events.OnStalled(func(r Result) {
		ctx := context.Background()
		target := model.Target{Kind: r.TargetKind, ID: r.TargetID}
		if err := status.SetTargetState(ctx, target, r.Format, cache.BuildFailed); err != nil {
			logger.Warn("failed to record stalled state", logger.ErrorField(err))
		}
		if err := status.SetJobState(ctx, r.JobID, cache.BuildStalled); err != nil {
			logger.Warn("failed to record stalled job state", logger.ErrorField(err))
		}
	})

	return w
}

// Events exposes the worker's lifecycle event subscriptions.
func (w *Worker) Events() *Events {
	return w.events
}

// Start launches the worker goroutines and the stall janitor.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.consumeLoop(ctx)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.janitorLoop(ctx)
	}()

	logger.Info("archive worker started",
		logger.Int("concurrency", w.concurrency),
		logger.Duration("stallTimeout", w.stallTimeout))
}

// Stop cancels the worker and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.jobs.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to dequeue build job", logger.ErrorField(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *queue.BuildJob) {
	target := model.Target{Kind: job.TargetKind, ID: job.TargetID}
	if err := w.status.SetTargetState(ctx, target, job.Format, cache.BuildRunning); err != nil {
		logger.Warn("failed to record running state", logger.ErrorField(err))
	}
	if err := w.status.SetJobState(ctx, job.ID, cache.BuildRunning); err != nil {
		logger.Warn("failed to record running job state", logger.ErrorField(err))
	}

	items := make([]archive.Item, 0, len(job.Items))
	for _, it := range job.Items {
		items = append(items, archive.Item{
			TrackID:    it.TrackID,
			Title:      it.Title,
			Order:      it.Order,
			StorageKey: it.StorageKey,
		})
	}

	result := Result{
		JobID:      job.ID,
		TargetKind: job.TargetKind,
		TargetID:   job.TargetID,
		Format:     job.Format,
	}

	key, built, err := w.builder.Build(ctx, archive.Request{
		TargetID: job.TargetID,
		Format:   job.Format,
		Items:    items,
	})

	if ackErr := w.jobs.Ack(ctx, job.ID); ackErr != nil {
		logger.Error("failed to ack build job",
			logger.String("jobId", job.ID),
			logger.ErrorField(ackErr))
	}

	if err != nil {
		logger.Error("archive build failed",
			logger.String("jobId", job.ID),
			logger.Int64("targetId", job.TargetID),
			logger.ErrorField(err))
		w.events.emitFailed(result, err)
		return
	}

	result.ArtifactKey = key
	result.Built = built
	w.events.emitCompleted(result)
}

func (w *Worker) janitorLoop(ctx context.Context) {
	interval := w.stallTimeout / 2
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stalled, err := w.jobs.CollectStalled(ctx, w.stallTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("failed to collect stalled jobs", logger.ErrorField(err))
				continue
			}
			for _, job := range stalled {
				logger.Warn("build job stalled",
					logger.String("jobId", job.ID),
					logger.Int64("targetId", job.TargetID))
				w.events.emitStalled(Result{
					JobID:      job.ID,
					TargetKind: job.TargetKind,
					TargetID:   job.TargetID,
					Format:     job.Format,
				})
			}
		}
	}
}
