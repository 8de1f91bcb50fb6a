package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/vidtrack/internal/models"
	"github.com/your-org/vidtrack/internal/observability"
	"github.com/your-org/vidtrack/internal/pipeline"
	"github.com/your-org/vidtrack/internal/queue"
)

// Runner executes one job to completion (or pause) before returning.
type Runner interface {
	Run(ctx context.Context, projectID, jobID int)
}

var _ Runner = (*pipeline.Orchestrator)(nil)

// Scheduler owns the single worker goroutine. Jobs run strictly one at a
// time in the order they were enqueued.
type Scheduler struct {
	repo        pipeline.Repository
	queue       queue.JobQueue
	runner      Runner
	pollTimeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func New(repo pipeline.Repository, q queue.JobQueue, runner Runner, pollTimeout time.Duration) *Scheduler {
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &Scheduler{
		repo:        repo,
		queue:       q,
		runner:      runner,
		pollTimeout: pollTimeout,
	}
}

// Start launches the worker loop. Calling Start on an already running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx)
	slog.Info("scheduler started", "poll_timeout", s.pollTimeout)
}

// Stop signals the worker to exit and waits for the in-flight job to wind
// down. The running job observes cancellation between batches, pauses
// itself and persists its position before the worker returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	slog.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}

		ref, ok, err := s.queue.Dequeue(ctx, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("dequeue failed", "error", err)
			continue
		}
		s.updateDepth(ctx)
		if !ok {
			continue
		}

		slog.Info("picked up job", "project_id", ref.ProjectID, "job_id", ref.JobID)
		s.runner.Run(ctx, ref.ProjectID, ref.JobID)
	}
}

func (s *Scheduler) updateDepth(ctx context.Context) {
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		return
	}
	observability.QueueDepth.Set(float64(depth))
}

// SubmitError reports why a job could not be submitted.
type SubmitError struct {
	JobID  int
	Status models.Status
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("cannot submit job %d with status %s", e.JobID, e.Status)
}

// Submit places a job on the queue. A pending job transitions to queued
// first; a paused or running job is re-enqueued as is so the worker can
// resume it from its saved position.
func (s *Scheduler) Submit(ctx context.Context, projectID, jobID int) (*models.Job, error) {
	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project %d: %w", projectID, err)
	}
	if project == nil {
		return nil, fmt.Errorf("project %d not found", projectID)
	}
	job := project.GetJob(jobID)
	if job == nil {
		return nil, fmt.Errorf("job %d not found in project %d", jobID, projectID)
	}

	switch job.Status() {
	case models.StatusPending:
		if err := job.Queue(); err != nil {
			return nil, err
		}
		if err := s.repo.SaveJob(ctx, projectID, job); err != nil {
			return nil, fmt.Errorf("save job %d: %w", jobID, err)
		}
	case models.StatusRunning, models.StatusPaused:
		// Paused jobs keep their status until the worker picks them up; a
		// crash can also leave a job marked running with no worker on it.
		// Either way, re-enqueue as is and resume from the saved batch.
	default:
		return nil, &SubmitError{JobID: jobID, Status: job.Status()}
	}

	if err := s.queue.Enqueue(ctx, queue.JobRef{ProjectID: projectID, JobID: jobID}); err != nil {
		return nil, fmt.Errorf("enqueue job %d: %w", jobID, err)
	}
	s.updateDepth(ctx)
	return job, nil
}
