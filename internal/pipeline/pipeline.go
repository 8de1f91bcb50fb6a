// Package pipeline drives one job at a time from its resumption offset to
// completion: batched detection, per-batch persistence, then one tracking
// pass over everything accumulated.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/vidtrack/internal/models"
	"github.com/your-org/vidtrack/internal/observability"
	"github.com/your-org/vidtrack/pkg/dto"
)

// Repository is the persistence collaborator. SaveJob is the sole durability
// boundary: a concurrent reader sees either the pre-batch or the post-batch
// state, never a partial batch.
type Repository interface {
	// GetProject returns the project with its jobs, videos, frames, and
	// objects loaded, or nil when it does not exist.
	GetProject(ctx context.Context, id int) (*models.Project, error)
	SaveJob(ctx context.Context, projectID int, job *models.Job) error
}

// Detector is the per-batch detection collaborator.
type Detector interface {
	Predict(ctx context.Context, frames [][]byte, modelName string) ([]models.Frame, error)
}

// DetectorFactory constructs a detector client. Construction fails when the
// collaborator is unreachable; that is retryable, so the job pauses instead
// of erroring.
type DetectorFactory func(ctx context.Context) (Detector, error)

// Tracker is the once-per-job tracking collaborator.
type Tracker interface {
	Track(ctx context.Context, frames []models.Frame) ([]*models.Object, error)
}

// VideoFetcher pulls a video from the object store into the local video root.
type VideoFetcher interface {
	FetchVideo(ctx context.Context, key, dest string) error
}

// ProgressPublisher pushes progress events to interested readers. Best
// effort; a publish failure never affects the pipeline.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, ev dto.ProgressEvent) error
}

// Config wires an Orchestrator.
type Config struct {
	Repo        Repository
	NewDetector DetectorFactory
	Tracker     Tracker
	Streamer    Streamer
	BatchSize   int
	ModelName   string
	Fetcher     VideoFetcher      // optional
	Publisher   ProgressPublisher // optional
}

// Orchestrator runs one job from Job.NextBatch to DONE, or to a safely
// paused state on any failure. It is the sole writer of a job while that job
// is running; the scheduler's single worker enforces this without locks.
type Orchestrator struct {
	repo        Repository
	newDetector DetectorFactory
	tracker     Tracker
	streamer    Streamer
	batchSize   int
	modelName   string
	fetcher     VideoFetcher
	publisher   ProgressPublisher
}

func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		repo:        cfg.Repo,
		newDetector: cfg.NewDetector,
		tracker:     cfg.Tracker,
		streamer:    cfg.Streamer,
		batchSize:   cfg.BatchSize,
		modelName:   cfg.ModelName,
		fetcher:     cfg.Fetcher,
		publisher:   cfg.Publisher,
	}
}

// errCancelled stops the batch loop when the cancellation signal fires. The
// loop exits between batches only; a half-applied frame commit can never be
// observed.
var errCancelled = errors.New("processing cancelled")

// Run processes one job. It never returns an error: every failure path logs
// and leaves the job paused (or untouched), so the scheduler keeps pulling
// subsequent jobs regardless of this job's fate.
func (o *Orchestrator) Run(ctx context.Context, projectID, jobID int) {
	project, err := o.repo.GetProject(ctx, projectID)
	if err != nil {
		slog.Error("load project", "project_id", projectID, "error", err)
		return
	}
	if project == nil {
		slog.Warn("project not found", "project_id", projectID)
		return
	}

	job := project.GetJob(jobID)
	if job == nil {
		slog.Warn("job not found", "project_id", projectID, "job_id", jobID)
		return
	}

	if ctx.Err() != nil {
		slog.Info("job processing aborted before start", "job_id", jobID)
		return
	}

	switch job.Status() {
	case models.StatusQueued, models.StatusPaused:
		if err := job.Start(); err != nil {
			slog.Error("start job", "job_id", jobID, "error", err)
			return
		}
		if err := o.save(ctx, projectID, job); err != nil {
			slog.Error("persist running status", "job_id", jobID, "error", err)
			return
		}
	case models.StatusRunning:
		slog.Warn("job already marked running, resuming", "job_id", jobID)
	default:
		slog.Warn("job not in a startable status",
			"job_id", jobID, "status", job.Status())
		return
	}

	observability.JobsRunning.Inc()
	defer observability.JobsRunning.Dec()
	o.publish(ctx, projectID, job)

	if err := o.ensureVideosLocal(ctx, job); err != nil {
		slog.Error("fetch job videos", "job_id", jobID, "error", err)
		o.pauseIfRunning(ctx, projectID, job)
		return
	}

	// Videos may have been attached in arbitrary order; absolute frame
	// numbering depends on timestamp order.
	job.SortVideos()

	loader := NewVideoLoader(job.Videos, o.batchSize, o.streamer)

	det, err := o.newDetector(ctx)
	if err != nil {
		slog.Error("construct detector", "job_id", jobID, "error", err)
		o.pauseIfRunning(ctx, projectID, job)
		return
	}

	if job.NextBatch >= loader.TotalBatches() {
		// Fully detected on a previous run but never tracked; go straight
		// to the tracking phase. Detection is never re-run on committed
		// batches.
		slog.Warn("all batches already processed, skipping detection", "job_id", jobID)
	} else {
		if job.NextBatch > 0 {
			slog.Info("resuming job", "job_id", jobID, "next_batch", job.NextBatch)
		}

		err := loader.GenerateBatches(ctx, job.NextBatch, func(b Batch) error {
			if ctx.Err() != nil {
				return errCancelled
			}
			return o.processBatch(ctx, det, projectID, job, b)
		})
		if err != nil && !errors.Is(err, errCancelled) {
			slog.Error("batch processing failed", "job_id", jobID, "error", err)
			o.pauseIfRunning(ctx, projectID, job)
			return
		}
	}

	if ctx.Err() != nil {
		slog.Info("job interrupted, pausing at batch boundary",
			"job_id", jobID, "next_batch", job.NextBatch)
		o.pauseIfRunning(ctx, projectID, job)
		return
	}

	if err := o.track(ctx, projectID, job); err != nil {
		slog.Error("tracking failed", "job_id", jobID, "error", err)
		o.pauseIfRunning(ctx, projectID, job)
		return
	}

	if err := job.Complete(); err != nil {
		slog.Error("complete job", "job_id", jobID, "error", err)
		return
	}
	if err := o.save(ctx, projectID, job); err != nil {
		slog.Error("persist completed job", "job_id", jobID, "error", err)
		return
	}

	observability.JobsProcessed.WithLabelValues(string(models.StatusDone)).Inc()
	o.publish(ctx, projectID, job)
	slog.Info("job completed", "job_id", jobID, "objects", job.ObjectCount())
}

// processBatch runs detection on one batch, folds the results into the
// owning videos, and commits. Once this returns nil the batch is durable and
// the job can resume from NextBatch after any failure.
func (o *Orchestrator) processBatch(ctx context.Context, det Detector, projectID int, job *models.Job, b Batch) error {
	start := time.Now()

	frames, err := det.Predict(ctx, b.Frames, o.modelName)
	if err != nil {
		return err
	}
	if len(frames) != len(b.Frames) {
		return fmt.Errorf("detector returned %d frames for a batch of %d", len(frames), len(b.Frames))
	}

	for n := range frames {
		absFrame := b.Number*o.batchSize + n
		local := b.LocalFrames[n]
		owner := b.Owners[n]

		frames[n].Idx = local
		ts := b.Timestamps[n]
		frames[n].Timestamp = &ts
		videoID := owner.ID
		frames[n].VideoID = &videoID

		for i := range frames[n].Detections {
			frames[n].Detections[i].SetFrame(absFrame, local, owner.ID)
		}

		if err := owner.AddFrame(frames[n]); err != nil {
			return err
		}
	}

	// Commit point: the resumption boundary. Any failure after this save
	// resumes from NextBatch without reprocessing.
	job.NextBatch = b.Number + 1
	job.Progress = b.Progress
	if err := o.save(ctx, projectID, job); err != nil {
		return err
	}

	observability.BatchesProcessed.Inc()
	observability.BatchDuration.Observe(time.Since(start).Seconds())
	o.publish(ctx, projectID, job)

	slog.Debug("batch committed",
		"job_id", job.ID, "batch", b.Number, "frames", len(b.Frames), "progress", b.Progress)
	return nil
}

// track gathers every committed frame across every video, previous runs
// included, and runs the tracking collaborator exactly once.
func (o *Orchestrator) track(ctx context.Context, projectID int, job *models.Job) error {
	var all []models.Frame
	for _, vid := range job.Videos {
		all = append(all, vid.Frames...)
	}
	slog.Info("tracking job", "job_id", job.ID, "frames", len(all))

	objects, err := o.tracker.Track(ctx, all)
	if err != nil {
		return err
	}

	for _, obj := range objects {
		job.AddObject(obj)
	}
	return o.save(ctx, projectID, job)
}

// pauseIfRunning freezes progress at the last committed batch so a future
// requeue resumes in place. Saving uses a detached context because the run
// context may already be cancelled.
func (o *Orchestrator) pauseIfRunning(ctx context.Context, projectID int, job *models.Job) {
	if job.Status() != models.StatusRunning {
		return
	}
	if err := job.Pause(); err != nil {
		slog.Error("pause job", "job_id", job.ID, "error", err)
		return
	}
	saveCtx := context.WithoutCancel(ctx)
	if err := o.save(saveCtx, projectID, job); err != nil {
		slog.Error("persist paused job", "job_id", job.ID, "error", err)
		return
	}
	observability.JobsProcessed.WithLabelValues(string(models.StatusPaused)).Inc()
	o.publish(saveCtx, projectID, job)
	slog.Info("job paused", "job_id", job.ID, "next_batch", job.NextBatch)
}

func (o *Orchestrator) ensureVideosLocal(ctx context.Context, job *models.Job) error {
	if o.fetcher == nil {
		return nil
	}
	for _, vid := range job.Videos {
		if vid.Exists() {
			continue
		}
		slog.Info("fetching video from object store", "path", vid.Path)
		if err := o.fetcher.FetchVideo(ctx, vid.Path, vid.Path); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) save(ctx context.Context, projectID int, job *models.Job) error {
	return o.repo.SaveJob(ctx, projectID, job)
}

func (o *Orchestrator) publish(ctx context.Context, projectID int, job *models.Job) {
	if o.publisher == nil {
		return
	}
	ev := dto.ProgressEvent{
		ProjectID: projectID,
		JobID:     job.ID,
		Status:    string(job.Status()),
		Progress:  job.Progress,
		NextBatch: job.NextBatch,
		Timestamp: time.Now().UTC(),
	}
	if err := o.publisher.PublishProgress(ctx, ev); err != nil {
		slog.Warn("publish progress event", "job_id", job.ID, "error", err)
	}
}
