package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vidtrack/internal/models"
	"github.com/your-org/vidtrack/internal/queue"
	"github.com/your-org/vidtrack/internal/storage"
)

// fakeRunner records the jobs it was handed and marks them done.
type fakeRunner struct {
	mu   sync.Mutex
	runs []queue.JobRef
	repo *storage.MemoryStore
}

func (r *fakeRunner) Run(ctx context.Context, projectID, jobID int) {
	r.mu.Lock()
	r.runs = append(r.runs, queue.JobRef{ProjectID: projectID, JobID: jobID})
	r.mu.Unlock()

	project, _ := r.repo.GetProject(ctx, projectID)
	if project == nil {
		return
	}
	if job := project.GetJob(jobID); job != nil {
		_ = job.Start()
		_ = job.Complete()
	}
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func setupScheduler(t *testing.T) (*Scheduler, *storage.MemoryStore, *fakeRunner, *models.Project) {
	t.Helper()
	ctx := context.Background()

	repo := storage.NewMemoryStore()
	project := &models.Project{Name: "harbor"}
	require.NoError(t, repo.CreateProject(ctx, project))

	runner := &fakeRunner{repo: repo}
	sched := New(repo, queue.NewMemory(8), runner, 20*time.Millisecond)
	return sched, repo, runner, project
}

func addJob(t *testing.T, repo *storage.MemoryStore, project *models.Project) *models.Job {
	t.Helper()
	job := models.NewJob("survey", "", "")
	require.NoError(t, repo.SaveJob(context.Background(), project.ID, job))
	project.AddJob(job)
	return job
}

func TestSubmit_PendingJobIsQueued(t *testing.T) {
	sched, repo, _, project := setupScheduler(t)
	job := addJob(t, repo, project)

	got, err := sched.Submit(context.Background(), project.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status())
	assert.Equal(t, models.StatusQueued, job.Status())
}

func TestSubmit_QueuedJobRejected(t *testing.T) {
	sched, repo, _, project := setupScheduler(t)
	job := addJob(t, repo, project)

	_, err := sched.Submit(context.Background(), project.ID, job.ID)
	require.NoError(t, err)

	_, err = sched.Submit(context.Background(), project.ID, job.ID)
	var submitErr *SubmitError
	require.ErrorAs(t, err, &submitErr)
	assert.Equal(t, models.StatusQueued, submitErr.Status)
}

func TestSubmit_DoneJobRejected(t *testing.T) {
	sched, repo, _, project := setupScheduler(t)
	job := addJob(t, repo, project)
	require.NoError(t, job.Queue())
	require.NoError(t, job.Start())
	require.NoError(t, job.Complete())

	_, err := sched.Submit(context.Background(), project.ID, job.ID)
	var submitErr *SubmitError
	require.ErrorAs(t, err, &submitErr)
	assert.Equal(t, models.StatusDone, submitErr.Status)
}

func TestSubmit_PausedJobRequeuesWithoutTransition(t *testing.T) {
	sched, repo, _, project := setupScheduler(t)
	job := addJob(t, repo, project)
	require.NoError(t, job.Queue())
	require.NoError(t, job.Pause())
	job.NextBatch = 3

	got, err := sched.Submit(context.Background(), project.ID, job.ID)
	require.NoError(t, err)
	// A paused job keeps its status until the worker picks it up; only the
	// resumption offset matters for the requeue.
	assert.Equal(t, models.StatusPaused, got.Status())
	assert.Equal(t, 3, got.NextBatch)
}

func TestSubmit_RunningJobRequeuesWithoutTransition(t *testing.T) {
	// A crash can leave a job persisted as running with no worker on it.
	sched, repo, _, project := setupScheduler(t)
	job := addJob(t, repo, project)
	require.NoError(t, job.Queue())
	require.NoError(t, job.Start())

	got, err := sched.Submit(context.Background(), project.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status())
}

func TestSubmit_UnknownProjectOrJob(t *testing.T) {
	sched, repo, _, project := setupScheduler(t)
	addJob(t, repo, project)

	_, err := sched.Submit(context.Background(), 999, 1)
	require.Error(t, err)

	_, err = sched.Submit(context.Background(), project.ID, 999)
	require.Error(t, err)
}

func TestScheduler_RunsJobsInOrder(t *testing.T) {
	sched, repo, runner, project := setupScheduler(t)
	first := addJob(t, repo, project)
	second := addJob(t, repo, project)

	_, err := sched.Submit(context.Background(), project.ID, first.ID)
	require.NoError(t, err)
	_, err = sched.Submit(context.Background(), project.ID, second.ID)
	require.NoError(t, err)

	sched.Start()
	defer sched.Stop()

	require.Eventually(t, func() bool {
		return runner.count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []queue.JobRef{
		{ProjectID: project.ID, JobID: first.ID},
		{ProjectID: project.ID, JobID: second.ID},
	}, runner.runs)
	assert.Equal(t, models.StatusDone, first.Status())
	assert.Equal(t, models.StatusDone, second.Status())
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	sched, repo, runner, project := setupScheduler(t)
	job := addJob(t, repo, project)

	sched.Start()
	sched.Start()
	defer sched.Stop()

	_, err := sched.Submit(context.Background(), project.ID, job.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return runner.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_StopWithEmptyQueue(t *testing.T) {
	sched, _, _, _ := setupScheduler(t)
	sched.Start()

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return with an idle worker")
	}

	// Stop after Stop is a no-op.
	sched.Stop()
}
