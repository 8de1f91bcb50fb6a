package models

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/samber/lo"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending Status = "Pending"
	StatusQueued  Status = "Queued"
	StatusRunning Status = "Running"
	StatusPaused  Status = "Paused"
	StatusDone    Status = "Done"
	StatusError   Status = "Error"
)

// JobStatusError is returned on a disallowed status transition. Callers must
// handle it explicitly; an invalid transition never changes the job.
type JobStatusError struct {
	Op     string
	Status Status
}

func (e *JobStatusError) Error() string {
	return fmt.Sprintf("cannot %s job with status %s", e.Op, e.Status)
}

// Job is the unit of work: a set of videos to process and the results
// accumulated so far. NextBatch is the resumption offset in batch units;
// it only ever advances, and only after a batch has been persisted.
type Job struct {
	ID          int
	Name        string
	Description string
	Location    string
	// Videos sorted by timestamp ascending. This ordering is the basis for
	// absolute frame numbering and must be restored before every run.
	Videos    []*Video
	NextBatch int
	Progress  int

	status  Status
	objects []*Object
}

// NewJob creates a pending job with no videos.
func NewJob(name, description, location string) *Job {
	return &Job{
		Name:        name,
		Description: description,
		Location:    location,
		status:      StatusPending,
	}
}

// RestoreJob rebuilds a job from persisted state.
func RestoreJob(id int, name, description, location string, status Status, nextBatch, progress int) *Job {
	j := NewJob(name, description, location)
	j.ID = id
	j.status = status
	j.NextBatch = nextBatch
	j.Progress = progress
	return j
}

func (j *Job) Status() Status {
	return j.status
}

// Start marks the job as running. A running or completed job cannot be
// started again.
func (j *Job) Start() error {
	if j.status == StatusDone || j.status == StatusRunning {
		return &JobStatusError{Op: "start", Status: j.status}
	}
	slog.Debug("job starting", "name", j.Name)
	j.status = StatusRunning
	return nil
}

// Pause marks the job as paused. Only a running or queued job can pause.
func (j *Job) Pause() error {
	if j.status != StatusRunning && j.status != StatusQueued {
		return &JobStatusError{Op: "pause", Status: j.status}
	}
	slog.Debug("job paused", "name", j.Name)
	j.status = StatusPaused
	return nil
}

// Complete marks a running job as done.
func (j *Job) Complete() error {
	if j.status != StatusRunning {
		return &JobStatusError{Op: "complete", Status: j.status}
	}
	slog.Debug("job completed", "name", j.Name)
	j.status = StatusDone
	return nil
}

// Queue marks a pending or paused job as queued.
func (j *Job) Queue() error {
	if j.status != StatusPending && j.status != StatusPaused {
		return &JobStatusError{Op: "queue", Status: j.status}
	}
	slog.Debug("job queued", "name", j.Name)
	j.status = StatusQueued
	return nil
}

// MarkError puts a running job into the error state. Error is terminal for
// the scheduler; an operator may requeue manually.
func (j *Job) MarkError() error {
	if j.status != StatusRunning {
		return &JobStatusError{Op: "mark as errored", Status: j.status}
	}
	slog.Debug("job errored", "name", j.Name)
	j.status = StatusError
	return nil
}

// AddVideo attaches one video. The video must carry a timestamp and must not
// already be part of the job.
func (j *Job) AddVideo(video *Video) error {
	if video.Timestamp.IsZero() {
		return fmt.Errorf("video %s: %w", video.Path, ErrTimestampNotFound)
	}
	for _, v := range j.Videos {
		if v.Path == video.Path {
			return fmt.Errorf("video %s already added to job", video.Path)
		}
	}
	j.Videos = append(j.Videos, video)
	j.SortVideos()
	return nil
}

// AddVideos attaches a batch of videos atomically: if any member is already
// present, lacks a timestamp, or shares a timestamp with another member, the
// whole batch is rejected and nothing is added.
func (j *Job) AddVideos(videos []*Video) error {
	seen := make(map[int64]string, len(videos))
	for _, video := range videos {
		if video.Timestamp.IsZero() {
			return fmt.Errorf("video %s: %w", video.Path, ErrTimestampNotFound)
		}
		for _, v := range j.Videos {
			if v.Path == video.Path {
				return fmt.Errorf("video %s already added to job", video.Path)
			}
		}
		key := video.Timestamp.Unix()
		if other, ok := seen[key]; ok {
			return fmt.Errorf("videos %s and %s share timestamp %s", other, video.Path, video.Timestamp)
		}
		seen[key] = video.Path
	}

	j.Videos = append(j.Videos, videos...)
	j.SortVideos()
	return nil
}

// RemoveVideo detaches a video, reporting whether it was present.
func (j *Job) RemoveVideo(video *Video) bool {
	for i, v := range j.Videos {
		if v.Path == video.Path {
			j.Videos = append(j.Videos[:i], j.Videos[i+1:]...)
			return true
		}
	}
	return false
}

// SortVideos re-establishes timestamp order. Videos may be appended in
// arbitrary order, so this must run before any batch locate/generate.
func (j *Job) SortVideos() {
	sort.SliceStable(j.Videos, func(a, b int) bool {
		return j.Videos[a].Timestamp.Before(j.Videos[b].Timestamp)
	})
}

// TotalFrames sums the frame counts of all videos.
func (j *Job) TotalFrames() int {
	return lo.SumBy(j.Videos, func(v *Video) int { return v.FrameCount })
}

func (j *Job) AddObject(obj *Object) {
	j.objects = append(j.objects, obj)
}

func (j *Job) Objects() []*Object {
	out := make([]*Object, len(j.objects))
	copy(out, j.objects)
	return out
}

func (j *Job) ObjectCount() int {
	return len(j.objects)
}

// ObjectAt returns the object at idx, or nil if out of range.
func (j *Job) ObjectAt(idx int) *Object {
	if idx < 0 || idx >= len(j.objects) {
		return nil
	}
	return j.objects[idx]
}

// JobStats summarises the objects accumulated on a job.
type JobStats struct {
	TotalObjects int         `json:"total_objects"`
	TotalLabels  int         `json:"total_labels"`
	Labels       map[int]int `json:"labels"`
}

// Stats returns the per-label object histogram.
func (j *Job) Stats() JobStats {
	labels := make(map[int]int)
	for _, o := range j.objects {
		labels[o.Label]++
	}
	return JobStats{
		TotalObjects: len(j.objects),
		TotalLabels:  len(labels),
		Labels:       labels,
	}
}

// Project groups jobs under one external reference number.
type Project struct {
	ID          int
	Name        string
	Number      string
	Description string
	Location    string
	Jobs        []*Job
}

// AddJob attaches a job unless an identical one is already present.
func (p *Project) AddJob(job *Job) {
	for _, j := range p.Jobs {
		if j.ID != 0 && j.ID == job.ID {
			slog.Debug("job already part of project", "name", job.Name)
			return
		}
	}
	p.Jobs = append(p.Jobs, job)
}

// GetJob returns the job with the given id, or nil.
func (p *Project) GetJob(jobID int) *Job {
	for _, j := range p.Jobs {
		if j.ID == jobID {
			return j
		}
	}
	return nil
}

// RemoveJob detaches a job, reporting whether it was present.
func (p *Project) RemoveJob(job *Job) bool {
	for i, j := range p.Jobs {
		if j.ID == job.ID {
			p.Jobs = append(p.Jobs[:i], p.Jobs[i+1:]...)
			return true
		}
	}
	return false
}
