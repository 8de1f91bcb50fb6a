package dto

import "time"

// JobStatusResponse is the read-only view of a job's processing state. It is
// always safe to serve while the worker is mid-batch: progress and next_batch
// only ever reflect fully committed work.
type JobStatusResponse struct {
	ProjectID int    `json:"project_id"`
	JobID     int    `json:"job_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	NextBatch int    `json:"next_batch"`
}

// SubmitResponse acknowledges a job submission.
type SubmitResponse struct {
	ProjectID int    `json:"project_id"`
	JobID     int    `json:"job_id"`
	Status    string `json:"status"`
}

// ProgressEvent is broadcast after every committed batch and on every status
// change.
type ProgressEvent struct {
	ProjectID int       `json:"project_id"`
	JobID     int       `json:"job_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	NextBatch int       `json:"next_batch"`
	Timestamp time.Time `json:"timestamp"`
}
