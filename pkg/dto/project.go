package dto

import "time"

// CreateProjectRequest creates an empty project.
type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Number      string `json:"number"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

type ProjectResponse struct {
	ID          int                 `json:"id"`
	Name        string              `json:"name"`
	Number      string              `json:"number"`
	Description string              `json:"description"`
	Location    string              `json:"location"`
	Jobs        []JobStatusResponse `json:"jobs"`
}

// CreateJobRequest creates a job from a set of video files. Paths are
// relative to the configured video root; each file name must carry a
// recording timestamp.
type CreateJobRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Videos      []string `json:"videos"`
}

// ObjectResponse is one tracked object with its presence interval.
type ObjectResponse struct {
	ID          int       `json:"id"`
	TrackID     int       `json:"track_id"`
	Label       int       `json:"label"`
	Probability float64   `json:"probability"`
	TimeIn      time.Time `json:"time_in"`
	TimeOut     time.Time `json:"time_out"`
	Detections  int       `json:"detections"`
}

type ObjectListResponse struct {
	Objects []ObjectResponse `json:"objects"`
	Total   int              `json:"total"`
}
