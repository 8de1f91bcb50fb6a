package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/vidtrack/internal/models"
	"github.com/your-org/vidtrack/internal/scheduler"
	"github.com/your-org/vidtrack/pkg/dto"
)

// VideoResolver turns a video path into a probed Video with its metadata and
// recording timestamp filled in.
type VideoResolver func(ctx context.Context, path string) (*models.Video, error)

// Submitter places a job on the processing queue.
type Submitter interface {
	Submit(ctx context.Context, projectID, jobID int) (*models.Job, error)
}

type JobHandler struct {
	db        Store
	submitter Submitter
	resolve   VideoResolver
}

func NewJobHandler(db Store, submitter Submitter, resolve VideoResolver) *JobHandler {
	return &JobHandler{db: db, submitter: submitter, resolve: resolve}
}

// Create registers a job with its video set. Videos are probed up front so a
// bad file or an unparseable timestamp fails the request instead of the run.
func (h *JobHandler) Create(c *gin.Context) {
	projectID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := h.db.GetProject(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if project == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}

	job := models.NewJob(req.Name, req.Description, req.Location)

	videos := make([]*models.Video, 0, len(req.Videos))
	for _, path := range req.Videos {
		v, err := h.resolve(c.Request.Context(), path)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		videos = append(videos, v)
	}
	if err := job.AddVideos(videos); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.SaveJob(c.Request.Context(), projectID, job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	project.AddJob(job)

	c.JSON(http.StatusCreated, jobToStatus(projectID, job))
}

// Submit queues a job for the worker.
func (h *JobHandler) Submit(c *gin.Context) {
	projectID, jobID, ok := pathIDs(c)
	if !ok {
		return
	}

	job, err := h.submitter.Submit(c.Request.Context(), projectID, jobID)
	if err != nil {
		var submitErr *scheduler.SubmitError
		var statusErr *models.JobStatusError
		switch {
		case errors.As(err, &submitErr), errors.As(err, &statusErr):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitResponse{
		ProjectID: projectID,
		JobID:     jobID,
		Status:    string(job.Status()),
	})
}

// Get returns the committed processing state of a job.
func (h *JobHandler) Get(c *gin.Context) {
	projectID, jobID, ok := pathIDs(c)
	if !ok {
		return
	}

	job, ok := h.loadJob(c, projectID, jobID)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, jobToStatus(projectID, job))
}

// Stats returns the per-label object histogram of a job.
func (h *JobHandler) Stats(c *gin.Context) {
	projectID, jobID, ok := pathIDs(c)
	if !ok {
		return
	}

	job, ok := h.loadJob(c, projectID, jobID)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, job.Stats())
}

// Objects lists the tracked objects of a job.
func (h *JobHandler) Objects(c *gin.Context) {
	projectID, jobID, ok := pathIDs(c)
	if !ok {
		return
	}

	job, ok := h.loadJob(c, projectID, jobID)
	if !ok {
		return
	}

	objects := job.Objects()
	resp := make([]dto.ObjectResponse, 0, len(objects))
	for _, obj := range objects {
		resp = append(resp, dto.ObjectResponse{
			ID:          obj.ID,
			TrackID:     obj.TrackID,
			Label:       obj.Label,
			Probability: obj.Probability,
			TimeIn:      obj.TimeIn,
			TimeOut:     obj.TimeOut,
			Detections:  obj.DetectionCount(),
		})
	}

	c.JSON(http.StatusOK, dto.ObjectListResponse{Objects: resp, Total: len(resp)})
}

func (h *JobHandler) loadJob(c *gin.Context, projectID, jobID int) (*models.Job, bool) {
	project, err := h.db.GetProject(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if project == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return nil, false
	}
	job := project.GetJob(jobID)
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return nil, false
	}
	return job, true
}

func pathIDs(c *gin.Context) (projectID, jobID int, ok bool) {
	projectID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return 0, 0, false
	}
	jobID, err = strconv.Atoi(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return 0, 0, false
	}
	return projectID, jobID, true
}
