package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/vidtrack/internal/models"
	"github.com/your-org/vidtrack/pkg/dto"
)

// Store is the persistence surface the handlers need.
type Store interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id int) (*models.Project, error)
	SaveJob(ctx context.Context, projectID int, job *models.Job) error
}

type ProjectHandler struct {
	db Store
}

func NewProjectHandler(db Store) *ProjectHandler {
	return &ProjectHandler{db: db}
}

func (h *ProjectHandler) Create(c *gin.Context) {
	var req dto.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := &models.Project{
		Name:        req.Name,
		Number:      req.Number,
		Description: req.Description,
		Location:    req.Location,
	}
	if err := h.db.CreateProject(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, projectToResponse(p))
}

func (h *ProjectHandler) Get(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	p, err := h.db.GetProject(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}

	c.JSON(http.StatusOK, projectToResponse(p))
}

func projectToResponse(p *models.Project) dto.ProjectResponse {
	jobs := make([]dto.JobStatusResponse, 0, len(p.Jobs))
	for _, j := range p.Jobs {
		jobs = append(jobs, jobToStatus(p.ID, j))
	}
	return dto.ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Number:      p.Number,
		Description: p.Description,
		Location:    p.Location,
		Jobs:        jobs,
	}
}

func jobToStatus(projectID int, j *models.Job) dto.JobStatusResponse {
	return dto.JobStatusResponse{
		ProjectID: projectID,
		JobID:     j.ID,
		Name:      j.Name,
		Status:    string(j.Status()),
		Progress:  j.Progress,
		NextBatch: j.NextBatch,
	}
}
