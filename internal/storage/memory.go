package storage

import (
	"context"
	"sync"

	"github.com/your-org/vidtrack/internal/models"
)

// MemoryStore keeps projects in process memory. It backs local development
// and tests; nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	projects map[int]*models.Project
	nextID   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[int]*models.Project),
		nextID:   1,
	}
}

func (s *MemoryStore) CreateProject(_ context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	s.projects[p.ID] = p
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id int) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projects[id], nil
}

func (s *MemoryStore) SaveJob(_ context.Context, projectID int, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil
	}
	if job.ID == 0 {
		job.ID = s.nextID
		s.nextID++
	}
	p.AddJob(job)
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Close() {}
