package app

import (
	"context"
	"net/http"
	"strings"

	"redline/internal/config"
	"redline/internal/search"
	"redline/internal/store"
)

// dataStore is the slice of the persistence layer the API serves from.
type dataStore interface {
	Ping(ctx context.Context) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListProjects(ctx context.Context) ([]store.Project, error)
	ListThreads(ctx context.Context, projectID string) ([]store.Thread, error)
	GetThread(ctx context.Context, threadID string) (store.Thread, error)
	ListExtractionSessions(ctx context.Context, projectID string, limit int) ([]store.ExtractionSession, error)
	ListErrorEvents(ctx context.Context, limit int) ([]store.ErrorEvent, error)
}

// extractQueue debounces and schedules extraction jobs.
type extractQueue interface {
	Enqueue(ctx context.Context, projectID string) (bool, error)
	Ping(ctx context.Context) error
}

// searcher runs full-text queries over extracted threads.
type searcher interface {
	Search(q search.Query) (search.Response, error)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	queue  extractQueue
	search searcher
}

// New wires the API service. search may be nil when no search backend is
// configured; the endpoint then reports unavailable.
func New(cfg config.Config, dataStore dataStore, queue extractQueue, search searcher) *Service {
	return &Service{cfg: cfg, store: dataStore, queue: queue, search: search}
}

func (s *Service) ServiceToken() string { return s.cfg.ServiceToken }

func (s *Service) PingDB(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) PingQueue(ctx context.Context) error {
	if s.queue == nil {
		return nil
	}
	return s.queue.Ping(ctx)
}

// RequestExtraction enqueues a debounced extraction job. The boolean is
// false when a job for the project is already pending.
func (s *Service) RequestExtraction(ctx context.Context, projectID string) (bool, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return false, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId is required", nil)
	}
	return s.queue.Enqueue(ctx, projectID)
}

func (s *Service) Projects(ctx context.Context) ([]store.Project, error) {
	return s.store.ListProjects(ctx)
}

func (s *Service) Project(ctx context.Context, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Project{}, domainError(http.StatusNotFound, "NOT_FOUND", "Project not found", nil)
		}
		return store.Project{}, err
	}
	return project, nil
}

// Threads returns the project's extracted threads in sidebar order.
func (s *Service) Threads(ctx context.Context, projectID string) ([]store.Thread, error) {
	if _, err := s.Project(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListThreads(ctx, projectID)
}

func (s *Service) Thread(ctx context.Context, threadID string) (store.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Thread{}, domainError(http.StatusNotFound, "NOT_FOUND", "Thread not found", nil)
		}
		return store.Thread{}, err
	}
	return thread, nil
}

func (s *Service) Sessions(ctx context.Context, projectID string, limit int) ([]store.ExtractionSession, error) {
	if _, err := s.Project(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListExtractionSessions(ctx, projectID, limit)
}

func (s *Service) Errors(ctx context.Context, limit int) ([]store.ErrorEvent, error) {
	return s.store.ListErrorEvents(ctx, limit)
}

func (s *Service) Search(q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(q)
}
