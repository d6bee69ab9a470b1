package store

import (
	"context"
	"sync"

	"github.com/petmerch/api/internal/model"
)

// MemoryJobStore keeps jobs in process memory
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.DesignJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*model.DesignJob)}
}

func (s *MemoryJobStore) Put(_ context.Context, job *model.DesignJob) error {
	cp, err := clone(job)
	if err != nil {
		return storageErr("put", err)
	}
	s.mu.Lock()
	s.jobs[job.ID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*model.DesignJob, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, jobNotFound(id)
	}
	return clone(job)
}

func (s *MemoryJobStore) Patch(_ context.Context, id string, fn MutateFunc) (*model.DesignJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, jobNotFound(id)
	}
	work, err := clone(current)
	if err != nil {
		return nil, storageErr("patch", err)
	}

	changed, err := fn(work)
	if err != nil {
		return nil, err
	}
	if changed {
		s.jobs[id] = work
	}
	return clone(work)
}

func (s *MemoryJobStore) Ping(context.Context) error { return nil }

func (s *MemoryJobStore) Close() error { return nil }

// MemorySessionStore keeps checkout sessions in process memory
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.CheckoutSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*model.CheckoutSession)}
}

func (s *MemorySessionStore) Create(_ context.Context, session *model.CheckoutSession) error {
	cp, err := clone(session)
	if err != nil {
		return storageErr("create session", err)
	}
	s.mu.Lock()
	s.sessions[session.ID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*model.CheckoutSession, error) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, sessionNotFound(id)
	}
	return clone(session)
}

func (s *MemorySessionStore) Update(_ context.Context, id string, fn func(*model.CheckoutSession) error) (*model.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok {
		return nil, sessionNotFound(id)
	}
	work, err := clone(current)
	if err != nil {
		return nil, storageErr("update session", err)
	}
	if err := fn(work); err != nil {
		return nil, err
	}
	s.sessions[id] = work
	return clone(work)
}
