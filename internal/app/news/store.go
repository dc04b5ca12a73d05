package news

import (
	"fmt"
	"sync"

	"github.com/seednet/seednet/internal/domain"
)

// Store holds the four queues. Each queue is ordered by insertion; putting
// a record whose id is already queued moves it to the tail. The sqlite
// package provides the persistent implementation.
type Store interface {
	PutNews(q domain.NewsQueue, r *domain.NewsRecord) error
	GetNews(q domain.NewsQueue, id string) (*domain.NewsRecord, error)
	HeadNews(q domain.NewsQueue) (*domain.NewsRecord, error)
	RemoveNews(q domain.NewsQueue, id string) (bool, error)
	ListNews(q domain.NewsQueue) ([]*domain.NewsRecord, error)
	CountNews(q domain.NewsQueue) (int, error)
}

// MemStore is a Store held in memory.
type MemStore struct {
	mu     sync.Mutex
	queues map[domain.NewsQueue][]*domain.NewsRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{queues: make(map[domain.NewsQueue][]*domain.NewsRecord)}
}

func checkQueue(q domain.NewsQueue) error {
	_, err := domain.ParseNewsQueue(string(q))
	return err
}

func (s *MemStore) PutNews(q domain.NewsQueue, r *domain.NewsRecord) error {
	if err := checkQueue(q); err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: nil record", domain.ErrMalformedNews)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(q, r.ID())
	s.queues[q] = append(s.queues[q], r.Clone())
	return nil
}

func (s *MemStore) GetNews(q domain.NewsQueue, id string) (*domain.NewsRecord, error) {
	if err := checkQueue(q); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.queues[q] {
		if r.ID() == id {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemStore) HeadNews(q domain.NewsQueue) (*domain.NewsRecord, error) {
	if err := checkQueue(q); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queues[q]) == 0 {
		return nil, nil
	}
	return s.queues[q][0].Clone(), nil
}

func (s *MemStore) RemoveNews(q domain.NewsQueue, id string) (bool, error) {
	if err := checkQueue(q); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(q, id), nil
}

func (s *MemStore) removeLocked(q domain.NewsQueue, id string) bool {
	list := s.queues[q]
	for i, r := range list {
		if r.ID() == id {
			s.queues[q] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (s *MemStore) ListNews(q domain.NewsQueue) ([]*domain.NewsRecord, error) {
	if err := checkQueue(q); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.NewsRecord, 0, len(s.queues[q]))
	for _, r := range s.queues[q] {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *MemStore) CountNews(q domain.NewsQueue) (int, error) {
	if err := checkQueue(q); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[q]), nil
}
