package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"trivia-host/internal/domain"
)

// QuestionStore keeps questions in process memory, scoped by owner.
type QuestionStore struct {
	mu     sync.RWMutex
	owners map[string]string // question id -> owner id
	byID   map[string]domain.Question
	order  map[string][]string // owner id -> ids in creation order
}

func NewQuestionStore() *QuestionStore {
	return &QuestionStore{
		owners: make(map[string]string),
		byID:   make(map[string]domain.Question),
		order:  make(map[string][]string),
	}
}

func (s *QuestionStore) List(_ context.Context, ownerID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[ownerID]
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out, nil
}

func (s *QuestionStore) Create(_ context.Context, ownerID, prompt, answer string) (domain.Question, error) {
	q := domain.Question{ID: uuid.NewString(), Prompt: prompt, Answer: answer}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[q.ID] = q
	s.owners[q.ID] = ownerID
	s.order[ownerID] = append(s.order[ownerID], q.ID)
	return q, nil
}

func (s *QuestionStore) Update(_ context.Context, ownerID, id, prompt, answer string) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[id] != ownerID || ownerID == "" {
		return domain.Question{}, domain.ErrNotFound
	}
	q := domain.Question{ID: id, Prompt: prompt, Answer: answer}
	s.byID[id] = q
	return q, nil
}

func (s *QuestionStore) Delete(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[id] != ownerID || ownerID == "" {
		return domain.ErrNotFound
	}
	delete(s.byID, id)
	delete(s.owners, id)
	ids := s.order[ownerID]
	for i, existing := range ids {
		if existing == id {
			s.order[ownerID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}
