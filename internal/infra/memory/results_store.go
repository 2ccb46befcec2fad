package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"trivia-host/internal/domain"
)

// ResultsStore is an in-memory app.ResultsSink.
type ResultsStore struct {
	mu       sync.RWMutex
	history  map[string]domain.HistoryRecord // by record id
	archives map[archiveKey]domain.TeamArchive
}

type archiveKey struct {
	owner string
	team  string
}

func NewResultsStore() *ResultsStore {
	return &ResultsStore{
		history:  make(map[string]domain.HistoryRecord),
		archives: make(map[archiveKey]domain.TeamArchive),
	}
}

func (s *ResultsStore) SaveHistory(_ context.Context, record domain.HistoryRecord) (string, error) {
	record.ID = uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[record.ID] = record
	return record.ID, nil
}

func (s *ResultsStore) AppendTeamArchive(_ context.Context, ownerID, teamName string, result domain.QuizResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := archiveKey{owner: ownerID, team: teamName}
	archive, ok := s.archives[key]
	if !ok {
		archive = domain.TeamArchive{OwnerID: ownerID, TeamName: teamName}
	}
	archive.Quizzes = append(archive.Quizzes, result)
	s.archives[key] = archive
	return nil
}

func (s *ResultsStore) ListHistory(_ context.Context, ownerID string) ([]domain.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.HistoryRecord, 0)
	for _, rec := range s.history {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *ResultsStore) GetHistory(_ context.Context, ownerID, id string) (domain.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.history[id]
	if !ok || rec.OwnerID != ownerID {
		return domain.HistoryRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// DeleteHistory removes the record and the matching quiz from each team's
// archive; archives left empty are dropped.
func (s *ResultsStore) DeleteHistory(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.history[id]
	if !ok || rec.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	delete(s.history, id)
	for _, team := range rec.Teams {
		key := archiveKey{owner: ownerID, team: team.Name}
		archive, ok := s.archives[key]
		if !ok {
			continue
		}
		kept := make([]domain.QuizResult, 0, len(archive.Quizzes))
		for _, q := range archive.Quizzes {
			if q.QuizID != rec.QuizID {
				kept = append(kept, q)
			}
		}
		if len(kept) == 0 {
			delete(s.archives, key)
			continue
		}
		archive.Quizzes = kept
		s.archives[key] = archive
	}
	return nil
}

func (s *ResultsStore) ListTeamArchives(_ context.Context, ownerID string) ([]domain.TeamArchive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TeamArchive, 0)
	for key, archive := range s.archives {
		if key.owner == ownerID && len(archive.Quizzes) > 0 {
			out = append(out, archive)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamName < out[j].TeamName })
	return out, nil
}
