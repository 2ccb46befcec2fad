package app

import (
	"math/rand"

	"trivia-host/internal/domain"
)

// UsedSet is the set of question IDs already shown in a session.
type UsedSet map[string]struct{}

// Add marks ids as used.
func (u UsedSet) Add(ids ...string) {
	for _, id := range ids {
		u[id] = struct{}{}
	}
}

// Has reports whether id was already used.
func (u UsedSet) Has(id string) bool {
	_, ok := u[id]
	return ok
}

// Len returns the number of used IDs.
func (u UsedSet) Len() int {
	return len(u)
}

// QuestionPool holds the questions available to one host. It is read-only
// once built; draws never mutate it.
type QuestionPool struct {
	questions []domain.Question
}

// NewQuestionPool builds a pool, dropping repeated IDs (first one wins).
func NewQuestionPool(questions []domain.Question) *QuestionPool {
	seen := make(map[string]struct{}, len(questions))
	pool := make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		if _, dup := seen[q.ID]; dup {
			continue
		}
		seen[q.ID] = struct{}{}
		pool = append(pool, q)
	}
	return &QuestionPool{questions: pool}
}

func (p *QuestionPool) Size() int {
	return len(p.questions)
}

// Draw returns count distinct questions not in excluding, uniformly shuffled.
// Availability is checked before anything is selected.
func (p *QuestionPool) Draw(excluding UsedSet, count int, rnd *rand.Rand) ([]domain.Question, error) {
	if count <= 0 {
		return nil, domain.ErrInvalidConfig
	}
	eligible := make([]domain.Question, 0, len(p.questions))
	for _, q := range p.questions {
		if !excluding.Has(q.ID) {
			eligible = append(eligible, q)
		}
	}
	if len(eligible) < count {
		return nil, &domain.InsufficientQuestionsError{Available: len(eligible), Needed: count}
	}

	// partial Fisher-Yates: only the first count slots need to be settled
	for i := 0; i < count; i++ {
		j := i + rnd.Intn(len(eligible)-i)
		eligible[i], eligible[j] = eligible[j], eligible[i]
	}
	out := make([]domain.Question, count)
	copy(out, eligible[:count])
	return out, nil
}

// SelectRound picks the next round's questions. It has no hidden state: the
// result depends only on the pool, the used set and the random source.
func SelectRound(pool *QuestionPool, used UsedSet, questionsPerRound int, rnd *rand.Rand) ([]domain.Question, error) {
	return pool.Draw(used, questionsPerRound, rnd)
}
