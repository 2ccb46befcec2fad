package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"trivia-host/internal/domain"
)

// QuestionLoader fetches a host's questions from a backing store.
type QuestionLoader interface {
	List(ctx context.Context, ownerID string) ([]domain.Question, error)
}

// QuestionCache caches question lists per owner with TTL to avoid repeated DB hits.
type QuestionCache struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuestions
	// versions is bumped by Invalidate; a load only stores its result if the
	// version it started from is still current.
	versions map[string]uint64
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCache(loader QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		loader:   loader,
		ttl:      ttl,
		clock:    time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:    make(map[string]cachedQuestions),
		versions: make(map[string]uint64),
	}
}

func (c *QuestionCache) ListQuestions(ctx context.Context, ownerID string) ([]domain.Question, error) {
	if qs, ok := c.lookup(ownerID); ok {
		return qs, nil
	}

	result, err, _ := c.sf.Do(ownerID, func() (interface{}, error) {
		if qs, ok := c.lookup(ownerID); ok {
			return qs, nil
		}
		now := c.clock()
		c.mu.RLock()
		version := c.versions[ownerID]
		c.mu.RUnlock()

		qs, err := c.loader.List(ctx, ownerID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.versions[ownerID] == version {
			c.cache[ownerID] = cachedQuestions{
				questions: qs,
				expiresAt: now.Add(c.ttlWithJitter()),
			}
		}
		c.mu.Unlock()
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(result.([]domain.Question)), nil
}

// Invalidate drops the owner's cached list after a write.
func (c *QuestionCache) Invalidate(_ context.Context, ownerID string) {
	c.mu.Lock()
	delete(c.cache, ownerID)
	c.versions[ownerID]++
	c.mu.Unlock()
	c.sf.Forget(ownerID)
}

func (c *QuestionCache) lookup(ownerID string) ([]domain.Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[ownerID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return nil, false
	}
	return clone(entry.questions), true
}

// ttlWithJitter must be called with mu held; rnd is not safe for concurrent use.
func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticQuestionLoader struct {
	questions map[string][]domain.Question
}

func NewStaticQuestionLoader(questions map[string][]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{questions: questions}
}

func (l *StaticQuestionLoader) List(_ context.Context, ownerID string) ([]domain.Question, error) {
	return clone(l.questions[ownerID]), nil
}

func clone(qs []domain.Question) []domain.Question {
	return append([]domain.Question(nil), qs...)
}
