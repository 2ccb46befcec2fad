package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"trivia-host/internal/domain"
)

// QuestionLoader fetches a host's questions from a backing store.
type QuestionLoader interface {
	List(ctx context.Context, ownerID string) ([]domain.Question, error)
}

// QuestionCache caches each owner's questions in a Redis hash and falls back
// to the loader on a miss.
// Layout: HSET trivia:questions:{ownerID} {questionID} {"prompt":..,"answer":..}
// An empty pool is cached as a single marker field so it is not reloaded each time.
type QuestionCache struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

type cachedQuestion struct {
	Prompt string `json:"prompt"`
	Answer string `json:"answer"`
}

const emptyMarker = "__empty__"

var errStaleLoad = errors.New("question cache: stale load")

func NewQuestionCache(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) ListQuestions(ctx context.Context, ownerID string) ([]domain.Question, error) {
	key := c.key(ownerID)
	if qs, ok := c.readCache(ctx, key); ok {
		return qs, nil
	}

	result, err, _ := c.sf.Do(ownerID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if qs, ok := c.readCache(ctx, key); ok {
			return qs, nil
		}

		// the version read before loading guards the fill against a
		// concurrent Invalidate
		version, err := c.client.Get(ctx, c.versionKey(ownerID)).Result()
		canFill := err == nil || errors.Is(err, redis.Nil)
		if !canFill {
			slog.Warn("question cache version read failed", "owner", ownerID, "error", err)
		}

		qs, err := c.loader.List(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if canFill {
			c.fill(ctx, ownerID, version, qs)
		}
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

// fill writes qs unless the owner's version moved since version was read.
func (c *QuestionCache) fill(ctx context.Context, ownerID, version string, qs []domain.Question) {
	key, verKey := c.key(ownerID), c.versionKey(ownerID)
	fields := make(map[string]interface{}, len(qs)+1)
	if len(qs) == 0 {
		fields[emptyMarker] = ""
	}
	for _, q := range qs {
		raw, err := json.Marshal(cachedQuestion{Prompt: q.Prompt, Answer: q.Answer})
		if err != nil {
			slog.Warn("question cache encode failed", "owner", ownerID, "error", err)
			return
		}
		fields[q.ID] = raw
	}
	ttl := c.ttlWithJitter()

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
			if ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	}, verKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleLoad), errors.Is(err, redis.TxFailedErr):
		slog.Debug("question cache fill skipped after invalidate", "owner", ownerID)
	default:
		slog.Warn("question cache fill failed", "owner", ownerID, "error", err)
	}
}

// Invalidate drops the owner's cached hash after a write and bumps its
// version so in-flight loads do not write back what they read before.
func (c *QuestionCache) Invalidate(ctx context.Context, ownerID string) {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.versionKey(ownerID))
		pipe.Del(ctx, c.key(ownerID))
		return nil
	})
	if err != nil {
		slog.Warn("question cache invalidate failed", "owner", ownerID, "error", err)
	}
	c.sf.Forget(ownerID)
}

func (c *QuestionCache) readCache(ctx context.Context, key string) ([]domain.Question, bool) {
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	qs := make([]domain.Question, 0, len(fields))
	for id, raw := range fields {
		if id == emptyMarker {
			continue
		}
		var cq cachedQuestion
		if err := json.Unmarshal([]byte(raw), &cq); err != nil {
			return nil, false
		}
		qs = append(qs, domain.Question{ID: id, Prompt: cq.Prompt, Answer: cq.Answer})
	}
	// hash order is arbitrary; keep pool order stable for seeded draws
	sort.Slice(qs, func(i, j int) bool { return qs[i].ID < qs[j].ID })
	return qs, true
}

func (c *QuestionCache) key(ownerID string) string {
	return "trivia:questions:" + ownerID
}

func (c *QuestionCache) versionKey(ownerID string) string {
	return "trivia:questions-version:" + ownerID
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
