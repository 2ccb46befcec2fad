package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"trivia-host/internal/domain"
)

func TestQuestionCacheCaches(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticQuestionLoader(map[string][]domain.Question{
			"host-1": sampleQuestions(),
		}),
	}
	cache := NewQuestionCache(loader, time.Minute)

	qs, err := cache.ListQuestions(context.Background(), "host-1")
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	if len(qs) != 2 || loader.calls != 1 {
		t.Fatalf("expected 2 questions from one load, got %d questions, %d calls", len(qs), loader.calls)
	}

	if _, err := cache.ListQuestions(context.Background(), "host-1"); err != nil {
		t.Fatalf("list questions 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}

	cache.Invalidate(context.Background(), "host-1")
	_, _ = cache.ListQuestions(context.Background(), "host-1")
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.calls)
	}
}

func TestQuestionCacheExpires(t *testing.T) {
	loader := &countingLoader{QuestionLoader: NewStaticQuestionLoader(nil)}
	cache := NewQuestionCache(loader, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.clock = func() time.Time { return now }

	_, _ = cache.ListQuestions(context.Background(), "host-1")
	now = now.Add(2 * time.Minute)
	_, _ = cache.ListQuestions(context.Background(), "host-1")
	if loader.calls != 2 {
		t.Fatalf("expected expired entry to reload, loader calls %d", loader.calls)
	}
}

func TestInvalidateDuringLoadDropsStaleResult(t *testing.T) {
	ctx := context.Background()
	store := NewQuestionStore()
	if _, err := store.Create(ctx, "host-1", "What is 2 + 2?", "4"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	loader := newGatedLoader(store)
	cache := NewQuestionCache(loader, time.Minute)

	done := make(chan []domain.Question)
	go func() {
		qs, _ := cache.ListQuestions(ctx, "host-1")
		done <- qs
	}()
	<-loader.started

	// a write lands while the first load is still running
	if _, err := store.Create(ctx, "host-1", "Capital of France?", "Paris"); err != nil {
		t.Fatalf("create: %v", err)
	}
	cache.Invalidate(ctx, "host-1")
	close(loader.release)
	if qs := <-done; len(qs) != 1 {
		t.Fatalf("in-flight load should return what it read, got %d", len(qs))
	}

	qs, err := cache.ListQuestions(ctx, "host-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("expected the new question after invalidate, got %d question(s)", len(qs))
	}
}

// gatedLoader blocks its first List after reading, until release is closed.
type gatedLoader struct {
	QuestionLoader
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedLoader(inner QuestionLoader) *gatedLoader {
	return &gatedLoader{QuestionLoader: inner, started: make(chan struct{}), release: make(chan struct{})}
}

func (l *gatedLoader) List(ctx context.Context, ownerID string) ([]domain.Question, error) {
	qs, err := l.QuestionLoader.List(ctx, ownerID)
	l.once.Do(func() {
		close(l.started)
		<-l.release
	})
	return qs, err
}

type countingLoader struct {
	QuestionLoader
	calls int
}

func (l *countingLoader) List(ctx context.Context, ownerID string) ([]domain.Question, error) {
	l.calls++
	return l.QuestionLoader.List(ctx, ownerID)
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Prompt: "What is 2 + 2?", Answer: "4"},
		{ID: "q2", Prompt: "Capital of France?", Answer: "Paris"},
	}
}
