package app_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"trivia-host/internal/app"
	"trivia-host/internal/domain"
	"trivia-host/internal/infra/memory"
)

var finishedAt = time.Date(2024, 3, 9, 20, 15, 0, 0, time.UTC)

func TestEndToEndSessionIsPersisted(t *testing.T) {
	ctx := context.Background()
	service, results, _ := newTestService(t, 2, nil)

	ctrl, err := service.StartSession(ctx, "host-1", domain.SessionConfig{
		TotalRounds: 1, QuestionsPerRound: 2, SecondsPerQuestion: 30, SessionName: "Pub night",
	}, []string{"A", "B"})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	playRound(t, ctrl, 2)
	if _, err := ctrl.Submit(map[string]string{"A": "2", "B": "1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := ctrl.Continue(); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if err := service.WaitPersisted(ctx); err != nil {
		t.Fatalf("wait persisted: %v", err)
	}

	history, _ := results.ListHistory(ctx, "host-1")
	if len(history) != 1 {
		t.Fatalf("expected one history record, got %d", len(history))
	}
	rec := history[0]
	if rec.TotalPossiblePoints != 2 || rec.SessionName != "Pub night" || rec.Date != "09/03/2024" || rec.Time != "20:15" {
		t.Fatalf("unexpected record header %+v", rec)
	}
	want := []domain.TeamResult{{Name: "A", TotalScore: 2, Placement: 1}, {Name: "B", TotalScore: 1, Placement: 2}}
	for i, w := range want {
		got := rec.Teams[i]
		if got.Name != w.Name || got.TotalScore != w.TotalScore || got.Placement != w.Placement {
			t.Fatalf("team %d: expected %+v, got %+v", i, w, got)
		}
	}

	archives, _ := results.ListTeamArchives(ctx, "host-1")
	if len(archives) != 2 || archives[0].Quizzes[0].QuizID != rec.QuizID {
		t.Fatalf("expected archives for both teams, got %+v", archives)
	}
	outcome, ok := service.LastPersist("host-1")
	if !ok || outcome.Err != nil || outcome.RecordID != rec.ID {
		t.Fatalf("unexpected persist outcome %+v", outcome)
	}
}

func TestPersistenceIsRetriedOnceAndNeverRollsBack(t *testing.T) {
	ctx := context.Background()
	sink := &flakySink{ResultsStore: memory.NewResultsStore(), failures: 2}
	service, _, _ := newTestService(t, 2, sink)

	ctrl, err := service.StartSession(ctx, "host-1", domain.SessionConfig{
		TotalRounds: 1, QuestionsPerRound: 2, SecondsPerQuestion: 30,
	}, []string{"A", "B"})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	playRound(t, ctrl, 2)
	_, _ = ctrl.Submit(map[string]string{"A": "1", "B": "2"})
	_ = ctrl.Continue()
	_ = service.WaitPersisted(ctx)

	if sink.attempts() != 2 {
		t.Fatalf("expected exactly one retry, got %d attempts", sink.attempts())
	}
	outcome, _ := service.LastPersist("host-1")
	var perr *domain.PersistenceError
	if !errors.As(outcome.Err, &perr) || outcome.Warning == "" {
		t.Fatalf("expected persistence warning, got %+v", outcome)
	}
	final, ok := ctrl.Final()
	if !ok || final[0].Name != "B" || final[0].CumulativeScore != 2 {
		t.Fatalf("in-memory result must survive a failed save, got %+v", final)
	}

	// a failed save does not block the next session
	if _, err := service.StartSession(ctx, "host-1", domain.SessionConfig{
		TotalRounds: 1, QuestionsPerRound: 1, SecondsPerQuestion: 30,
	}, []string{"A", "B"}); err != nil {
		t.Fatalf("new session after failed save: %v", err)
	}
}

func TestStartSessionRejectsSmallPool(t *testing.T) {
	service, _, _ := newTestService(t, 5, nil)
	_, err := service.StartSession(context.Background(), "host-1", domain.SessionConfig{
		TotalRounds: 2, QuestionsPerRound: 3, SecondsPerQuestion: 30,
	}, []string{"A", "B"})
	if !domain.IsInsufficientQuestions(err) {
		t.Fatalf("expected insufficient questions, got %v", err)
	}
	if _, err := service.Session("host-1"); err != domain.ErrSessionNotFound {
		t.Fatalf("failed setup must not leave a session, got %v", err)
	}
}

func TestStartSessionReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t, 4, nil)
	cfg := domain.SessionConfig{TotalRounds: 1, QuestionsPerRound: 2, SecondsPerQuestion: 30}

	first, _ := service.StartSession(ctx, "host-1", cfg, []string{"A", "B"})
	second, err := service.StartSession(ctx, "host-1", cfg, []string{"C", "D"})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if first.State().Phase != domain.PhaseAbandoned {
		t.Fatalf("expected first session abandoned, got %s", first.State().Phase)
	}
	if got, _ := service.Session("host-1"); got != second {
		t.Fatalf("expected second session to be live")
	}

	service.Abandon("host-1")
	if _, err := service.Session("host-1"); err != domain.ErrSessionNotFound {
		t.Fatalf("expected no session after abandon, got %v", err)
	}
}

func TestStartSessionReleasesFinishedPrevious(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t, 4, nil)
	cfg := domain.SessionConfig{TotalRounds: 1, QuestionsPerRound: 2, SecondsPerQuestion: 30}

	first, err := service.StartSession(ctx, "host-1", cfg, []string{"A", "B"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	playRound(t, first, 2)
	_, _ = first.Submit(map[string]string{"A": "1", "B": "2"})
	if err := first.Continue(); err != nil {
		t.Fatalf("continue: %v", err)
	}
	_ = service.WaitPersisted(ctx)

	observer, cancel := first.Subscribe()
	defer cancel()
	<-observer

	if _, err := service.StartSession(ctx, "host-1", cfg, []string{"C", "D"}); err != nil {
		t.Fatalf("second start: %v", err)
	}
	select {
	case _, ok := <-observer:
		if ok {
			t.Fatalf("expected no further snapshots from the finished session")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("observer of the finished session still attached after a new session started")
	}
	if first.State().Phase != domain.PhaseFinalized {
		t.Fatalf("finished session must stay finalized, got %s", first.State().Phase)
	}
}

// interleavingSessions runs beforeDelete once, just before a compare-and-delete.
type interleavingSessions struct {
	*memory.SessionStore
	beforeDelete func()
}

func (s *interleavingSessions) DeleteIf(hostID string, c *app.Controller) bool {
	if fn := s.beforeDelete; fn != nil {
		s.beforeDelete = nil
		fn()
	}
	return s.SessionStore.DeleteIf(hostID, c)
}

func TestAbandonKeepsSessionStartedMeanwhile(t *testing.T) {
	ctx := context.Background()
	sessions := &interleavingSessions{SessionStore: memory.NewSessionStore()}
	store := memory.NewQuestionStore()
	for _, q := range makeQuestions(4) {
		_, _ = store.Create(ctx, "host-1", q.Prompt, q.Answer)
	}
	service := app.NewHostService(sessions, memory.NewQuestionCache(store, time.Minute), store,
		memory.NewResultsStore(), app.WithHostScheduler(&manualScheduler{}))
	cfg := domain.SessionConfig{TotalRounds: 1, QuestionsPerRound: 2, SecondsPerQuestion: 30}

	if _, err := service.StartSession(ctx, "host-1", cfg, []string{"A", "B"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	var second *app.Controller
	sessions.beforeDelete = func() {
		second, _ = service.StartSession(ctx, "host-1", cfg, []string{"C", "D"})
	}

	service.Abandon("host-1")
	got, err := service.Session("host-1")
	if err != nil || got != second || second == nil {
		t.Fatalf("session started during abandon must stay live, got %v", err)
	}
	if got.State().Phase != domain.PhaseInRound {
		t.Fatalf("expected successor in round, got %s", got.State().Phase)
	}
}

// remoteLiveSessions reports every host as live on some other instance.
type remoteLiveSessions struct {
	*memory.SessionStore
	checked int
}

func (r *remoteLiveSessions) Live(context.Context, string) (bool, error) {
	r.checked++
	return true, nil
}

func TestStartSessionConsultsSharedLiveness(t *testing.T) {
	ctx := context.Background()
	store := memory.NewQuestionStore()
	for _, q := range makeQuestions(2) {
		_, _ = store.Create(ctx, "host-1", q.Prompt, q.Answer)
	}
	var logs bytes.Buffer
	sessions := &remoteLiveSessions{SessionStore: memory.NewSessionStore()}
	service := app.NewHostService(sessions, memory.NewQuestionCache(store, time.Minute), store,
		memory.NewResultsStore(), app.WithHostScheduler(&manualScheduler{}),
		app.WithHostLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	cfg := domain.SessionConfig{TotalRounds: 1, QuestionsPerRound: 2, SecondsPerQuestion: 30}
	if _, err := service.StartSession(ctx, "host-1", cfg, []string{"A", "B"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if sessions.checked != 1 || !bytes.Contains(logs.Bytes(), []byte("live session on another instance")) {
		t.Fatalf("expected liveness consulted and warned, checked=%d logs=%q", sessions.checked, logs.String())
	}

	// the host's own session is local, so no remote check is needed
	if _, err := service.StartSession(ctx, "host-1", cfg, []string{"A", "B"}); err == nil && sessions.checked != 1 {
		t.Fatalf("expected no liveness check with a local session, checked=%d", sessions.checked)
	}
}

func TestQuestionWritesInvalidateCache(t *testing.T) {
	ctx := context.Background()
	service, _, store := newTestService(t, 0, nil)

	if _, err := service.CreateQuestion(ctx, "host-1", "  ", "x"); err != domain.ErrEmptyQuestion {
		t.Fatalf("expected empty question error, got %v", err)
	}
	if qs, _ := service.ListQuestions(ctx, "host-1"); len(qs) != 0 {
		t.Fatalf("expected no questions yet")
	}
	q, err := service.CreateQuestion(ctx, "host-1", " Capital of Peru? ", "Lima")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if q.Prompt != "Capital of Peru?" {
		t.Fatalf("expected trimmed prompt, got %q", q.Prompt)
	}
	if qs, _ := service.ListQuestions(ctx, "host-1"); len(qs) != 1 {
		t.Fatalf("expected cache invalidated after create, got %d", len(qs))
	}
	if _, err := service.UpdateQuestion(ctx, "host-2", q.ID, "a", "b"); err != domain.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	n, err := service.ImportQuestions(ctx, "host-1", []domain.Question{{Prompt: "1?", Answer: "1"}, {Prompt: "2?", Answer: ""}})
	if n != 1 || !errors.Is(err, domain.ErrEmptyQuestion) {
		t.Fatalf("expected import to stop at the blank answer, got %d %v", n, err)
	}
	if err := service.DeleteQuestion(ctx, "host-1", q.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if qs, _ := store.List(ctx, "host-1"); len(qs) != 1 {
		t.Fatalf("expected one imported question left, got %d", len(qs))
	}
}

func TestComputeTeamStats(t *testing.T) {
	stats := app.ComputeTeamStats(domain.HistoryRecord{
		TotalPossiblePoints: 10,
		Teams:               []domain.TeamResult{{Name: "A", ScoresByRound: []int{3, 5}, TotalScore: 8}},
	})
	if len(stats) != 1 || stats[0].AverageScore != 4 || stats[0].HighestRound != 5 || stats[0].LowestRound != 3 || stats[0].PercentOfPossible != 80 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func newTestService(t *testing.T, questions int, sink app.ResultsSink) (*app.HostService, *memory.ResultsStore, *memory.QuestionStore) {
	t.Helper()
	store := memory.NewQuestionStore()
	for _, q := range makeQuestions(questions) {
		if _, err := store.Create(context.Background(), "host-1", q.Prompt, q.Answer); err != nil {
			t.Fatalf("seed question: %v", err)
		}
	}
	results := memory.NewResultsStore()
	if sink == nil {
		sink = results
	}
	service := app.NewHostService(
		memory.NewSessionStore(),
		memory.NewQuestionCache(store, time.Minute),
		store,
		sink,
		app.WithHostClock(func() time.Time { return finishedAt }),
		app.WithHostScheduler(&manualScheduler{}),
		app.WithRandSource(func() *rand.Rand { return rand.New(rand.NewSource(3)) }),
		app.WithRetryDelay(time.Millisecond),
	)
	return service, results, store
}

// flakySink fails SaveHistory a fixed number of times.
type flakySink struct {
	*memory.ResultsStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakySink) SaveHistory(ctx context.Context, record domain.HistoryRecord) (string, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return "", errors.New("database unavailable")
	}
	return s.ResultsStore.SaveHistory(ctx, record)
}

func (s *flakySink) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestDefaultSecondsFillsMissingTimer(t *testing.T) {
	store := memory.NewQuestionStore()
	for _, q := range makeQuestions(2) {
		_, _ = store.Create(context.Background(), "host-1", q.Prompt, q.Answer)
	}
	service := app.NewHostService(memory.NewSessionStore(), memory.NewQuestionCache(store, time.Minute), store,
		memory.NewResultsStore(), app.WithHostScheduler(&manualScheduler{}), app.WithDefaultSeconds(45))

	ctrl, err := service.StartSession(context.Background(), "host-1", domain.SessionConfig{
		TotalRounds: 1, QuestionsPerRound: 2,
	}, []string{"A", "B"})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if ctrl.Config().SecondsPerQuestion != 45 || ctrl.State().TimeRemaining != 45 {
		t.Fatalf("expected default of 45 seconds, got %+v", ctrl.State())
	}
}
