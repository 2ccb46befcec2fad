package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"trivia-host/internal/domain"
)

const unnamedQuiz = "Unnamed Quiz"

// SessionRepository abstracts where live controllers are kept (in-memory, Redis, etc).
type SessionRepository interface {
	// Put stores c for hostID and returns the controller it replaced, if any.
	Put(hostID string, c *Controller) (*Controller, bool)
	Get(hostID string) (*Controller, bool)
	// DeleteIf removes hostID only while it still maps to c.
	DeleteIf(hostID string, c *Controller) bool
}

// LivenessChecker is implemented by session repositories shared between
// instances. It reports whether any instance holds a live session for hostID.
type LivenessChecker interface {
	Live(ctx context.Context, hostID string) (bool, error)
}

// QuestionRepository is the cached read path for a host's questions.
type QuestionRepository interface {
	ListQuestions(ctx context.Context, ownerID string) ([]domain.Question, error)
	Invalidate(ctx context.Context, ownerID string)
}

// QuestionStore is the authoritative question storage.
type QuestionStore interface {
	List(ctx context.Context, ownerID string) ([]domain.Question, error)
	Create(ctx context.Context, ownerID, prompt, answer string) (domain.Question, error)
	Update(ctx context.Context, ownerID, id, prompt, answer string) (domain.Question, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// ResultsSink persists finished sessions and team archives.
type ResultsSink interface {
	SaveHistory(ctx context.Context, record domain.HistoryRecord) (string, error)
	AppendTeamArchive(ctx context.Context, ownerID, teamName string, result domain.QuizResult) error
	ListHistory(ctx context.Context, ownerID string) ([]domain.HistoryRecord, error)
	GetHistory(ctx context.Context, ownerID, id string) (domain.HistoryRecord, error)
	DeleteHistory(ctx context.Context, ownerID, id string) error
	ListTeamArchives(ctx context.Context, ownerID string) ([]domain.TeamArchive, error)
}

// PersistOutcome reports how the last finalized session of a host was saved.
type PersistOutcome struct {
	RecordID string `json:"recordId,omitempty"`
	Err      error  `json:"-"`
	Warning  string `json:"warning,omitempty"`
}

// HostService wires controllers to storage. One session per host is live at a time.
type HostService struct {
	sessions   SessionRepository
	questions  QuestionRepository
	store      QuestionStore
	results    ResultsSink
	log        *slog.Logger
	now        func() time.Time
	retryDelay time.Duration
	scheduler  Scheduler
	newRand    func() *rand.Rand
	defaultSec int

	persisting sync.WaitGroup
	mu         sync.Mutex
	outcomes   map[string]PersistOutcome
}

// HostOption customizes a HostService.
type HostOption func(*HostService)

// WithRetryDelay sets the pause before the single persistence retry.
func WithRetryDelay(d time.Duration) HostOption {
	return func(s *HostService) { s.retryDelay = d }
}

// WithHostClock sets the clock used for history timestamps.
func WithHostClock(now func() time.Time) HostOption {
	return func(s *HostService) { s.now = now }
}

// WithHostScheduler sets the tick scheduler handed to new controllers.
func WithHostScheduler(sched Scheduler) HostOption {
	return func(s *HostService) { s.scheduler = sched }
}

// WithRandSource sets the factory for per-session random sources.
func WithRandSource(fn func() *rand.Rand) HostOption {
	return func(s *HostService) { s.newRand = fn }
}

// WithDefaultSeconds fills secondsPerQuestion when a start request omits it.
func WithDefaultSeconds(seconds int) HostOption {
	return func(s *HostService) { s.defaultSec = seconds }
}

// WithHostLogger sets the service logger.
func WithHostLogger(logger *slog.Logger) HostOption {
	return func(s *HostService) { s.log = logger }
}

func NewHostService(sessions SessionRepository, questions QuestionRepository, store QuestionStore, results ResultsSink, opts ...HostOption) *HostService {
	s := &HostService{
		sessions:   sessions,
		questions:  questions,
		store:      store,
		results:    results,
		log:        slog.Default(),
		now:        time.Now,
		retryDelay: time.Second,
		scheduler:  WallScheduler(),
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
		outcomes: make(map[string]PersistOutcome),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession builds a controller from the host's questions and enters round 1.
// Any previous session of the host is abandoned.
func (s *HostService) StartSession(ctx context.Context, hostID string, cfg domain.SessionConfig, teams []string) (*Controller, error) {
	if checker, ok := s.sessions.(LivenessChecker); ok {
		if _, local := s.sessions.Get(hostID); !local {
			if live, err := checker.Live(ctx, hostID); err == nil && live {
				s.log.Warn("host already has a live session on another instance", "host", hostID)
			}
		}
	}

	questions, err := s.questions.ListQuestions(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if strings.TrimSpace(cfg.SessionName) == "" {
		cfg.SessionName = unnamedQuiz
	}
	if cfg.SecondsPerQuestion == 0 && s.defaultSec > 0 {
		cfg.SecondsPerQuestion = s.defaultSec
	}

	ctrl, err := NewController(cfg, teams, NewQuestionPool(questions),
		WithRand(s.newRand()),
		WithScheduler(s.scheduler),
		WithClock(s.now),
		WithLogger(s.log.With("host", hostID)),
		WithFinalizeHook(func(result FinalResult) { s.persist(hostID, result) }),
	)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Start(); err != nil {
		return nil, err
	}
	if prev, ok := s.sessions.Put(hostID, ctrl); ok && prev != ctrl {
		prev.Abandon()
	}
	s.log.Info("session started", "host", hostID, "session", cfg.SessionName, "teams", len(teams), "pool", len(questions))
	return ctrl, nil
}

// Session returns the host's live controller.
func (s *HostService) Session(hostID string) (*Controller, error) {
	ctrl, ok := s.sessions.Get(hostID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return ctrl, nil
}

// Abandon discards the host's session without touching stored questions.
func (s *HostService) Abandon(hostID string) {
	ctrl, ok := s.sessions.Get(hostID)
	if !ok {
		return
	}
	ctrl.Abandon()
	s.sessions.DeleteIf(hostID, ctrl)
}

// LastPersist returns the outcome of the host's most recent save.
func (s *HostService) LastPersist(hostID string) (PersistOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outcomes[hostID]
	return out, ok
}

// WaitPersisted blocks until in-flight saves are done or ctx ends.
func (s *HostService) WaitPersisted(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.persisting.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persist saves a finished session in the background. Failures are retried
// once and then reported; the in-memory result is never rolled back.
func (s *HostService) persist(hostID string, result FinalResult) {
	record := BuildHistoryRecord(hostID, result)
	s.persisting.Add(1)
	go func() {
		defer s.persisting.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		outcome := PersistOutcome{}
		id, err := retryOnce(ctx, s.retryDelay, func() (string, error) {
			return s.results.SaveHistory(ctx, record)
		})
		if err != nil {
			outcome.Err = &domain.PersistenceError{Op: "history", Err: err}
		} else {
			outcome.RecordID = id
			outcome.Err = s.archiveTeams(ctx, hostID, record)
		}
		if outcome.Err != nil {
			outcome.Warning = outcome.Err.Error()
			s.log.Warn("session results not saved", "host", hostID, "session", record.SessionName, "error", outcome.Err)
		} else {
			s.log.Info("session results saved", "host", hostID, "record", id)
		}

		s.mu.Lock()
		s.outcomes[hostID] = outcome
		s.mu.Unlock()
	}()
}

func (s *HostService) archiveTeams(ctx context.Context, ownerID string, record domain.HistoryRecord) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, team := range record.Teams {
		team := team
		result := domain.QuizResult{
			QuizID:    record.QuizID,
			QuizName:  record.SessionName,
			Date:      record.CreatedAt,
			Score:     team.TotalScore,
			Placement: team.Placement,
			Rounds:    append([]int{}, team.ScoresByRound...),
		}
		g.Go(func() error {
			_, err := retryOnce(gctx, s.retryDelay, func() (struct{}, error) {
				return struct{}{}, s.results.AppendTeamArchive(gctx, ownerID, team.Name, result)
			})
			if err != nil {
				return &domain.PersistenceError{Op: "team archive " + team.Name, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

func retryOnce[T any](ctx context.Context, delay time.Duration, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil {
		return v, nil
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return v, errors.Join(err, ctx.Err())
	}
	return fn()
}

// BuildHistoryRecord converts final standings into the persisted summary.
func BuildHistoryRecord(ownerID string, result FinalResult) domain.HistoryRecord {
	name := strings.TrimSpace(result.Config.SessionName)
	if name == "" {
		name = unnamedQuiz
	}
	teams := make([]domain.TeamResult, 0, len(result.Teams))
	for _, t := range result.Teams {
		teams = append(teams, domain.TeamResult{
			Name:          t.Name,
			ScoresByRound: append([]int{}, t.ScoresByRound...),
			TotalScore:    t.CumulativeScore,
			Placement:     t.Placement,
		})
	}
	at := result.FinishedAt
	return domain.HistoryRecord{
		OwnerID:             ownerID,
		QuizID:              strconv.FormatInt(at.UnixMilli(), 10),
		SessionName:         name,
		Date:                at.Format("02/01/2006"),
		Time:                at.Format("15:04"),
		TotalRounds:         result.Config.TotalRounds,
		QuestionsPerRound:   result.Config.QuestionsPerRound,
		TotalPossiblePoints: result.Config.TotalQuestions(),
		Teams:               teams,
		CreatedAt:           at,
	}
}

// ListQuestions returns the host's questions through the cache.
func (s *HostService) ListQuestions(ctx context.Context, ownerID string) ([]domain.Question, error) {
	return s.questions.ListQuestions(ctx, ownerID)
}

// CreateQuestion stores a new question for the owner.
func (s *HostService) CreateQuestion(ctx context.Context, ownerID, prompt, answer string) (domain.Question, error) {
	prompt, answer, err := cleanQuestion(prompt, answer)
	if err != nil {
		return domain.Question{}, err
	}
	q, err := s.store.Create(ctx, ownerID, prompt, answer)
	if err != nil {
		return domain.Question{}, err
	}
	s.questions.Invalidate(ctx, ownerID)
	return q, nil
}

// UpdateQuestion edits a question; ErrNotFound if it is not the owner's.
func (s *HostService) UpdateQuestion(ctx context.Context, ownerID, id, prompt, answer string) (domain.Question, error) {
	prompt, answer, err := cleanQuestion(prompt, answer)
	if err != nil {
		return domain.Question{}, err
	}
	q, err := s.store.Update(ctx, ownerID, id, prompt, answer)
	if err != nil {
		return domain.Question{}, err
	}
	s.questions.Invalidate(ctx, ownerID)
	return q, nil
}

// DeleteQuestion removes a question; ErrNotFound if it is not the owner's.
func (s *HostService) DeleteQuestion(ctx context.Context, ownerID, id string) error {
	if err := s.store.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.questions.Invalidate(ctx, ownerID)
	return nil
}

// ImportQuestions creates every question in order and stops at the first failure.
func (s *HostService) ImportQuestions(ctx context.Context, ownerID string, questions []domain.Question) (int, error) {
	created := 0
	defer func() {
		if created > 0 {
			s.questions.Invalidate(ctx, ownerID)
		}
	}()
	for i, q := range questions {
		prompt, answer, err := cleanQuestion(q.Prompt, q.Answer)
		if err != nil {
			return created, fmt.Errorf("question %d: %w", i+1, err)
		}
		if _, err := s.store.Create(ctx, ownerID, prompt, answer); err != nil {
			return created, fmt.Errorf("question %d: %w", i+1, err)
		}
		created++
	}
	return created, nil
}

// ListHistory returns the owner's finished sessions.
func (s *HostService) ListHistory(ctx context.Context, ownerID string) ([]domain.HistoryRecord, error) {
	return s.results.ListHistory(ctx, ownerID)
}

// DeleteHistory removes a record and strips it from the team archives.
func (s *HostService) DeleteHistory(ctx context.Context, ownerID, id string) error {
	return s.results.DeleteHistory(ctx, ownerID, id)
}

// ListTeamArchives returns the owner's non-empty team archives.
func (s *HostService) ListTeamArchives(ctx context.Context, ownerID string) ([]domain.TeamArchive, error) {
	return s.results.ListTeamArchives(ctx, ownerID)
}

// HistoryStats computes per-team statistics for one history record.
func (s *HostService) HistoryStats(ctx context.Context, ownerID, id string) ([]domain.TeamStats, error) {
	record, err := s.results.GetHistory(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return ComputeTeamStats(record), nil
}

func cleanQuestion(prompt, answer string) (string, string, error) {
	prompt = strings.TrimSpace(prompt)
	answer = strings.TrimSpace(answer)
	if prompt == "" || answer == "" {
		return "", "", domain.ErrEmptyQuestion
	}
	return prompt, answer, nil
}
