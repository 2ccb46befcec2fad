package app

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"trivia-host/internal/domain"
)

const tickInterval = time.Second

// FinalResult is emitted once when a session reaches PhaseFinalized.
type FinalResult struct {
	Config     domain.SessionConfig
	Teams      []domain.Team
	FinishedAt time.Time
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithRand injects the random source used for round selection.
func WithRand(rnd *rand.Rand) ControllerOption {
	return func(c *Controller) { c.rnd = rnd }
}

// WithScheduler replaces the wall-clock tick scheduler.
func WithScheduler(s Scheduler) ControllerOption {
	return func(c *Controller) { c.sched = s }
}

// WithClock sets the clock used for snapshot and result timestamps.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithFinalizeHook registers fn to receive the final standings. fn runs after
// the controller lock is released.
func WithFinalizeHook(fn func(FinalResult)) ControllerOption {
	return func(c *Controller) { c.onFinalize = fn }
}

// WithLogger sets the logger used for phase transitions.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) { c.log = logger }
}

// Controller is the state machine of one live quiz session. Every action and
// every timer tick runs under mu, so transitions never overlap.
type Controller struct {
	mu sync.Mutex

	cfg   domain.SessionConfig
	pool  *QuestionPool
	book  *ScoreBook
	used  UsedSet
	round []domain.Question
	state domain.SessionState
	err   error
	final []domain.Team

	rnd        *rand.Rand
	sched      Scheduler
	now        func() time.Time
	log        *slog.Logger
	onFinalize func(FinalResult)

	// pending is the scheduled countdown tick; gen invalidates ticks that
	// were already dispatched when pending was stopped.
	pending Stopper
	gen     uint64

	// released is set once the session is abandoned or replaced; later
	// subscribers get one snapshot and a closed channel.
	released    bool
	subscribers map[chan domain.Snapshot]struct{}
}

// NewController performs setup: the config, the teams and the pool size are
// all validated before a session exists.
func NewController(cfg domain.SessionConfig, teamNames []string, pool *QuestionPool, opts ...ControllerOption) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	book, err := NewScoreBook(teamNames, cfg.QuestionsPerRound)
	if err != nil {
		return nil, err
	}
	if pool.Size() < cfg.TotalQuestions() {
		return nil, &domain.InsufficientQuestionsError{Available: pool.Size(), Needed: cfg.TotalQuestions()}
	}

	c := &Controller{
		cfg:         cfg,
		pool:        pool,
		book:        book,
		used:        make(UsedSet),
		state:       domain.SessionState{Phase: domain.PhaseSetup, CurrentRound: 1},
		sched:       WallScheduler(),
		now:         time.Now,
		log:         slog.Default(),
		subscribers: make(map[chan domain.Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rnd == nil {
		c.rnd = rand.New(rand.NewSource(c.now().UnixNano()))
	}
	return c, nil
}

// Start enters round 1.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expectLocked(domain.PhaseSetup, "start"); err != nil {
		return err
	}
	return c.beginRoundLocked()
}

// Next moves to the following question, or to the round summary after the
// last one.
func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expectLocked(domain.PhaseInRound, "next"); err != nil {
		return err
	}
	c.advanceLocked()
	return nil
}

// Prev moves to the previous question. From the round summary it returns to
// the last question. At the first question it does nothing.
func (c *Controller) Prev() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase == domain.PhaseRoundSummary {
		return c.backLocked()
	}
	if err := c.expectLocked(domain.PhaseInRound, "prev"); err != nil {
		return err
	}
	if c.state.CurrentQuestionIndex == 0 {
		return nil
	}
	c.cancelTimerLocked()
	c.state.CurrentQuestionIndex--
	c.armTimerLocked()
	c.publishLocked()
	return nil
}

// Back leaves the round summary for the round's last question.
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backLocked()
}

// Pause stops the countdown without resetting it.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expectLocked(domain.PhaseInRound, "pause"); err != nil {
		return err
	}
	if c.state.Paused {
		return nil
	}
	c.cancelTimerLocked()
	c.state.Paused = true
	c.publishLocked()
	return nil
}

// Resume restarts the countdown from where it was paused.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expectLocked(domain.PhaseInRound, "resume"); err != nil {
		return err
	}
	if !c.state.Paused {
		return nil
	}
	c.state.Paused = false
	c.scheduleTickLocked()
	c.publishLocked()
	return nil
}

// Acknowledge confirms the round summary. Only now are the round's questions
// marked used, so an aborted round does not burn them.
func (c *Controller) Acknowledge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expectLocked(domain.PhaseRoundSummary, "acknowledge"); err != nil {
		return err
	}
	for _, q := range c.round {
		c.used.Add(q.ID)
	}
	c.transitionLocked(domain.PhaseScoringEntry)
	c.publishLocked()
	return nil
}

// Submit records the round's scores and ranks the teams. An invalid score
// leaves the session in scoring entry with no team changed.
func (c *Controller) Submit(scores map[string]string) ([]domain.Team, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expectLocked(domain.PhaseScoringEntry, "submit"); err != nil {
		return nil, err
	}
	if err := c.book.RecordRound(scores); err != nil {
		return nil, err
	}
	ranked := c.book.Rank()
	c.transitionLocked(domain.PhaseStandings)
	c.publishLocked()
	return ranked, nil
}

// Continue starts the next round, or finalizes after the last one.
func (c *Controller) Continue() error {
	c.mu.Lock()
	if err := c.expectLocked(domain.PhaseStandings, "continue"); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state.CurrentRound < c.cfg.TotalRounds {
		c.state.CurrentRound++
		err := c.beginRoundLocked()
		c.mu.Unlock()
		return err
	}

	c.final = c.book.Ranked()
	c.transitionLocked(domain.PhaseFinalized)
	c.publishLocked()
	result := FinalResult{Config: c.cfg, Teams: cloneTeams(c.final), FinishedAt: c.now()}
	hook := c.onFinalize
	c.mu.Unlock()

	if hook != nil {
		hook(result)
	}
	return nil
}

// Abandon discards the session and detaches every subscriber. Stored
// questions are not touched. A finished session keeps its phase.
func (c *Controller) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Phase.Terminal() {
		c.cancelTimerLocked()
		c.transitionLocked(domain.PhaseAbandoned)
		c.publishLocked()
	}
	c.released = true
	c.closeSubscribersLocked()
}

// State returns the current position.
func (c *Controller) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the session's fixed settings.
func (c *Controller) Config() domain.SessionConfig {
	return c.cfg
}

// Teams returns the teams in insertion order.
func (c *Controller) Teams() []domain.Team {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.book.Teams()
}

// Standings returns the most recent ranking.
func (c *Controller) Standings() []domain.Team {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.book.Ranked()
}

// RoundQuestions returns the current round's questions in presentation order.
func (c *Controller) RoundQuestions() []domain.Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Question(nil), c.round...)
}

// UsedCount returns how many questions have been marked used.
func (c *Controller) UsedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used.Len()
}

// Final returns the final standings once the session is finalized.
func (c *Controller) Final() ([]domain.Team, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != domain.PhaseFinalized {
		return nil, false
	}
	return cloneTeams(c.final), true
}

// Err returns the fatal error of a failed session.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Snapshot returns the read-only view of the session.
func (c *Controller) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel of snapshots, starting with the current one.
// The caller must invoke the returned cancel function to avoid leaks.
func (c *Controller) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 8)

	c.mu.Lock()
	// ch is empty, so the initial send cannot block
	ch <- c.snapshotLocked()
	if c.released {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Controller) expectLocked(phase domain.Phase, action string) error {
	switch c.state.Phase {
	case domain.PhaseFailed:
		return c.err
	case domain.PhaseFinalized, domain.PhaseAbandoned:
		return domain.ErrSessionFinished
	}
	if c.state.Phase != phase {
		return fmt.Errorf("%w: %s during %s", domain.ErrPhase, action, c.state.Phase)
	}
	return nil
}

func (c *Controller) beginRoundLocked() error {
	questions, err := SelectRound(c.pool, c.used, c.cfg.QuestionsPerRound, c.rnd)
	if err != nil {
		c.err = err
		c.transitionLocked(domain.PhaseFailed)
		c.log.Error("round start failed", "session", c.cfg.SessionName, "round", c.state.CurrentRound, "error", err)
		c.publishLocked()
		return err
	}
	c.round = questions
	c.state.CurrentQuestionIndex = 0
	c.transitionLocked(domain.PhaseInRound)
	c.armTimerLocked()
	c.publishLocked()
	return nil
}

func (c *Controller) advanceLocked() {
	c.cancelTimerLocked()
	if c.state.CurrentQuestionIndex+1 < len(c.round) {
		c.state.CurrentQuestionIndex++
		c.armTimerLocked()
	} else {
		c.state.TimeRemaining = 0
		c.state.Paused = false
		c.transitionLocked(domain.PhaseRoundSummary)
	}
	c.publishLocked()
}

func (c *Controller) backLocked() error {
	if err := c.expectLocked(domain.PhaseRoundSummary, "back"); err != nil {
		return err
	}
	c.state.CurrentQuestionIndex = len(c.round) - 1
	c.transitionLocked(domain.PhaseInRound)
	c.armTimerLocked()
	c.publishLocked()
	return nil
}

func (c *Controller) transitionLocked(next domain.Phase) {
	prev := c.state.Phase
	if !prev.CanTransitionTo(next) {
		// unreachable through the public API; keep the record straight anyway
		c.log.Warn("unexpected phase transition", "from", prev, "to", next)
	}
	c.state.Phase = next
	c.log.Info("phase transition", "session", c.cfg.SessionName, "from", prev, "to", next, "round", c.state.CurrentRound)
}

// armTimerLocked restarts the countdown for the current question.
func (c *Controller) armTimerLocked() {
	c.cancelTimerLocked()
	c.state.TimeRemaining = c.cfg.SecondsPerQuestion
	if !c.state.Paused {
		c.scheduleTickLocked()
	}
}

func (c *Controller) scheduleTickLocked() {
	c.cancelTimerLocked()
	gen := c.gen
	c.pending = c.sched.AfterFunc(tickInterval, func() { c.tick(gen) })
}

func (c *Controller) cancelTimerLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	c.gen++
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// a manual action got here first
	if gen != c.gen || c.state.Phase != domain.PhaseInRound || c.state.Paused {
		return
	}
	c.pending = nil
	if c.state.TimeRemaining > 0 {
		c.state.TimeRemaining--
	}
	if c.state.TimeRemaining == 0 {
		c.advanceLocked()
		return
	}
	c.scheduleTickLocked()
	c.publishLocked()
}

func (c *Controller) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		SessionName:       c.cfg.SessionName,
		State:             c.state,
		TotalRounds:       c.cfg.TotalRounds,
		QuestionsPerRound: c.cfg.QuestionsPerRound,
		Teams:             c.book.Ranked(),
		UpdatedAt:         c.now(),
	}
	switch c.state.Phase {
	case domain.PhaseInRound:
		q := c.round[c.state.CurrentQuestionIndex]
		snap.Question = &domain.PublicPrompt{Number: c.state.CurrentQuestionIndex + 1, Prompt: q.Prompt}
	case domain.PhaseScoringEntry:
		snap.CorrectAnswers = append([]domain.Question(nil), c.round...)
	case domain.PhaseFailed:
		if c.err != nil {
			snap.Error = c.err.Error()
		}
	}
	return snap
}

func (c *Controller) publishLocked() {
	if len(c.subscribers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
			// slow reader: replace its oldest pending snapshot
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (c *Controller) closeSubscribersLocked() {
	for ch := range c.subscribers {
		delete(c.subscribers, ch)
		close(ch)
	}
}
