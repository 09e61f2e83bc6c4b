// Package session drives the runtime progression of one generated test:
// phase transitions, timers, answer collection, auto-advance, and the
// auto-submit on expiry. The pure transition core lives in phase.go; this
// file owns the mutable session plus its timers.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"psychoprep-engine/internal/domain"
	"psychoprep-engine/internal/validator"
)

// Scorer grades a completed answer log. The answers map is a snapshot; the
// machine never hands out its live log.
type Scorer func(bp domain.Blueprint, answers map[string]domain.SubmittedAnswer) (domain.ScoreReport, error)

// Feedback is the immediate-correctness result returned when feedback mode
// is enabled for the test.
type Feedback struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
}

// Snapshot is a read-only view of the session for transports and tests.
type Snapshot struct {
	Phase            Phase            `json:"phase"`
	BlockIndex       int              `json:"blockIndex"`
	Category         domain.Category  `json:"category,omitempty"`
	QuestionIndex    int              `json:"questionIndex"`
	TotalQuestions   int              `json:"totalQuestions"`
	Question         *domain.Question `json:"-"`
	OverallRemaining time.Duration    `json:"overallRemaining"`
	PhaseRemaining   time.Duration    `json:"phaseRemaining"`
	Answered         int              `json:"answered"`
}

// Machine owns the runtime state of one session. All mutation happens under
// one mutex; the ticker goroutine and the caller are the only writers, and
// expiry checks run before user input is applied, so a phase deadline always
// beats a late action arriving in the same tick.
type Machine struct {
	mu sync.Mutex

	bp       domain.Blueprint
	st       state
	answers  map[string]domain.SubmittedAnswer
	feedback bool
	scorer   Scorer
	log      *zap.Logger

	now             func() time.Time
	tickInterval    time.Duration
	cancelTicker    context.CancelFunc
	overallDeadline time.Time
	phaseDeadline   time.Time

	startedAt   time.Time
	completedAt time.Time
	timedOut    bool
	abandoned   bool

	scored   bool
	report   *domain.ScoreReport
	scoreErr error

	observer func(Snapshot)
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock injects the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithFeedback enables per-answer correctness feedback.
func WithFeedback(enabled bool) Option {
	return func(m *Machine) { m.feedback = enabled }
}

// WithTickInterval sets the countdown granularity. Zero disables the internal
// ticker entirely; the owner then drives Tick itself.
func WithTickInterval(d time.Duration) Option {
	return func(m *Machine) { m.tickInterval = d }
}

// WithObserver registers a callback invoked after every phase change. The
// callback runs outside the machine lock and may call back in.
func WithObserver(fn func(Snapshot)) Option {
	return func(m *Machine) { m.observer = fn }
}

// WithLogger attaches a logger for lifecycle events.
func WithLogger(log *zap.Logger) Option {
	return func(m *Machine) { m.log = log }
}

// New builds a machine for one blueprint. The scorer is required; it runs
// exactly once on the Completed -> Scored edge.
func New(bp domain.Blueprint, scorer Scorer, opts ...Option) *Machine {
	m := &Machine{
		bp:           bp,
		st:           state{phase: PhaseNotStarted},
		answers:      make(map[string]domain.SubmittedAnswer),
		scorer:       scorer,
		now:          time.Now,
		tickInterval: time.Second,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins the session: NotStarted -> BlockIntro, arms the overall
// countdown, and launches the ticker goroutine. The ticker is cancelled on
// every exit path (completion, timeout, abandonment).
func (m *Machine) Start(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()

	next, err := transition(m.bp, m.st, evStart, m.feedback)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	now := m.now()
	m.st = next
	m.startedAt = now
	m.overallDeadline = now.Add(m.bp.TimeLimit)

	if m.tickInterval > 0 {
		tickerCtx, cancel := context.WithCancel(ctx)
		m.cancelTicker = cancel
		go m.runTicker(tickerCtx)
	}

	m.log.Info("session started",
		zap.String("testId", m.bp.ID),
		zap.Int("questions", len(m.bp.Questions)),
		zap.Duration("timeLimit", m.bp.TimeLimit))

	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
	return snap, nil
}

// ConfirmIntro acknowledges a block intro and presents the first question of
// the block, arming its phase timer when the question kind needs one.
func (m *Machine) ConfirmIntro() (Snapshot, error) {
	return m.apply(evConfirmIntro)
}

// SubmitAnswer records an answer for the current question. Re-answering is
// allowed only while the same question is still awaiting input (last write
// wins); once the session advanced, the answer is immutable. Expiry is
// applied first, so an answer racing a deadline is discarded.
func (m *Machine) SubmitAnswer(a domain.SubmittedAnswer) (*Feedback, Snapshot, error) {
	m.mu.Lock()

	now := m.now()
	if expired := m.applyExpiryLocked(now); expired {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		m.notify(snap)
		return nil, snap, domain.ErrSessionExpired
	}

	if !m.st.phase.acceptsAnswer() {
		m.mu.Unlock()
		return nil, Snapshot{}, transitionErr(m.st.phase, evAnswer)
	}

	current := m.bp.Questions[m.st.index]
	if a.QuestionID != current.ID {
		if _, ok := m.bp.QuestionByID(a.QuestionID); !ok {
			m.mu.Unlock()
			return nil, Snapshot{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotInBlueprint, a.QuestionID)
		}
		m.mu.Unlock()
		return nil, Snapshot{}, fmt.Errorf("%w: answer for %s while presenting %s",
			domain.ErrInvalidTransition, a.QuestionID, current.ID)
	}

	a.SubmittedAt = now
	m.answers[a.QuestionID] = a

	next, err := transition(m.bp, m.st, evAnswer, m.feedback)
	if err != nil {
		m.mu.Unlock()
		return nil, Snapshot{}, err
	}
	m.enterLocked(next, now)

	var fb *Feedback
	if m.feedback {
		fb = &Feedback{QuestionID: a.QuestionID, Correct: validator.IsCorrect(current, &a)}
	}

	m.maybeScoreLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
	return fb, snap, nil
}

// Advance moves past the feedback view to the next question, block intro, or
// completion.
func (m *Machine) Advance() (Snapshot, error) {
	return m.apply(evAdvance)
}

// SkipWait cuts a Memorize or Distraction countdown short. It is the only
// input those phases accept.
func (m *Machine) SkipWait() (Snapshot, error) {
	m.mu.Lock()

	now := m.now()
	if expired := m.applyExpiryLocked(now); expired {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		m.notify(snap)
		return snap, domain.ErrSessionExpired
	}
	if !m.st.phase.timed() {
		m.mu.Unlock()
		return Snapshot{}, transitionErr(m.st.phase, evPhaseExpired)
	}

	next, err := transition(m.bp, m.st, evPhaseExpired, m.feedback)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	m.enterLocked(next, now)
	m.maybeScoreLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
	return snap, nil
}

// Tick applies clock-driven transitions: phase countdowns first, then the
// overall deadline. Safe to call after completion; expiry is idempotent.
func (m *Machine) Tick(now time.Time) {
	m.mu.Lock()

	changed := false
	if m.st.phase.timed() && !m.phaseDeadline.IsZero() && !now.Before(m.phaseDeadline) {
		if next, err := transition(m.bp, m.st, evPhaseExpired, m.feedback); err == nil {
			m.enterLocked(next, now)
			m.maybeScoreLocked()
			changed = true
		}
	}
	if m.applyExpiryLocked(now) {
		changed = true
	}

	if !changed {
		m.mu.Unlock()
		return
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
}

// Abandon cancels all timers and disposes the session without scoring.
func (m *Machine) Abandon() {
	m.mu.Lock()
	if m.st.phase.terminal() {
		m.mu.Unlock()
		return
	}
	m.abandoned = true
	m.st = state{phase: PhaseCompleted, block: m.st.block, index: m.st.index}
	m.completedAt = m.now()
	m.stopTickerLocked()
	m.log.Info("session abandoned", zap.String("testId", m.bp.ID))
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
}

// Report returns the score report once the session reached Scored. A scoring
// failure on the timeout path is surfaced here without un-completing the
// session.
func (m *Machine) Report() (domain.ScoreReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scoreErr != nil {
		return domain.ScoreReport{}, m.scoreErr
	}
	if m.report == nil {
		return domain.ScoreReport{}, fmt.Errorf("%w: report requested in phase %s", domain.ErrInvalidTransition, m.st.phase)
	}
	return *m.report, nil
}

// Meta describes the finished session for the result store.
func (m *Machine) Meta(userID string) domain.SessionMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.SessionMeta{
		UserID:      userID,
		TestID:      m.bp.ID,
		StartedAt:   m.startedAt,
		CompletedAt: m.completedAt,
		TimeSpent:   m.completedAt.Sub(m.startedAt),
		TimedOut:    m.timedOut,
	}
}

// Snapshot returns the current view.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Abandoned reports whether the session was explicitly discarded.
func (m *Machine) Abandoned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abandoned
}

// apply runs one user-driven event through the pure core under the lock.
func (m *Machine) apply(ev event) (Snapshot, error) {
	m.mu.Lock()

	now := m.now()
	if expired := m.applyExpiryLocked(now); expired {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		m.notify(snap)
		return snap, domain.ErrSessionExpired
	}

	next, err := transition(m.bp, m.st, ev, m.feedback)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	m.enterLocked(next, now)
	m.maybeScoreLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
	return snap, nil
}

// enterLocked installs a new state and arms or clears the phase countdown.
func (m *Machine) enterLocked(next state, now time.Time) {
	m.st = next
	m.phaseDeadline = time.Time{}

	if !next.phase.timed() {
		return
	}
	q := m.bp.Questions[next.index]
	var seconds int
	switch next.phase {
	case PhaseMemorize:
		if q.Memorize != nil {
			seconds = q.Memorize.MemorizeSeconds
		}
	case PhaseDistraction:
		switch {
		case q.Kind == domain.KindMemorize && q.Memorize != nil && q.Memorize.Distraction != nil:
			seconds = q.Memorize.Distraction.DisplaySeconds
		case q.Distraction != nil:
			seconds = q.Distraction.DisplaySeconds
		}
	}
	if seconds <= 0 {
		seconds = 1
	}
	m.phaseDeadline = now.Add(time.Duration(seconds) * time.Second)
}

// applyExpiryLocked forces Completed when the overall countdown is spent.
// Returns true if the deadline has passed (whether or not this call was the
// one to complete the session); a second expiry tick is a no-op.
func (m *Machine) applyExpiryLocked(now time.Time) bool {
	if m.overallDeadline.IsZero() || now.Before(m.overallDeadline) {
		return false
	}
	if m.st.phase.terminal() {
		return true
	}
	next, err := transition(m.bp, m.st, evTimeout, m.feedback)
	if err != nil {
		// evTimeout only fails on terminal phases, ruled out above.
		return true
	}
	m.timedOut = true
	m.st = next
	m.log.Info("session timed out, auto-submitting",
		zap.String("testId", m.bp.ID),
		zap.Int("answered", len(m.answers)))
	m.maybeScoreLocked()
	return true
}

// maybeScoreLocked runs the Completed -> Scored edge exactly once. A scoring
// failure leaves the session Completed and records the error; time-based
// completion must not be lost because grading threw.
func (m *Machine) maybeScoreLocked() {
	if m.st.phase != PhaseCompleted || m.scored || m.abandoned {
		return
	}
	m.scored = true
	m.completedAt = m.now()
	m.stopTickerLocked()

	report, err := m.scorer(m.bp, m.answersSnapshotLocked())
	if err != nil {
		m.scoreErr = err
		m.log.Error("scoring failed after completion",
			zap.String("testId", m.bp.ID), zap.Error(err))
		return
	}
	m.report = &report
	m.st.phase = PhaseScored
}

func (m *Machine) answersSnapshotLocked() map[string]domain.SubmittedAnswer {
	out := make(map[string]domain.SubmittedAnswer, len(m.answers))
	for id, a := range m.answers {
		out[id] = a
	}
	return out
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:          m.st.phase,
		BlockIndex:     m.st.block,
		QuestionIndex:  m.st.index,
		TotalQuestions: len(m.bp.Questions),
		Answered:       len(m.answers),
	}
	if len(m.bp.Blocks) > 0 && m.st.block < len(m.bp.Blocks) {
		snap.Category = m.bp.Blocks[m.st.block].Category
	}
	if !m.st.phase.terminal() && m.st.phase != PhaseNotStarted && m.st.index < len(m.bp.Questions) {
		q := m.bp.Questions[m.st.index]
		snap.Question = &q
	}
	now := m.now()
	if !m.overallDeadline.IsZero() {
		snap.OverallRemaining = maxDuration(m.overallDeadline.Sub(now), 0)
	}
	if !m.phaseDeadline.IsZero() {
		snap.PhaseRemaining = maxDuration(m.phaseDeadline.Sub(now), 0)
	}
	return snap
}

func (m *Machine) notify(snap Snapshot) {
	if m.observer != nil {
		m.observer(snap)
	}
}

// runTicker drives the countdowns. It lives exactly as long as the session:
// stopTickerLocked cancels the context on every exit path so no stale
// callback can mutate a disposed session.
func (m *Machine) runTicker(ctx context.Context) {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(m.now())
		}
	}
}

func (m *Machine) stopTickerLocked() {
	if m.cancelTicker != nil {
		m.cancelTicker()
		m.cancelTicker = nil
	}
}

func maxDuration(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}
