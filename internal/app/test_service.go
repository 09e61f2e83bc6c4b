// Package app contains the test-administration use cases: assembling a
// blueprint, driving a live session, and persisting the score report.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"psychoprep-engine/internal/blueprint"
	"psychoprep-engine/internal/domain"
	"psychoprep-engine/internal/scoring"
	"psychoprep-engine/internal/session"
	"psychoprep-engine/internal/validator"
)

// SessionRepository abstracts how live sessions are stored (in-memory, Redis
// liveness, etc).
type SessionRepository interface {
	Put(s *TestSession)
	Get(id string) (*TestSession, bool)
	Delete(id string)
}

// ReportSink receives the completed score report plus session metadata. The
// engine does not define the storage schema, only this payload.
type ReportSink interface {
	SaveReport(ctx context.Context, report domain.ScoreReport, meta domain.SessionMeta) error
}

// Options tune session behavior for every test the service administers.
type Options struct {
	FeedbackEnabled bool
	TickInterval    time.Duration
	// WeightTables maps a blueprint's weight_name to its scoring weights.
	WeightTables map[string]domain.ScoreWeightConfig
	// PersistTimeout bounds the report write after scoring.
	PersistTimeout time.Duration
}

// TestService contains the core test-administration use cases.
type TestService struct {
	generator *blueprint.Generator
	scorer    *scoring.Engine
	sessions  SessionRepository
	sink      ReportSink
	opts      Options
	log       *zap.Logger
}

func NewTestService(
	bank blueprint.QuestionBank,
	sessions SessionRepository,
	sink ReportSink,
	opts Options,
	log *zap.Logger,
) *TestService {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	return &TestService{
		generator: blueprint.NewGenerator(bank, log),
		scorer:    scoring.NewEngine(log),
		sessions:  sessions,
		sink:      sink,
		opts:      opts,
		log:       log,
	}
}

// TestSession pairs one generated blueprint with its running machine and the
// snapshot subscribers watching it.
type TestSession struct {
	ID        string
	UserID    string
	Blueprint domain.Blueprint
	Machine   *session.Machine

	mu          sync.Mutex
	subscribers map[chan session.Snapshot]struct{}
	persistOnce sync.Once
}

// CreateSession generates a blueprint for the config and builds (but does not
// start) a session around it. ErrEmptyBlueprint propagates to the caller
// before any session exists.
func (s *TestService) CreateSession(ctx context.Context, userID string, cfg blueprint.Config) (*TestSession, error) {
	bp, err := s.generator.Generate(ctx, cfg)
	if err != nil {
		return nil, err
	}

	weights := s.opts.WeightTables[cfg.WeightName]
	ts := &TestSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		Blueprint:   bp,
		subscribers: make(map[chan session.Snapshot]struct{}),
	}

	scorer := func(bp domain.Blueprint, answers map[string]domain.SubmittedAnswer) (domain.ScoreReport, error) {
		return s.scorer.Score(bp, answers, weights, validator.IsCorrect), nil
	}
	ts.Machine = session.New(bp, scorer,
		session.WithFeedback(s.opts.FeedbackEnabled),
		session.WithTickInterval(s.opts.TickInterval),
		session.WithLogger(s.log),
		session.WithObserver(func(snap session.Snapshot) {
			ts.broadcast(snap)
			if snap.Phase == session.PhaseScored {
				s.persistReport(ts)
			}
		}),
	)

	s.sessions.Put(ts)
	s.log.Info("session created",
		zap.String("sessionId", ts.ID),
		zap.String("userId", userID),
		zap.String("testId", bp.ID),
		zap.Strings("skippedCategories", bp.SkippedCategories))
	return ts, nil
}

// Start kicks off the countdown for a created session.
func (s *TestService) Start(ctx context.Context, sessionID string) (session.Snapshot, error) {
	ts, ok := s.sessions.Get(sessionID)
	if !ok {
		return session.Snapshot{}, domain.ErrSessionNotFound
	}
	return ts.Machine.Start(ctx)
}

// ConfirmIntro acknowledges the current block intro.
func (s *TestService) ConfirmIntro(sessionID string) (session.Snapshot, error) {
	ts, ok := s.sessions.Get(sessionID)
	if !ok {
		return session.Snapshot{}, domain.ErrSessionNotFound
	}
	return ts.Machine.ConfirmIntro()
}

// SubmitAnswer records an answer for the session's current question.
func (s *TestService) SubmitAnswer(sessionID string, a domain.SubmittedAnswer) (*session.Feedback, session.Snapshot, error) {
	ts, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, session.Snapshot{}, domain.ErrSessionNotFound
	}
	return ts.Machine.SubmitAnswer(a)
}

// Advance moves past a feedback view.
func (s *TestService) Advance(sessionID string) (session.Snapshot, error) {
	ts, ok := s.sessions.Get(sessionID)
	if !ok {
		return session.Snapshot{}, domain.ErrSessionNotFound
	}
	return ts.Machine.Advance()
}

// SkipWait shortens the current memorize/distraction countdown.
func (s *TestService) SkipWait(sessionID string) (session.Snapshot, error) {
	ts, ok := s.sessions.Get(sessionID)
	if !ok {
		return session.Snapshot{}, domain.ErrSessionNotFound
	}
	return ts.Machine.SkipWait()
}

// Report returns the score report of a scored session.
func (s *TestService) Report(sessionID string) (domain.ScoreReport, error) {
	ts, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ScoreReport{}, domain.ErrSessionNotFound
	}
	return ts.Machine.Report()
}

// Abandon cancels the session's timers and drops it from the registry
// without scoring.
func (s *TestService) Abandon(sessionID string) {
	ts, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	ts.Machine.Abandon()
	ts.closeSubscribers()
	s.sessions.Delete(sessionID)
	s.log.Info("session abandoned", zap.String("sessionId", sessionID))
}

// Subscribe returns a channel receiving phase snapshots for a session.
// The caller must invoke the cancel function to avoid leaks.
func (s *TestService) Subscribe(sessionID string) (<-chan session.Snapshot, func(), error) {
	ts, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	return ts.subscribe()
}

// persistReport hands the report to the sink exactly once per session.
// A sink failure is logged, not fatal: the session itself stays scored.
func (s *TestService) persistReport(ts *TestSession) {
	ts.persistOnce.Do(func() {
		report, err := ts.Machine.Report()
		if err != nil {
			s.log.Error("report unavailable after scoring",
				zap.String("sessionId", ts.ID), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.PersistTimeout)
		defer cancel()
		if err := s.sink.SaveReport(ctx, report, ts.Machine.Meta(ts.UserID)); err != nil {
			s.log.Error("persist report failed",
				zap.String("sessionId", ts.ID),
				zap.String("testId", report.TestID),
				zap.Error(err))
			return
		}
		s.log.Info("report persisted",
			zap.String("sessionId", ts.ID),
			zap.Float64("totalScore", report.TotalScore),
			zap.Float64("percentage", report.PercentageScore))
	})
}

func (ts *TestSession) subscribe() (<-chan session.Snapshot, func(), error) {
	ch := make(chan session.Snapshot, 8)

	ts.mu.Lock()
	ts.subscribers[ch] = struct{}{}
	ts.mu.Unlock()

	cancel := func() {
		ts.mu.Lock()
		if _, ok := ts.subscribers[ch]; ok {
			delete(ts.subscribers, ch)
			close(ch)
		}
		ts.mu.Unlock()
	}
	return ch, cancel, nil
}

func (ts *TestSession) broadcast(snap session.Snapshot) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for ch := range ts.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the oldest update so a slow consumer never blocks the
			// session's timers.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (ts *TestSession) closeSubscribers() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for ch := range ts.subscribers {
		delete(ts.subscribers, ch)
		close(ch)
	}
}
