package session

import (
	"fmt"

	"psychoprep-engine/internal/domain"
)

// Phase is the tagged state of a running test session.
type Phase string

const (
	PhaseNotStarted  Phase = "not_started"
	PhaseBlockIntro  Phase = "block_intro"
	PhasePresenting  Phase = "presenting" // transient: resolved synchronously per question kind
	PhaseMemorize    Phase = "memorize"   // timed, input ignored except skip
	PhaseDistraction Phase = "distraction" // timed, sub-answer discarded
	PhaseRecall      Phase = "recall"     // answer-accepting phase of a memorize question
	PhaseAwaiting    Phase = "awaiting_answer"
	PhaseFeedback    Phase = "feedback"
	PhaseAdvancing   Phase = "advancing" // transient: resolved to next question, block, or completion
	PhaseCompleted   Phase = "completed"
	PhaseScored      Phase = "scored"
)

// acceptsAnswer reports whether SubmitAnswer is legal in the phase.
func (p Phase) acceptsAnswer() bool {
	return p == PhaseAwaiting || p == PhaseRecall
}

// terminal reports whether the session can no longer move.
func (p Phase) terminal() bool {
	return p == PhaseCompleted || p == PhaseScored
}

// timed reports whether the phase runs a countdown of its own.
func (p Phase) timed() bool {
	return p == PhaseMemorize || p == PhaseDistraction
}

// event drives the pure transition function.
type event int

const (
	evStart event = iota
	evConfirmIntro
	evAnswer
	evAdvance
	evPhaseExpired
	evTimeout
)

func (e event) String() string {
	switch e {
	case evStart:
		return "start"
	case evConfirmIntro:
		return "confirm_intro"
	case evAnswer:
		return "answer"
	case evAdvance:
		return "advance"
	case evPhaseExpired:
		return "phase_expired"
	case evTimeout:
		return "timeout"
	}
	return "unknown"
}

// state is the pure position of a session: phase plus a cursor into the
// blueprint. Timers, answers, and scoring live on the Machine, so this
// struct stays comparable and trivially testable.
type state struct {
	phase Phase
	block int // index into Blueprint.Blocks
	index int // index into Blueprint.Questions
}

// transition is the pure (state, event) -> state core. It never touches
// clocks or answer logs; the Machine layers those on top. Transient phases
// (Presenting, Advancing) are resolved before returning, so the result is
// always a stable phase.
func transition(bp domain.Blueprint, s state, ev event, feedback bool) (state, error) {
	switch ev {
	case evStart:
		if s.phase != PhaseNotStarted {
			return s, transitionErr(s.phase, ev)
		}
		if len(bp.Blocks) == 0 {
			return s, domain.ErrEmptyBlueprint
		}
		return state{phase: PhaseBlockIntro, block: 0, index: bp.Blocks[0].Start}, nil

	case evConfirmIntro:
		if s.phase != PhaseBlockIntro {
			return s, transitionErr(s.phase, ev)
		}
		return resolve(bp, state{phase: PhasePresenting, block: s.block, index: s.index}), nil

	case evAnswer:
		if !s.phase.acceptsAnswer() {
			return s, transitionErr(s.phase, ev)
		}
		if feedback {
			return state{phase: PhaseFeedback, block: s.block, index: s.index}, nil
		}
		return resolve(bp, state{phase: PhaseAdvancing, block: s.block, index: s.index}), nil

	case evAdvance:
		if s.phase != PhaseFeedback {
			return s, transitionErr(s.phase, ev)
		}
		return resolve(bp, state{phase: PhaseAdvancing, block: s.block, index: s.index}), nil

	case evPhaseExpired:
		return phaseExpired(bp, s)

	case evTimeout:
		if s.phase.terminal() {
			return s, transitionErr(s.phase, ev)
		}
		return state{phase: PhaseCompleted, block: s.block, index: s.index}, nil
	}
	return s, transitionErr(s.phase, ev)
}

// phaseExpired handles the countdown of a Memorize or Distraction phase
// reaching zero (or being skipped).
func phaseExpired(bp domain.Blueprint, s state) (state, error) {
	q := bp.Questions[s.index]

	switch s.phase {
	case PhaseMemorize:
		// An embedded interstitial runs between memorize and recall.
		if q.Memorize != nil && q.Memorize.Distraction != nil {
			return state{phase: PhaseDistraction, block: s.block, index: s.index}, nil
		}
		return state{phase: PhaseRecall, block: s.block, index: s.index}, nil

	case PhaseDistraction:
		if q.Kind == domain.KindMemorize {
			return state{phase: PhaseRecall, block: s.block, index: s.index}, nil
		}
		// Standalone interstitial: nothing to answer, move on.
		return resolve(bp, state{phase: PhaseAdvancing, block: s.block, index: s.index}), nil
	}
	return s, transitionErr(s.phase, evPhaseExpired)
}

// resolve collapses transient phases into the next stable one.
func resolve(bp domain.Blueprint, s state) state {
	for {
		switch s.phase {
		case PhasePresenting:
			switch bp.Questions[s.index].Kind {
			case domain.KindMemorize:
				s.phase = PhaseMemorize
			case domain.KindDistraction:
				s.phase = PhaseDistraction
			default:
				s.phase = PhaseAwaiting
			}
			return s

		case PhaseAdvancing:
			next := s.index + 1
			if next < bp.Blocks[s.block].End {
				s = state{phase: PhasePresenting, block: s.block, index: next}
				continue
			}
			nextBlock := s.block + 1
			if nextBlock < len(bp.Blocks) {
				return state{phase: PhaseBlockIntro, block: nextBlock, index: bp.Blocks[nextBlock].Start}
			}
			return state{phase: PhaseCompleted, block: s.block, index: s.index}

		default:
			return s
		}
	}
}

func transitionErr(p Phase, ev event) error {
	return fmt.Errorf("%w: %s in phase %s", domain.ErrInvalidTransition, ev, p)
}
