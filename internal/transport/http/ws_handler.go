package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"psychoprep-engine/internal/app"
	"psychoprep-engine/internal/blueprint"
	"psychoprep-engine/internal/domain"
	"psychoprep-engine/internal/session"
)

type WSHandler struct {
	service  *app.TestService
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.TestService, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type createPayload struct {
	Categories []blueprint.CategoryRequest `json:"categories"`
	TimeLimit  int                         `json:"timeLimitSeconds"`
	WeightName string                      `json:"weightName"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId,omitempty"`
	ImageIndex *int   `json:"imageIndex,omitempty"`
	Value      string `json:"value,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type sessionPayload struct {
	SessionID         string            `json:"sessionId"`
	TestID            string            `json:"testId"`
	TotalQuestions    int               `json:"totalQuestions"`
	Blocks            []domain.Block    `json:"blocks"`
	TimeLimitSeconds  int               `json:"timeLimitSeconds"`
	SkippedCategories []domain.Category `json:"skippedCategories,omitempty"`
}

// questionView is the client-safe projection of a question: answer keys,
// recall targets, and expected values never cross the wire.
type questionView struct {
	ID       string              `json:"id"`
	Kind     domain.QuestionKind `json:"kind"`
	Category domain.Category     `json:"category"`
	Prompt   string              `json:"prompt,omitempty"`
	Options  []optionView        `json:"options,omitempty"`
	Images   []string            `json:"images,omitempty"`
	Terms    []string            `json:"terms,omitempty"`
}

type optionView struct {
	ID    string `json:"id"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type phasePayload struct {
	Phase            session.Phase   `json:"phase"`
	Category         domain.Category `json:"category,omitempty"`
	QuestionIndex    int             `json:"questionIndex"`
	TotalQuestions   int             `json:"totalQuestions"`
	Answered         int             `json:"answered"`
	OverallRemaining int             `json:"overallRemainingSeconds"`
	PhaseRemaining   int             `json:"phaseRemainingSeconds,omitempty"`
	Question         *questionView   `json:"question,omitempty"`
}

// ServeWS upgrades HTTP requests to websockets and drives one test session
// per connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	// updatesDone belongs to the latest forwarder goroutine; a re-create
	// after abandon replaces it, so teardown only waits on the current one.
	var (
		sessionID     string
		cancelUpdates func()
		updatesDone   chan struct{}
	)
	defer func() {
		if cancelUpdates != nil {
			cancelUpdates()
		}
		close(closeSignals)
		if updatesDone != nil {
			<-updatesDone
		}
		close(send)
		<-writerDone
		if sessionID != "" {
			h.service.Abandon(sessionID)
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}

		switch inbound.Type {
		case "create":
			if sessionID != "" {
				send <- errorMsg("session already created")
				continue
			}
			var payload createPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMsg("invalid create payload")
				continue
			}
			ts, err := h.service.CreateSession(r.Context(), userID, blueprint.Config{
				Categories: payload.Categories,
				TimeLimit:  time.Duration(payload.TimeLimit) * time.Second,
				WeightName: payload.WeightName,
			})
			if err != nil {
				send <- errorMsg(err.Error())
				continue
			}
			sessionID = ts.ID

			updates, cancel, err := h.service.Subscribe(sessionID)
			if err != nil {
				send <- errorMsg(err.Error())
				continue
			}
			cancelUpdates = cancel
			done := make(chan struct{})
			updatesDone = done
			sid := ts.ID
			go func() {
				defer close(done)
				for {
					select {
					case snap, ok := <-updates:
						if !ok {
							return
						}
						select {
						case send <- outboundMessage[any]{Type: "phase", Payload: toPhasePayload(snap)}:
						case <-closeSignals:
							return
						}
						if snap.Phase == session.PhaseScored {
							if report, err := h.service.Report(sid); err == nil {
								select {
								case send <- outboundMessage[any]{Type: "report", Payload: report}:
								case <-closeSignals:
									return
								}
							}
						}
					case <-closeSignals:
						return
					}
				}
			}()

			send <- outboundMessage[any]{Type: "session", Payload: sessionPayload{
				SessionID:         ts.ID,
				TestID:            ts.Blueprint.ID,
				TotalQuestions:    len(ts.Blueprint.Questions),
				Blocks:            ts.Blueprint.Blocks,
				TimeLimitSeconds:  int(ts.Blueprint.TimeLimit / time.Second),
				SkippedCategories: ts.Blueprint.SkippedCategories,
			}}

		case "start":
			if sessionID == "" {
				send <- errorMsg("no session created")
				continue
			}
			if _, err := h.service.Start(r.Context(), sessionID); err != nil {
				send <- errorMsg(err.Error())
			}

		case "confirmIntro":
			if _, err := h.service.ConfirmIntro(sessionID); err != nil {
				send <- errorMsg(err.Error())
			}

		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMsg("invalid answer payload")
				continue
			}
			fb, _, err := h.service.SubmitAnswer(sessionID, domain.SubmittedAnswer{
				QuestionID: payload.QuestionID,
				OptionID:   payload.OptionID,
				ImageIndex: payload.ImageIndex,
				Value:      payload.Value,
			})
			if err != nil {
				send <- errorMsg(err.Error())
				continue
			}
			if fb != nil {
				send <- outboundMessage[any]{Type: "feedback", Payload: fb}
			}

		case "advance":
			if _, err := h.service.Advance(sessionID); err != nil {
				send <- errorMsg(err.Error())
			}

		case "skip":
			if _, err := h.service.SkipWait(sessionID); err != nil {
				send <- errorMsg(err.Error())
			}

		case "abandon":
			if sessionID != "" {
				h.service.Abandon(sessionID)
				sessionID = ""
			}

		default:
			send <- errorMsg("unsupported message type")
		}
	}
}

func errorMsg(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}

func toPhasePayload(snap session.Snapshot) phasePayload {
	p := phasePayload{
		Phase:            snap.Phase,
		Category:         snap.Category,
		QuestionIndex:    snap.QuestionIndex,
		TotalQuestions:   snap.TotalQuestions,
		Answered:         snap.Answered,
		OverallRemaining: int(snap.OverallRemaining / time.Second),
		PhaseRemaining:   int(snap.PhaseRemaining / time.Second),
	}
	if snap.Question != nil {
		p.Question = sanitizeQuestion(*snap.Question, snap.Phase)
	}
	return p
}

// sanitizeQuestion projects a question into its client view for the phase it
// is shown in. Memorize images appear during the memorize countdown and again
// as recall options; the target index stays server-side.
func sanitizeQuestion(q domain.Question, phase session.Phase) *questionView {
	view := &questionView{
		ID:       q.ID,
		Kind:     q.Kind,
		Category: q.Category,
		Prompt:   q.Prompt,
	}

	switch phase {
	case session.PhaseMemorize:
		if q.Memorize != nil {
			view.Images = q.Memorize.Images
		}
		view.Prompt = ""
	case session.PhaseDistraction:
		d := q.Distraction
		if q.Kind == domain.KindMemorize && q.Memorize != nil {
			d = q.Memorize.Distraction
		}
		if d != nil {
			view.Prompt = d.Prompt
			for i, text := range d.Options {
				view.Options = append(view.Options, optionView{ID: optionID(i), Text: text})
			}
		}
	case session.PhaseRecall:
		if q.Memorize != nil {
			view.Prompt = q.Memorize.RecallPrompt
			view.Images = q.Memorize.Images
		}
	default:
		if q.Choice != nil {
			for _, opt := range q.Choice.Options {
				view.Options = append(view.Options, optionView{ID: opt.ID, Text: opt.Text, Image: opt.Image})
			}
		}
		if q.Sequence != nil {
			view.Terms = q.Sequence.Terms
		}
	}
	return view
}

func optionID(i int) string {
	return string(rune('a' + i))
}
