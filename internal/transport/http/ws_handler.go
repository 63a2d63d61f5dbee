package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"cbt-exam-service/internal/app"
	"cbt-exam-service/internal/domain"
)

// WSHandler serves the live attempt channel and the instructor results feed.
type WSHandler struct {
	bank     *app.QuestionBank
	engine   *app.SessionEngine
	ledger   *app.ResultLedger
	tick     time.Duration
	upgrader websocket.Upgrader
}

func NewWSHandler(bank *app.QuestionBank, engine *app.SessionEngine, ledger *app.ResultLedger, tick time.Duration) *WSHandler {
	if tick <= 0 {
		tick = time.Second
	}
	return &WSHandler{
		bank:   bank,
		engine: engine,
		ledger: ledger,
		tick:   tick,
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

type answerPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

type flagPayload struct {
	QuestionID string `json:"questionId"`
}

type submitPayload struct {
	Answers map[string]string `json:"answers"`
	Auto    bool              `json:"auto"`
}

type flagResult struct {
	QuestionID string `json:"questionId"`
	Flagged    bool   `json:"flagged"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeAttempt streams the authoritative countdown for one attempt and accepts
// answer, flag and submit messages. The countdown shown by the client is advisory;
// every message is re-checked against the stored deadline.
func (h *WSHandler) ServeAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	studentID := r.URL.Query().Get("studentId")
	if studentID == "" {
		studentID = r.Header.Get(headerUserID)
	}
	if attemptID == "" || studentID == "" {
		http.Error(w, "missing attemptId or studentId", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	view, err := h.engine.View(ctx, attemptID, studentID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	tickerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				slog.Warn("ws write error", "attempt_id", attemptID, "error", err)
				return
			}
		}
	}()

	emit := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-closeSignals:
			return false
		case <-writerDone:
			return false
		}
	}

	emit(outboundMessage[any]{Type: "attempt", Payload: view})

	go func() {
		defer close(tickerDone)
		if view.Status == domain.StatusSubmitted {
			return
		}
		ticker := time.NewTicker(h.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				state, err := h.engine.Tick(ctx, attemptID, studentID)
				if err != nil {
					emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
					return
				}
				if state.Result != nil {
					emit(outboundMessage[any]{Type: "submitted", Payload: state.Result})
					return
				}
				if !emit(outboundMessage[any]{Type: "tick", Payload: state}) {
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		emit(h.handleAttemptMessage(ctx, attemptID, studentID, inbound))
	}

	close(closeSignals)
	<-tickerDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handleAttemptMessage(ctx context.Context, attemptID, studentID string, in inboundMessage) outboundMessage[any] {
	switch in.Type {
	case "answer":
		var p answerPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errorMessage("invalid answer payload")
		}
		if err := h.engine.RecordAnswer(ctx, attemptID, studentID, p.QuestionID, p.OptionID); err != nil {
			return failure(err)
		}
		return outboundMessage[any]{Type: "answered", Payload: p}
	case "flag":
		var p flagPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errorMessage("invalid flag payload")
		}
		flagged, err := h.engine.ToggleFlag(ctx, attemptID, studentID, p.QuestionID)
		if err != nil {
			return failure(err)
		}
		return outboundMessage[any]{Type: "flagged", Payload: flagResult{QuestionID: p.QuestionID, Flagged: flagged}}
	case "submit":
		var p submitPayload
		if len(in.Payload) > 0 {
			if err := json.Unmarshal(in.Payload, &p); err != nil {
				return errorMessage("invalid submit payload")
			}
		}
		outcome, err := h.engine.Submit(ctx, attemptID, studentID, p.Answers, p.Auto)
		if err != nil {
			return failure(err)
		}
		return outboundMessage[any]{Type: "submitted", Payload: outcome}
	}
	return errorMessage("unsupported message type")
}

// failure turns a late mutation into the submitted notice the student should see.
func failure(err error) outboundMessage[any] {
	var deadline *domain.DeadlineExceededError
	if errors.As(err, &deadline) {
		return outboundMessage[any]{Type: "submitted", Payload: deadline.Result}
	}
	return errorMessage(err.Error())
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}

// ServeResults pushes each newly submitted result of the exam to an instructor.
func (h *WSHandler) ServeResults(w http.ResponseWriter, r *http.Request) {
	exam, err := examOwner(r, h.bank)
	if err != nil {
		writeError(w, r, err)
		return
	}
	examID := exam.ID

	// Subscribe before the handshake completes so no result is missed.
	results, cancel := h.ledger.Subscribe(examID)
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case res, ok := <-results:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage[domain.Result]{Type: "result", Payload: res}); err != nil {
				slog.Warn("ws write error", "exam_id", examID, "error", err)
				return
			}
		case <-readerDone:
			return
		}
	}
}
