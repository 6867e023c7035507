package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"escape-room-service/internal/domain"
	"escape-room-service/internal/game"
	"escape-room-service/internal/store"
	"escape-room-service/internal/view"
)

// EngineFactory builds a fresh session engine for each connection, the
// way a page load constructs fresh session state.
type EngineFactory func(ctx context.Context) (*game.Engine, error)

type WSHandler struct {
	newEngine      EngineFactory
	store          store.Store
	totalQuestions int
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

func NewWSHandler(factory EngineFactory, st store.Store, totalQuestions int, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		newEngine:      factory,
		store:          st,
		totalQuestions: totalQuestions,
		log:            log,
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

type loginPayload struct {
	Team     string `json:"team"`
	Password string `json:"password"`
}

type openPayload struct {
	QuestionID string `json:"questionId"`
	Confirmed  bool   `json:"confirmed"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

type hintPayload struct {
	QuestionID string `json:"questionId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type loginResult struct {
	Team   string `json:"team"`
	Points int    `json:"points"`
}

type completionPayload struct {
	Level   int    `json:"level"`
	Display string `json:"display,omitempty"`
	Message string `json:"message"`
}

type timerPayload struct {
	Level   int    `json:"level"`
	Display string `json:"display"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades the request and drives one game session over it.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	engine, err := h.newEngine(ctx)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: toErrorPayload(err)})
		return
	}
	defer engine.Close()

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-send:
				if err := conn.WriteJSON(msg); err != nil {
					h.log.Debug().Err(err).Msg("ws write error")
					return
				}
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-engine.Events():
				h.forwardEvent(ctx, engine, ev, send)
			}
		}
	}()

	var cancelWatches func()
	var cancelLeaderboard func()
	defer func() {
		if cancelWatches != nil {
			cancelWatches()
		}
		if cancelLeaderboard != nil {
			cancelLeaderboard()
		}
	}()

	// Reattach a durable identity left over from a previous page load.
	if team, err := engine.Resume(ctx); err == nil {
		cancelWatches = h.afterAttach(ctx, engine, team, send)
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "login":
			var payload loginPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.sendError(ctx, send, errors.New("invalid login payload"))
				continue
			}
			team, err := engine.Login(ctx, payload.Team, payload.Password)
			if err != nil {
				h.sendError(ctx, send, err)
				continue
			}
			if cancelWatches != nil {
				cancelWatches()
			}
			cancelWatches = h.afterAttach(ctx, engine, team, send)

		case "logout":
			if cancelWatches != nil {
				cancelWatches()
				cancelWatches = nil
			}
			engine.Logout()
			h.push(ctx, send, outboundMessage[any]{Type: "navbar", Payload: view.Navbar{}})

		case "board":
			h.pushBoard(ctx, engine, send)

		case "openQuestion":
			var payload openPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.sendError(ctx, send, errors.New("invalid openQuestion payload"))
				continue
			}
			detail, err := engine.OpenQuestion(ctx, payload.QuestionID, payload.Confirmed)
			if err != nil {
				h.sendError(ctx, send, err)
				continue
			}
			qv := view.BuildQuestion(detail)
			if detail.NeedsConfirmation {
				h.push(ctx, send, outboundMessage[any]{Type: "confirmRequired", Payload: qv})
				continue
			}
			h.push(ctx, send, outboundMessage[any]{Type: "question", Payload: qv})

		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.sendError(ctx, send, errors.New("invalid answer payload"))
				continue
			}
			outcome, err := engine.SubmitAnswer(ctx, payload.QuestionID, payload.Answer)
			if err != nil {
				h.sendError(ctx, send, err)
				continue
			}
			h.push(ctx, send, outboundMessage[any]{Type: "answerResult", Payload: outcome})

		case "hint":
			var payload hintPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.sendError(ctx, send, errors.New("invalid hint payload"))
				continue
			}
			outcome, err := engine.BuyHint(ctx, payload.QuestionID)
			if err != nil {
				h.sendError(ctx, send, err)
				continue
			}
			h.push(ctx, send, outboundMessage[any]{Type: "hintResult", Payload: outcome})

		case "leaderboard":
			rows, cancelRows, err := view.WatchLeaderboard(ctx, h.store, h.totalQuestions, engine.Team)
			if err != nil {
				h.sendError(ctx, send, err)
				continue
			}
			// One live stream per connection; a repeated request replaces
			// the previous watch instead of stacking listeners.
			if cancelLeaderboard != nil {
				cancelLeaderboard()
			}
			cancelLeaderboard = cancelRows
			go func() {
				defer cancelRows()
				for {
					select {
					case <-ctx.Done():
						return
					case board, ok := <-rows:
						if !ok {
							return
						}
						h.push(ctx, send, outboundMessage[any]{Type: "leaderboard", Payload: board})
					}
				}
			}()

		default:
			h.sendError(ctx, send, errors.New("unsupported message type"))
		}
	}

	cancel()
	<-eventsDone
	<-writerDone
}

// afterAttach pushes the post-login snapshot and starts the live navbar
// watch. Returns a cancel for the watch.
func (h *WSHandler) afterAttach(ctx context.Context, engine *game.Engine, team domain.Team, send chan outboundMessage[any]) func() {
	h.push(ctx, send, outboundMessage[any]{Type: "loginResult", Payload: loginResult{Team: team.Name, Points: team.Points}})
	h.pushBoard(ctx, engine, send)

	navs, cancelNav, err := view.WatchPoints(ctx, h.store, team.Name)
	if err != nil {
		h.sendError(ctx, send, err)
		return func() {}
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case nav, ok := <-navs:
				if !ok {
					return
				}
				nav.TimerLevel = engine.TimerLevel()
				nav.TimerDisplay = engine.TimerDisplay()
				h.push(ctx, send, outboundMessage[any]{Type: "navbar", Payload: nav})
			}
		}
	}()
	return cancelNav
}

func (h *WSHandler) forwardEvent(ctx context.Context, engine *game.Engine, ev game.Event, send chan outboundMessage[any]) {
	switch ev.Type {
	case game.EventProgress:
		h.pushBoard(ctx, engine, send)
	case game.EventCompletion:
		h.push(ctx, send, outboundMessage[any]{Type: "completion", Payload: completionPayload{
			Level:   ev.Level,
			Display: ev.Display,
			Message: ev.Message,
		}})
	case game.EventTick:
		h.push(ctx, send, outboundMessage[any]{Type: "timer", Payload: timerPayload{Level: ev.Level, Display: ev.Display}})
	}
}

func (h *WSHandler) pushBoard(ctx context.Context, engine *game.Engine, send chan outboundMessage[any]) {
	board := view.BuildBoard(engine.Catalog(), engine.Progress(), engine.LevelTimes())
	h.push(ctx, send, outboundMessage[any]{Type: "board", Payload: board})
}

func (h *WSHandler) sendError(ctx context.Context, send chan outboundMessage[any], err error) {
	h.push(ctx, send, outboundMessage[any]{Type: "error", Payload: toErrorPayload(err)})
}

func (h *WSHandler) push(ctx context.Context, send chan outboundMessage[any], msg outboundMessage[any]) {
	select {
	case send <- msg:
	case <-ctx.Done():
	}
}

// toErrorPayload maps the error taxonomy onto stable client codes. All of
// these are non-fatal: the connection stays up and the user may retry.
func toErrorPayload(err error) errorPayload {
	code := "internal"
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		code = "unavailable"
	case errors.Is(err, domain.ErrNotLoggedIn):
		code = "notLoggedIn"
	case errors.Is(err, domain.ErrTeamNotFound):
		code = "teamNotFound"
	case errors.Is(err, domain.ErrWrongPassword):
		code = "wrongPassword"
	case errors.Is(err, domain.ErrQuestionNotFound):
		code = "questionNotFound"
	case errors.Is(err, domain.ErrLevelLocked):
		code = "levelLocked"
	case errors.Is(err, domain.ErrAlreadySolved):
		code = "alreadySolved"
	case errors.Is(err, domain.ErrInsufficientPoints):
		code = "insufficientPoints"
	case errors.Is(err, domain.ErrNoHint):
		code = "noHint"
	}
	return errorPayload{Code: code, Message: err.Error()}
}
