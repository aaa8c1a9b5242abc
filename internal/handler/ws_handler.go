package handler

import (
	"context"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/paperdesk/paperdesk-backend/internal/config"
	"github.com/paperdesk/paperdesk-backend/internal/middleware"
	"github.com/paperdesk/paperdesk-backend/internal/model"
	"github.com/paperdesk/paperdesk-backend/internal/service"
	"github.com/paperdesk/paperdesk-backend/internal/session"
	ws "github.com/paperdesk/paperdesk-backend/internal/websocket"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// sessionStore adapts the attempt and scoring services to the controller's
// Store interface.
type sessionStore struct {
	attempts *service.AttemptService
	scoring  *service.ScoringService
}

func (s sessionStore) GetOrCreateAttempt(ctx context.Context, paperID, studentID uuid.UUID) (*model.Attempt, error) {
	return s.attempts.GetOrCreateAttempt(ctx, paperID, studentID)
}

func (s sessionStore) SaveProgress(ctx context.Context, attemptID, studentID uuid.UUID, req model.SaveProgressRequest) error {
	return s.attempts.SaveProgress(ctx, attemptID, studentID, req)
}

func (s sessionStore) Submit(ctx context.Context, studentID uuid.UUID, req model.SubmitRequest) (*model.ExamResult, error) {
	return s.scoring.Submit(ctx, studentID, req)
}

// WSHandler streams a live exam session over WebSocket. Each connection
// owns one session controller: the server runs the countdown, the autosave
// cadence and the focus-loss strikes, so a reloaded page resumes exactly
// where the durable state says it should.
type WSHandler struct {
	cfg            *config.Config
	attemptService *service.AttemptService
	scoringService *service.ScoringService
	paperService   *service.PaperService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	cfg *config.Config,
	attemptService *service.AttemptService,
	scoringService *service.ScoringService,
	paperService *service.PaperService,
	log zerolog.Logger,
) *WSHandler {
	return &WSHandler{
		cfg:            cfg,
		attemptService: attemptService,
		scoringService: scoringService,
		paperService:   paperService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(cfg.AllowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/papers/:paper_id/stream
// Upgrades to WebSocket and drives the exam session.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	paperID, err := uuid.Parse(c.Param("paper_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid paper ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	wsLog := h.log.With().
		Str("student_id", studentID.String()).
		Str("paper_id", paperID.String()).
		Logger()

	payload, err := h.paperService.GetPaperPayload(c.Request.Context(), paperID)
	if err != nil {
		ws.WriteError(conn, "paper is not available")
		return
	}

	// Resolve the attempt up front so integrity events can reference it and
	// an already finalized attempt short-circuits without a controller.
	attempt, err := h.attemptService.GetOrCreateAttempt(c.Request.Context(), paperID, studentID)
	if err != nil {
		ws.WriteError(conn, "attempt unavailable")
		return
	}
	if attempt.IsSubmitted {
		result, resErr := h.scoringService.ResultFor(c.Request.Context(), attempt)
		if resErr != nil {
			ws.WriteError(conn, "result unavailable")
			return
		}
		ws.WriteTyped(conn, ws.CompletedResponse{
			Event:  ws.EventCompleted,
			State:  string(session.StateAlreadyCompleted),
			Result: result,
		})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	clock := session.NewTickerClock()
	defer clock.Stop()
	focus := session.NewChannelFocusMonitor()

	ctrl := session.NewController(session.Config{
		Store:            sessionStore{attempts: h.attemptService, scoring: h.scoringService},
		Clock:            clock,
		Focus:            focus,
		Payload:          payload,
		StudentID:        studentID,
		Rand:             rand.New(rand.NewSource(time.Now().UnixNano())),
		AutosaveInterval: h.cfg.AutosaveInterval,
		TabSwitchLimit:   h.cfg.TabSwitchLimit,
		Logger:           wsLog,
	})
	go ctrl.Run(ctx)

	out := make(chan interface{}, 16)
	go h.writeLoop(ctx, cancel, conn, out)
	go h.watchLoop(ctx, ctrl, out)

	// Initial state push. Snapshot blocks until the controller loaded.
	snap := ctrl.Snapshot()
	if snap.State == session.StateFailed {
		ws.WriteError(conn, "session failed to start")
		return
	}
	h.send(ctx, out, ws.SessionResponse{
		Event:           ws.EventSession,
		State:           string(snap.State),
		Title:           payload.Title,
		DurationMinutes: payload.DurationMinutes,
		Questions:       snap.Questions,
		Answers:         snap.Answers,
		TimeRemaining:   snap.TimeRemaining,
		TabSwitchCount:  snap.TabSwitchCount,
	})

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionSelect:
			if msg.Number < 1 || msg.Answer == "" {
				h.send(ctx, out, ws.ErrorResponse{Event: ws.EventError, Error: "number and ans are required"})
				continue
			}
			ctrl.SelectAnswer(msg.Number, msg.Answer)

		case ws.ActionSubmit:
			ctrl.Submit()

		case ws.ActionFocusLoss:
			ctrl.ReportFocusLoss()
			event := model.IntegrityEventRequest{Kind: "tab_switch", Detail: msg.Detail}
			if err := h.attemptService.RecordIntegrityEvent(ctx, attempt.ID, studentID, event); err != nil {
				wsLog.Warn().Err(err).Msg("Integrity event not recorded")
			}

		case ws.ActionEvent:
			event := model.IntegrityEventRequest{Kind: msg.Kind, Detail: msg.Detail}
			if err := h.attemptService.RecordIntegrityEvent(ctx, attempt.ID, studentID, event); err != nil {
				wsLog.Warn().Err(err).Msg("Integrity event not recorded")
			}

		case ws.ActionPing:
			h.send(ctx, out, ws.PongResponse{Event: ws.EventPong})

		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			h.send(ctx, out, ws.ErrorResponse{Event: ws.EventError, Error: "unknown action: " + string(msg.Action)})
		}
	}
}

func (h *WSHandler) send(ctx context.Context, out chan<- interface{}, v interface{}) {
	select {
	case out <- v:
	case <-ctx.Done():
	}
}

// writeLoop is the single writer for the connection.
func (h *WSHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan interface{}) {
	for {
		select {
		case v := <-out:
			if err := ws.WriteTyped(conn, v); err != nil {
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// watchLoop mirrors the controller state to the client: the countdown once
// per second, strike warnings the moment the controller records them, and
// the terminal result.
func (h *WSHandler) watchLoop(ctx context.Context, ctrl *session.Controller, out chan<- interface{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	errNotified := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ctrl.Done():
			h.pushTerminal(ctx, ctrl, out)
			return
		case strikes := <-ctrl.Warnings():
			h.send(ctx, out, ws.WarningResponse{
				Event:          ws.EventWarning,
				TabSwitchCount: strikes,
				Remaining:      h.cfg.TabSwitchLimit - strikes,
				Message:        "Leaving the exam tab again will submit your exam.",
			})
		case <-ticker.C:
			snap := ctrl.Snapshot()
			switch snap.State {
			case session.StateInProgress:
				// A failed submission keeps the attempt open; tell the
				// client once so it can offer a retry.
				if snap.Err != nil && !errNotified {
					errNotified = true
					h.send(ctx, out, ws.ErrorResponse{Event: ws.EventError, Error: "submission failed, please try again"})
				}
				if snap.Err == nil {
					errNotified = false
				}
				h.send(ctx, out, ws.StateResponse{
					Event:          ws.EventState,
					State:          string(snap.State),
					TimeRemaining:  snap.TimeRemaining,
					TabSwitchCount: snap.TabSwitchCount,
				})
			case session.StateCompleted, session.StateAlreadyCompleted, session.StateFailed:
				h.pushTerminal(ctx, ctrl, out)
				return
			}
		}
	}
}

func (h *WSHandler) pushTerminal(ctx context.Context, ctrl *session.Controller, out chan<- interface{}) {
	snap := ctrl.Snapshot()
	switch snap.State {
	case session.StateCompleted, session.StateAlreadyCompleted:
		h.send(ctx, out, ws.CompletedResponse{
			Event:  ws.EventCompleted,
			State:  string(snap.State),
			Result: snap.Result,
		})
	case session.StateFailed:
		h.send(ctx, out, ws.ErrorResponse{Event: ws.EventError, Error: "session failed"})
	}
}
