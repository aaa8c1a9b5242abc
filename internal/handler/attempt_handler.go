package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/paperdesk/paperdesk-backend/internal/middleware"
	"github.com/paperdesk/paperdesk-backend/internal/model"
	"github.com/paperdesk/paperdesk-backend/internal/observability"
	"github.com/paperdesk/paperdesk-backend/internal/repository"
	"github.com/paperdesk/paperdesk-backend/internal/response"
	"github.com/paperdesk/paperdesk-backend/internal/service"
	"github.com/paperdesk/paperdesk-backend/internal/validator"
)

// AttemptHandler handles the student attempt lifecycle over REST.
type AttemptHandler struct {
	attemptService *service.AttemptService
	scoringService *service.ScoringService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, scoringService *service.ScoringService) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		scoringService: scoringService,
	}
}

// StartAttempt godoc
// POST /api/v1/student/papers/:paper_id/attempt
// Returns the student's single attempt for the paper, creating it on first
// access. Repeated calls resume the same attempt.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)

	paperID, err := uuid.Parse(c.Param("paper_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.GetOrCreateAttempt(c.Request.Context(), paperID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPaperNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrPaperNotPublished):
			response.Fail(c, http.StatusConflict, response.ErrPaperNotPublished)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	observability.AttemptsStarted().WithLabelValues(attemptMode(attempt)).Inc()

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// SaveProgress godoc
// PUT /api/v1/student/attempts/:attempt_id/progress
// Replaces the attempt's working state wholesale.
func (h *AttemptHandler) SaveProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attemptService.SaveProgress(c.Request.Context(), attemptID, claims.UserID, req); err != nil {
		switch {
		case errors.Is(err, repository.ErrAttemptNotFound):
			observability.Autosaves().WithLabelValues("not_found").Inc()
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrNotAttemptOwner):
			observability.Autosaves().WithLabelValues("forbidden").Inc()
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		case errors.Is(err, repository.ErrAlreadySubmitted):
			observability.Autosaves().WithLabelValues("already_submitted").Inc()
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
		case errors.Is(err, service.ErrSaveFailed):
			// Transient: the client keeps its local state and retries.
			observability.Autosaves().WithLabelValues("transient").Inc()
			response.Fail(c, http.StatusServiceUnavailable, response.ErrSaveFailed)
		default:
			observability.Autosaves().WithLabelValues("error").Inc()
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	observability.Autosaves().WithLabelValues("ok").Inc()
	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// RecordEvent godoc
// POST /api/v1/student/attempts/:attempt_id/events
// Queues a proctoring event (tab switch, focus loss, ...).
func (h *AttemptHandler) RecordEvent(c *gin.Context) {
	claims := middleware.GetClaims(c)

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.IntegrityEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attemptService.RecordIntegrityEvent(c.Request.Context(), attemptID, claims.UserID, req); err != nil {
		switch {
		case errors.Is(err, repository.ErrAttemptNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrNotAttemptOwner):
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	observability.IntegrityEvents().WithLabelValues(req.Kind).Inc()
	response.Success(c, http.StatusOK, gin.H{"status": "recorded"})
}

// Submit godoc
// POST /api/v1/student/submit
// Grades the final snapshot and finalizes the attempt. First writer wins;
// later submissions get ALREADY_SUBMITTED and the stored result stands.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		observability.Submissions().WithLabelValues("manual", "malformed").Inc()
		response.FailWithFields(c, http.StatusBadRequest, response.ErrMalformedSubmission, fields)
		return
	}

	start := time.Now()
	result, err := h.scoringService.Submit(c.Request.Context(), claims.UserID, req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPaperNotFound), errors.Is(err, repository.ErrAttemptNotFound):
			observability.Submissions().WithLabelValues("manual", "not_found").Inc()
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, repository.ErrAlreadySubmitted):
			observability.Submissions().WithLabelValues("manual", "already_submitted").Inc()
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
		case errors.Is(err, service.ErrAttemptMismatch):
			observability.Submissions().WithLabelValues("manual", "malformed").Inc()
			response.Fail(c, http.StatusBadRequest, response.ErrMalformedSubmission)
		default:
			observability.Submissions().WithLabelValues("manual", "error").Inc()
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}
	observability.ScoringLatency().Observe(time.Since(start).Seconds())
	observability.Submissions().WithLabelValues("manual", "ok").Inc()

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

func attemptMode(a *model.Attempt) string {
	switch {
	case a.IsSubmitted:
		return "already_completed"
	case len(a.Answers) > 0 || a.TabSwitchCount > 0:
		return "resumed"
	default:
		return "fresh"
	}
}
