package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/paperdesk/paperdesk-backend/internal/middleware"
	"github.com/paperdesk/paperdesk-backend/internal/model"
	"github.com/paperdesk/paperdesk-backend/internal/repository"
	"github.com/paperdesk/paperdesk-backend/internal/response"
	"github.com/paperdesk/paperdesk-backend/internal/service"
	"github.com/paperdesk/paperdesk-backend/internal/validator"
)

// PaperHandler handles question paper endpoints.
type PaperHandler struct {
	paperService *service.PaperService
	attemptRepo  *repository.AttemptRepository
}

// NewPaperHandler creates a new PaperHandler.
func NewPaperHandler(paperService *service.PaperService, attemptRepo *repository.AttemptRepository) *PaperHandler {
	return &PaperHandler{paperService: paperService, attemptRepo: attemptRepo}
}

// CreatePaper godoc
// POST /api/v1/teacher/papers
// Creates a DRAFT paper with its answer key.
func (h *PaperHandler) CreatePaper(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.CreatePaperRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	paper := &model.Paper{
		TeacherID:        claims.UserID,
		Subject:          req.Subject,
		ClassName:        req.ClassName,
		DurationMinutes:  req.DurationMinutes,
		MarksPerQuestion: req.MarksPerQuestion,
		RevealAnswers:    req.RevealAnswers,
		Questions:        req.Questions,
	}

	if err := h.paperService.Create(c.Request.Context(), paper, req.AnswerKey); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"paper": paper})
}

// ListPapers godoc
// GET /api/v1/teacher/papers
// Lists the authenticated teacher's papers.
func (h *PaperHandler) ListPapers(c *gin.Context) {
	claims := middleware.GetClaims(c)

	papers, err := h.paperService.ListByTeacher(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"papers": papers})
}

// PublishPaper godoc
// POST /api/v1/teacher/papers/:paper_id/publish
// Publishes a draft paper and warms the Redis cache.
func (h *PaperHandler) PublishPaper(c *gin.Context) {
	claims := middleware.GetClaims(c)

	paperID, err := uuid.Parse(c.Param("paper_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.paperService.Publish(c.Request.Context(), paperID, claims.UserID); err != nil {
		switch {
		case errors.Is(err, repository.ErrPaperNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrNotPaperAuthor):
			response.Fail(c, http.StatusForbidden, response.ErrNotPaperAuthor)
		case errors.Is(err, service.ErrPaperNotDraft), errors.Is(err, service.ErrNoQuestions):
			response.Fail(c, http.StatusConflict, response.ErrConflict)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "published"})
}

// GetAnswers godoc
// GET /api/v1/teacher/papers/:paper_id/answers
// Returns the hidden answer key. Only the paper's author may read it.
func (h *PaperHandler) GetAnswers(c *gin.Context) {
	claims := middleware.GetClaims(c)

	paperID, err := uuid.Parse(c.Param("paper_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	paper, err := h.paperService.GetByID(c.Request.Context(), paperID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if paper.TeacherID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrNotPaperAuthor)
		return
	}

	key, err := h.paperService.GetAnswerKey(c.Request.Context(), paperID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"answers": key})
}

// ListAttempts godoc
// GET /api/v1/teacher/papers/:paper_id/attempts
// Returns every student attempt for the teacher's paper.
func (h *PaperHandler) ListAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)

	paperID, err := uuid.Parse(c.Param("paper_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	paper, err := h.paperService.GetByID(c.Request.Context(), paperID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if paper.TeacherID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrNotPaperAuthor)
		return
	}

	attempts, err := h.attemptRepo.ListByPaper(c.Request.Context(), paperID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if attempts == nil {
		attempts = []model.AttemptSummary{}
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// GetPaperByCode godoc
// GET /api/v1/student/paper-codes/:code
// Resolves the shareable paper code a teacher hands out to the student
// payload. Unpublished papers stay invisible.
func (h *PaperHandler) GetPaperByCode(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	paper, err := h.paperService.GetByPublicID(c.Request.Context(), code)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	payload, err := h.paperService.GetPaperPayload(c.Request.Context(), paper.ID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaperNotPublished):
			response.Fail(c, http.StatusConflict, response.ErrPaperNotPublished)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"paper": payload})
}

// GetPaper godoc
// GET /api/v1/student/papers/:paper_id
// Returns the student-facing payload (never the key) from the cache.
func (h *PaperHandler) GetPaper(c *gin.Context) {
	paperID, err := uuid.Parse(c.Param("paper_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	payload, err := h.paperService.GetPaperPayload(c.Request.Context(), paperID)
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

	response.Success(c, http.StatusOK, gin.H{"paper": payload})
}
