package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/paperdesk/paperdesk-backend/internal/model"
	"github.com/paperdesk/paperdesk-backend/internal/repository"
	"github.com/rs/zerolog"
)

// ErrAttemptMismatch is returned when a submission names an attempt that is
// not the student's attempt for the paper.
var ErrAttemptMismatch = errors.New("attempt id does not match the attempt for this paper")

// ScoringService grades submissions against the hidden answer key and
// finalizes attempts. Finalize is first writer wins: exactly one submission
// produces the stored result, every later one gets ErrAlreadySubmitted.
type ScoringService struct {
	attemptRepo  *repository.AttemptRepository
	paperRepo    *repository.PaperRepository
	paperService *PaperService
	attempts     *AttemptService
	log          zerolog.Logger
}

// NewScoringService creates a new ScoringService.
func NewScoringService(
	attemptRepo *repository.AttemptRepository,
	paperRepo *repository.PaperRepository,
	paperService *PaperService,
	attempts *AttemptService,
	log zerolog.Logger,
) *ScoringService {
	return &ScoringService{
		attemptRepo:  attemptRepo,
		paperRepo:    paperRepo,
		paperService: paperService,
		attempts:     attempts,
		log:          log.With().Str("component", "scoring_service").Logger(),
	}
}

// Submit grades the final answer snapshot and finalizes the attempt.
//
// Every question in the key is graded: an unanswered question counts as
// wrong, and totalQuestions always equals the key length regardless of how
// many answers were sent. If the key cannot be loaded the attempt stays
// open and the submission can be retried.
func (s *ScoringService) Submit(ctx context.Context, studentID uuid.UUID, req model.SubmitRequest) (*model.ExamResult, error) {
	paper, err := s.paperRepo.GetByID(ctx, req.PaperID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.attemptRepo.GetByPaperAndStudent(ctx, req.PaperID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrAttemptNotFound
		}
		return nil, err
	}
	if req.AttemptID != uuid.Nil && req.AttemptID != attempt.ID {
		return nil, ErrAttemptMismatch
	}
	if attempt.IsSubmitted {
		return nil, repository.ErrAlreadySubmitted
	}

	key, err := s.paperService.GetAnswerKey(ctx, req.PaperID)
	if err != nil {
		return nil, fmt.Errorf("load answer key: %w", err)
	}
	if len(key) == 0 {
		return nil, repository.ErrPaperNotFound
	}

	correct, wrong := grade(req.Answers, key)
	result := model.AttemptResult{
		Score:          correct * paper.MarksPerQuestion,
		CorrectCount:   correct,
		WrongCount:     wrong,
		TotalQuestions: len(key),
		SubmittedAt:    time.Now(),
	}

	if err := s.attemptRepo.Finalize(ctx, attempt.ID, req.Answers, result); err != nil {
		return nil, err
	}

	if err := s.attempts.ClearHotState(ctx, attempt.ID); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to clear hot state")
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Int("score", result.Score).
		Int("correct", correct).
		Int("wrong", wrong).
		Msg("Attempt finalized")

	res := &model.ExamResult{
		Score:              result.Score,
		CorrectCount:       correct,
		WrongCount:         wrong,
		TotalQuestions:     result.TotalQuestions,
		ShowCorrectAnswers: paper.RevealAnswers,
	}
	if paper.RevealAnswers {
		res.CorrectAnswers = key
	}
	return res, nil
}

// ResultFor builds the result view for an already finalized attempt.
func (s *ScoringService) ResultFor(ctx context.Context, attempt *model.Attempt) (*model.ExamResult, error) {
	if !attempt.IsSubmitted {
		return nil, errors.New("attempt not finalized")
	}

	paper, err := s.paperRepo.GetByID(ctx, attempt.PaperID)
	if err != nil {
		return nil, err
	}

	res := &model.ExamResult{
		ShowCorrectAnswers: paper.RevealAnswers,
	}
	if attempt.Score != nil {
		res.Score = *attempt.Score
	}
	if attempt.CorrectCount != nil {
		res.CorrectCount = *attempt.CorrectCount
	}
	if attempt.WrongCount != nil {
		res.WrongCount = *attempt.WrongCount
	}
	if attempt.TotalQuestions != nil {
		res.TotalQuestions = *attempt.TotalQuestions
	}
	if paper.RevealAnswers {
		key, err := s.paperService.GetAnswerKey(ctx, attempt.PaperID)
		if err != nil {
			return nil, fmt.Errorf("load answer key: %w", err)
		}
		res.CorrectAnswers = key
	}
	return res, nil
}

// grade compares the submitted answers against the key entry by entry.
func grade(answers model.AnswerSet, key model.AnswerKey) (correct, wrong int) {
	byNumber := answers.ToMap()
	for _, entry := range key {
		if sameChoice(byNumber[entry.Number], entry.CorrectAnswer) {
			correct++
		} else {
			wrong++
		}
	}
	return correct, wrong
}

// sameChoice compares two option strings by their leading letter, case
// insensitively. Options carry a stable "A) ..." prefix, so the first rune
// identifies the choice even when the stored texts differ in formatting.
func sameChoice(given, want string) bool {
	g, ok := firstRune(given)
	if !ok {
		return false
	}
	w, ok := firstRune(want)
	if !ok {
		return false
	}
	return unicode.ToUpper(g) == unicode.ToUpper(w)
}

func firstRune(s string) (rune, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	return []rune(s)[0], true
}
