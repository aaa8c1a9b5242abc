package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/paperdesk/paperdesk-backend/internal/config"
	"github.com/paperdesk/paperdesk-backend/internal/model"
	"github.com/paperdesk/paperdesk-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Attempt lifecycle errors.
var (
	ErrNotAttemptOwner = errors.New("attempt belongs to another student")
	ErrSaveFailed      = errors.New("saving progress failed")
)

// AttemptService handles the attempt lifecycle: first access, autosave and
// resume. Progress writes land in Redis hot state immediately and are
// persisted to PostgreSQL asynchronously via the progress queue.
type AttemptService struct {
	attemptRepo *repository.AttemptRepository
	paperRepo   *repository.PaperRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	paperRepo *repository.PaperRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo: attemptRepo,
		paperRepo:   paperRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "attempt_service").Logger(),
	}
}

// hotStateTTL bounds how long an abandoned attempt's working state lives in
// Redis. It must exceed the longest paper duration plus any resume window.
const hotStateTTL = 24 * time.Hour

type progressJob struct {
	AttemptID      string          `json:"attempt_id"`
	Answers        model.AnswerSet `json:"answers"`
	TimeRemaining  int             `json:"time_remaining"`
	TabSwitchCount int             `json:"tab_switch_count"`
	QueuedAt       int64           `json:"queued_at"`
}

type integrityJob struct {
	AttemptID string `json:"attempt_id"`
	StudentID string `json:"student_id"`
	PaperID   string `json:"paper_id"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// GetOrCreateAttempt returns the student's single attempt for a paper,
// creating it on first access. Concurrent first-access requests collapse to
// one row: the insert loser re-reads the winner's attempt. A submitted
// attempt is returned as-is so the caller can show the completed screen.
func (s *AttemptService) GetOrCreateAttempt(ctx context.Context, paperID, studentID uuid.UUID) (*model.Attempt, error) {
	paper, err := s.paperRepo.GetByID(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if paper.Status != model.PaperStatusPublished {
		return nil, ErrPaperNotPublished
	}

	existing, err := s.attemptRepo.GetByPaperAndStudent(ctx, paperID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}
	if existing != nil {
		if !existing.IsSubmitted {
			s.overlayHotState(ctx, existing)
		}
		return existing, nil
	}

	attempt := &model.Attempt{
		PaperID:       paperID,
		StudentID:     studentID,
		Answers:       model.AnswerSet{},
		TimeRemaining: paper.DurationMinutes * 60,
	}

	if err := s.attemptRepo.Create(ctx, attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent first access detected.
			winner, fetchErr := s.attemptRepo.GetByPaperAndStudent(ctx, paperID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent first access detected, but fetch failed: %w", fetchErr)
			}
			if !winner.IsSubmitted {
				s.overlayHotState(ctx, winner)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	return attempt, nil
}

// SaveProgress overwrites the attempt's working state: Redis hot state first
// so a resume sees it immediately, then a queue entry for durable persistence.
// The snapshot is replaced wholesale; there is no merge.
func (s *AttemptService) SaveProgress(ctx context.Context, attemptID, studentID uuid.UUID, req model.SaveProgressRequest) error {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return err
	}
	if attempt.IsSubmitted {
		return repository.ErrAlreadySubmitted
	}

	return s.pushProgress(ctx, attemptID, req)
}

// pushProgress writes the Redis hot state and queues the durable persistence
// job. The hot-state keys expire so an attempt nobody ever finalizes does not
// pin Redis memory.
func (s *AttemptService) pushProgress(ctx context.Context, attemptID uuid.UUID, req model.SaveProgressRequest) error {
	answersKey := config.CacheKey.AttemptAnswersKey(attemptID.String())
	progressKey := config.CacheKey.AttemptProgressKey(attemptID.String())

	answerFields := make(map[string]interface{}, len(req.Answers))
	for _, a := range req.Answers {
		answerFields[strconv.Itoa(a.Number)] = a.Answer
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, answersKey)
	if len(answerFields) > 0 {
		pipe.HSet(ctx, answersKey, answerFields)
		pipe.Expire(ctx, answersKey, hotStateTTL)
	}
	pipe.HSet(ctx, progressKey, map[string]interface{}{
		"time_remaining":   req.TimeRemaining,
		"tab_switch_count": req.TabSwitchCount,
	})
	pipe.Expire(ctx, progressKey, hotStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	job := progressJob{
		AttemptID:      attemptID.String(),
		Answers:        req.Answers,
		TimeRemaining:  req.TimeRemaining,
		TabSwitchCount: req.TabSwitchCount,
		QueuedAt:       time.Now().Unix(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal progress job: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistProgressQueue, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	return nil
}

// RecordIntegrityEvent queues a proctoring signal for asynchronous
// persistence. Events never block the exam flow.
func (s *AttemptService) RecordIntegrityEvent(ctx context.Context, attemptID, studentID uuid.UUID, req model.IntegrityEventRequest) error {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return err
	}

	job := integrityJob{
		AttemptID: attemptID.String(),
		StudentID: studentID.String(),
		PaperID:   attempt.PaperID.String(),
		Kind:      req.Kind,
		Detail:    req.Detail,
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal integrity job: %w", err)
	}
	return s.rdb.RPush(ctx, config.WorkerKey.PersistIntegrityQueue, data).Err()
}

// ClearHotState drops the attempt's Redis working state. Called after
// finalize so stale autosave data cannot shadow the terminal row.
func (s *AttemptService) ClearHotState(ctx context.Context, attemptID uuid.UUID) error {
	return s.rdb.Del(ctx,
		config.CacheKey.AttemptAnswersKey(attemptID.String()),
		config.CacheKey.AttemptProgressKey(attemptID.String()),
	).Err()
}

func (s *AttemptService) getOwnedAttempt(ctx context.Context, attemptID, studentID uuid.UUID) (*model.Attempt, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrAttemptNotFound
		}
		return nil, err
	}
	if attempt.StudentID != studentID {
		return nil, ErrNotAttemptOwner
	}
	return attempt, nil
}

// overlayHotState layers the Redis working state over the PostgreSQL
// snapshot. The hot state is newer than the last drained queue entry, so it
// wins when present. Redis trouble degrades to the durable snapshot.
func (s *AttemptService) overlayHotState(ctx context.Context, attempt *model.Attempt) {
	answersKey := config.CacheKey.AttemptAnswersKey(attempt.ID.String())
	progressKey := config.CacheKey.AttemptProgressKey(attempt.ID.String())

	answers, err := s.rdb.HGetAll(ctx, answersKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Hot state read failed, using durable snapshot")
		return
	}
	if len(answers) > 0 {
		m := make(map[int]string, len(answers))
		for field, value := range answers {
			n, convErr := strconv.Atoi(field)
			if convErr != nil {
				continue
			}
			m[n] = value
		}
		attempt.Answers = model.AnswersFromMap(m)
	}

	progress, err := s.rdb.HGetAll(ctx, progressKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Hot state read failed, using durable snapshot")
		return
	}
	if v, ok := progress["time_remaining"]; ok {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			attempt.TimeRemaining = n
		}
	}
	if v, ok := progress["tab_switch_count"]; ok {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			attempt.TabSwitchCount = n
		}
	}
}
