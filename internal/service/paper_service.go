package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/paperdesk/paperdesk-backend/internal/config"
	"github.com/paperdesk/paperdesk-backend/internal/model"
	"github.com/paperdesk/paperdesk-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Domain errors.
var (
	ErrNotPaperAuthor    = errors.New("not the author of this paper")
	ErrNoQuestions       = errors.New("paper has no questions, cannot publish")
	ErrPaperNotDraft     = errors.New("paper status is not DRAFT")
	ErrPaperNotPublished = errors.New("paper status is not PUBLISHED")
)

// PaperService handles question paper business logic and Redis caching.
type PaperService struct {
	paperRepo *repository.PaperRepository
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewPaperService creates a new PaperService.
func NewPaperService(paperRepo *repository.PaperRepository, rdb *redis.Client, log zerolog.Logger) *PaperService {
	return &PaperService{
		paperRepo: paperRepo,
		rdb:       rdb,
		log:       log.With().Str("component", "paper_service").Logger(),
	}
}

// GetByID retrieves a paper by its UUID.
func (s *PaperService) GetByID(ctx context.Context, id uuid.UUID) (*model.Paper, error) {
	return s.paperRepo.GetByID(ctx, id)
}

// GetByPublicID retrieves a paper by its shareable code.
func (s *PaperService) GetByPublicID(ctx context.Context, paperID string) (*model.Paper, error) {
	return s.paperRepo.GetByPublicID(ctx, paperID)
}

// ListByTeacher retrieves a teacher's papers.
func (s *PaperService) ListByTeacher(ctx context.Context, teacherID uuid.UUID) ([]model.Paper, error) {
	papers, err := s.paperRepo.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	if papers == nil {
		papers = []model.Paper{}
	}
	return papers, nil
}

// Create inserts a new paper as DRAFT together with its answer key.
func (s *PaperService) Create(ctx context.Context, paper *model.Paper, key model.AnswerKey) error {
	paper.Status = model.PaperStatusDraft
	if paper.PaperID == "" {
		paper.PaperID = uuid.New().String()[:8]
	}
	return s.paperRepo.Create(ctx, paper, key)
}

// Publish changes paper status to PUBLISHED and caches the payload + answer
// key in Redis. Students can only start attempts once this has run.
func (s *PaperService) Publish(ctx context.Context, paperID uuid.UUID, teacherID uuid.UUID) error {
	paper, err := s.paperRepo.GetByID(ctx, paperID)
	if err != nil {
		return fmt.Errorf("get paper: %w", err)
	}

	if paper.TeacherID != teacherID {
		return ErrNotPaperAuthor
	}
	if paper.Status != model.PaperStatusDraft {
		return ErrPaperNotDraft
	}

	if err := s.WarmPaperCache(ctx, paper); err != nil {
		return err
	}

	if err := s.paperRepo.UpdateStatus(ctx, paperID, model.PaperStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("paper_id", paperID.String()).Msg("Paper published")
	return nil
}

// WarmPaperCache loads a paper's student payload and answer key from
// PostgreSQL into Redis. Used by Publish and PrewarmAllCaches.
func (s *PaperService) WarmPaperCache(ctx context.Context, paper *model.Paper) error {
	if len(paper.Questions) == 0 {
		return ErrNoQuestions
	}

	payload := model.PaperPayload{
		PaperID:          paper.ID,
		Title:            paper.Title(),
		DurationMinutes:  paper.DurationMinutes,
		MarksPerQuestion: paper.MarksPerQuestion,
		RevealAnswers:    paper.RevealAnswers,
		Questions:        paper.Questions,
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	key, err := s.paperRepo.GetAnswerKey(ctx, paper.ID)
	if err != nil {
		return fmt.Errorf("get answer key: %w", err)
	}

	keyJSON, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal answer key: %w", err)
	}

	// Cache both atomically via pipeline.
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.PaperPayloadKey(paper.ID.String()), payloadJSON, 0)
	pipe.Set(ctx, config.CacheKey.PaperAnswerKey(paper.ID.String()), keyJSON, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("paper_id", paper.ID.String()).
		Int("questions", len(paper.Questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published papers into Redis on application startup.
// This prevents any lazy-loading race conditions under thundering herd traffic.
func (s *PaperService) PrewarmAllCaches(ctx context.Context) error {
	papers, err := s.paperRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published papers: %w", err)
	}

	if len(papers) == 0 {
		s.log.Info().Msg("No published papers to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(papers)).Msg("Prewarming published papers...")

	warmed := 0
	for i := range papers {
		if err := s.WarmPaperCache(ctx, &papers[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("paper_id", papers[i].ID.String()).
				Msg("Failed to warm paper, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(papers)).
		Msg("Prewarming complete")
	return nil
}

// GetPaperPayload retrieves the cached student payload from Redis, falling
// back to PostgreSQL (and self-healing the cache) on a miss.
func (s *PaperService) GetPaperPayload(ctx context.Context, paperID uuid.UUID) (*model.PaperPayload, error) {
	cacheKey := config.CacheKey.PaperPayloadKey(paperID.String())
	data, err := s.rdb.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var payload model.PaperPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &payload, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	paper, err := s.paperRepo.GetByID(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if paper.Status != model.PaperStatusPublished {
		return nil, ErrPaperNotPublished
	}

	if err := s.WarmPaperCache(ctx, paper); err != nil {
		s.log.Warn().Err(err).Str("paper_id", paperID.String()).Msg("Cache self-heal failed")
	}

	return &model.PaperPayload{
		PaperID:          paper.ID,
		Title:            paper.Title(),
		DurationMinutes:  paper.DurationMinutes,
		MarksPerQuestion: paper.MarksPerQuestion,
		RevealAnswers:    paper.RevealAnswers,
		Questions:        paper.Questions,
	}, nil
}

// GetAnswerKey retrieves the answer key from Redis for instant grading,
// falling back to PostgreSQL on a miss.
func (s *PaperService) GetAnswerKey(ctx context.Context, paperID uuid.UUID) (model.AnswerKey, error) {
	cacheKey := config.CacheKey.PaperAnswerKey(paperID.String())
	data, err := s.rdb.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var key model.AnswerKey
		if err := json.Unmarshal(data, &key); err != nil {
			return nil, fmt.Errorf("unmarshal answer key: %w", err)
		}
		return key, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get answer key: %w", err)
	}

	return s.paperRepo.GetAnswerKey(ctx, paperID)
}
