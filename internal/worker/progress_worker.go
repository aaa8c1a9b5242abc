package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/paperdesk/paperdesk-backend/internal/config"
	"github.com/paperdesk/paperdesk-backend/internal/model"
	"github.com/paperdesk/paperdesk-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ProgressWorker drains persist_progress_queue and writes autosave
// snapshots to PostgreSQL in batches. Snapshots for submitted attempts are
// silently skipped by the is_submitted guard, so a stale autosave can never
// reopen or mutate a finalized attempt.
type ProgressWorker struct {
	attempts *repository.AttemptRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewProgressWorker creates a new ProgressWorker.
func NewProgressWorker(attempts *repository.AttemptRepository, rdb *redis.Client, log zerolog.Logger) *ProgressWorker {
	return &ProgressWorker{
		attempts: attempts,
		rdb:      rdb,
		log:      log.With().Str("component", "progress_worker").Logger(),
	}
}

type progressPayload struct {
	AttemptID      string          `json:"attempt_id"`
	Answers        model.AnswerSet `json:"answers"`
	TimeRemaining  int             `json:"time_remaining"`
	TabSwitchCount int             `json:"tab_switch_count"`
	QueuedAt       int64           `json:"queued_at"`
}

// Start begins the worker loop. Call in a goroutine.
func (w *ProgressWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	buffer := make([]*progressPayload, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistProgressQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty, loop back to check flush timer
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var payload progressPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, &payload)
	}
}

// flushSafe collapses the batch to the newest snapshot per attempt, then
// writes. A batch-level failure falls back to row-by-row recovery.
func (w *ProgressWorker) flushSafe(ctx context.Context, batch []*progressPayload) {
	latest := newestPerAttempt(batch)

	failed := make([]*progressPayload, 0)
	for _, p := range latest {
		if err := w.persist(ctx, p); err != nil {
			w.log.Error().Err(err).Str("attempt_id", p.AttemptID).Msg("Persist failed, requeueing")
			failed = append(failed, p)
		}
	}

	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

// newestPerAttempt deduplicates a batch: only the latest snapshot per
// attempt matters since every save replaces the whole state.
func newestPerAttempt(batch []*progressPayload) []*progressPayload {
	byAttempt := make(map[string]*progressPayload, len(batch))
	order := make([]string, 0, len(batch))
	for _, p := range batch {
		if _, seen := byAttempt[p.AttemptID]; !seen {
			order = append(order, p.AttemptID)
		}
		existing, seen := byAttempt[p.AttemptID]
		if !seen || p.QueuedAt >= existing.QueuedAt {
			byAttempt[p.AttemptID] = p
		}
	}
	out := make([]*progressPayload, 0, len(byAttempt))
	for _, id := range order {
		out = append(out, byAttempt[id])
	}
	return out
}

func (w *ProgressWorker) persist(ctx context.Context, p *progressPayload) error {
	attemptID, err := uuid.Parse(p.AttemptID)
	if err != nil {
		w.log.Error().Str("attempt_id", p.AttemptID).Msg("Dropping snapshot with invalid UUID")
		return nil
	}

	err = w.attempts.SaveProgress(ctx, attemptID, p.Answers, p.TimeRemaining, p.TabSwitchCount)
	if errors.Is(err, repository.ErrAlreadySubmitted) || errors.Is(err, repository.ErrAttemptNotFound) {
		// The attempt was finalized or removed after this snapshot was
		// queued; the stale snapshot is simply dropped.
		return nil
	}
	return err
}

func (w *ProgressWorker) requeue(ctx context.Context, items []*progressPayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range items {
		data, _ := json.Marshal(p)
		pipe.RPush(ctx, config.WorkerKey.PersistProgressQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
	} else {
		w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
		time.Sleep(2 * time.Second)
	}
}

func (w *ProgressWorker) shutdown(buffer []*progressPayload) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Pull whatever is still queued so nothing is stranded across restart.
	for len(buffer) < BatchSize*4 {
		result, err := w.rdb.LPop(shutdownCtx, config.WorkerKey.PersistProgressQueue).Result()
		if err != nil {
			break
		}
		var payload progressPayload
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}
		buffer = append(buffer, &payload)
	}

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
	w.log.Info().Msg("Worker stopped")
}
