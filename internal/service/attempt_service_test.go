package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/paperdesk/paperdesk-backend/internal/config"
	"github.com/paperdesk/paperdesk-backend/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newAttemptTestService(t *testing.T) (*AttemptService, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewAttemptService(nil, nil, rdb, zerolog.Nop()), server, rdb
}

func TestOverlayHotStateWinsOverDurableSnapshot(t *testing.T) {
	svc, server, _ := newAttemptTestService(t)
	ctx := context.Background()

	attempt := &model.Attempt{
		ID:            uuid.New(),
		Answers:       model.AnswerSet{{Number: 1, Answer: "A) Old"}},
		TimeRemaining: 500,
	}

	answersKey := config.CacheKey.AttemptAnswersKey(attempt.ID.String())
	server.HSet(answersKey, "1", "B) New")
	server.HSet(answersKey, "2", "C) Fresh")
	progressKey := config.CacheKey.AttemptProgressKey(attempt.ID.String())
	server.HSet(progressKey, "time_remaining", "321")
	server.HSet(progressKey, "tab_switch_count", "1")

	svc.overlayHotState(ctx, attempt)

	require.Equal(t, model.AnswerSet{
		{Number: 1, Answer: "B) New"},
		{Number: 2, Answer: "C) Fresh"},
	}, attempt.Answers)
	require.Equal(t, 321, attempt.TimeRemaining)
	require.Equal(t, 1, attempt.TabSwitchCount)
}

func TestOverlayHotStateKeepsSnapshotWhenCold(t *testing.T) {
	svc, _, _ := newAttemptTestService(t)
	ctx := context.Background()

	attempt := &model.Attempt{
		ID:             uuid.New(),
		Answers:        model.AnswerSet{{Number: 3, Answer: "D) Durable"}},
		TimeRemaining:  120,
		TabSwitchCount: 1,
	}

	svc.overlayHotState(ctx, attempt)

	require.Equal(t, model.AnswerSet{{Number: 3, Answer: "D) Durable"}}, attempt.Answers)
	require.Equal(t, 120, attempt.TimeRemaining)
	require.Equal(t, 1, attempt.TabSwitchCount)
}

func TestOverlayHotStateSkipsMalformedFields(t *testing.T) {
	svc, server, _ := newAttemptTestService(t)
	ctx := context.Background()

	attempt := &model.Attempt{ID: uuid.New(), TimeRemaining: 90}

	answersKey := config.CacheKey.AttemptAnswersKey(attempt.ID.String())
	server.HSet(answersKey, "not-a-number", "A) Junk")
	server.HSet(answersKey, "2", "B) Kept")
	progressKey := config.CacheKey.AttemptProgressKey(attempt.ID.String())
	server.HSet(progressKey, "time_remaining", "NaN")

	svc.overlayHotState(ctx, attempt)

	require.Equal(t, model.AnswerSet{{Number: 2, Answer: "B) Kept"}}, attempt.Answers)
	require.Equal(t, 90, attempt.TimeRemaining)
}

func TestClearHotStateRemovesBothKeys(t *testing.T) {
	svc, server, _ := newAttemptTestService(t)
	ctx := context.Background()

	attemptID := uuid.New()
	server.HSet(config.CacheKey.AttemptAnswersKey(attemptID.String()), "1", "A) Gone")
	server.HSet(config.CacheKey.AttemptProgressKey(attemptID.String()), "time_remaining", "60")

	require.NoError(t, svc.ClearHotState(ctx, attemptID))
	require.False(t, server.Exists(config.CacheKey.AttemptAnswersKey(attemptID.String())))
	require.False(t, server.Exists(config.CacheKey.AttemptProgressKey(attemptID.String())))
}

func TestPushProgressWritesHotStateAndQueues(t *testing.T) {
	svc, server, _ := newAttemptTestService(t)
	ctx := context.Background()

	attemptID := uuid.New()
	req := model.SaveProgressRequest{
		Answers:        model.AnswerSet{{Number: 1, Answer: "A) Red"}},
		TimeRemaining:  45,
		TabSwitchCount: 1,
	}

	// Ownership and submitted-rejection sit above pushProgress and are
	// covered by the end-to-end suite.
	require.NoError(t, svc.pushProgress(ctx, attemptID, req))

	// A resume on another device sees the hot state immediately.
	attempt := &model.Attempt{ID: attemptID}
	svc.overlayHotState(ctx, attempt)
	require.Equal(t, req.Answers, attempt.Answers)
	require.Equal(t, 45, attempt.TimeRemaining)
	require.Equal(t, 1, attempt.TabSwitchCount)

	raw, err := server.List(config.WorkerKey.PersistProgressQueue)
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var queued progressJob
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &queued))
	require.Equal(t, attemptID.String(), queued.AttemptID)
	require.Equal(t, req.Answers, queued.Answers)
}

func TestPushProgressReplacesStateWholesale(t *testing.T) {
	svc, server, _ := newAttemptTestService(t)
	ctx := context.Background()

	attemptID := uuid.New()
	require.NoError(t, svc.pushProgress(ctx, attemptID, model.SaveProgressRequest{
		Answers:       model.AnswerSet{{Number: 1, Answer: "A) Red"}, {Number: 2, Answer: "B) Two"}},
		TimeRemaining: 50,
	}))
	require.NoError(t, svc.pushProgress(ctx, attemptID, model.SaveProgressRequest{
		Answers:       model.AnswerSet{{Number: 2, Answer: "C) Three"}},
		TimeRemaining: 40,
	}))

	// The second save overwrites; answer 1 must not survive the Del.
	attempt := &model.Attempt{ID: attemptID}
	svc.overlayHotState(ctx, attempt)
	require.Equal(t, model.AnswerSet{{Number: 2, Answer: "C) Three"}}, attempt.Answers)
	require.Equal(t, 40, attempt.TimeRemaining)

	raw, err := server.List(config.WorkerKey.PersistProgressQueue)
	require.NoError(t, err)
	require.Len(t, raw, 2)
}

func TestPushProgressExpiresHotState(t *testing.T) {
	svc, server, _ := newAttemptTestService(t)
	ctx := context.Background()

	attemptID := uuid.New()
	require.NoError(t, svc.pushProgress(ctx, attemptID, model.SaveProgressRequest{
		Answers:       model.AnswerSet{{Number: 1, Answer: "A) Red"}},
		TimeRemaining: 45,
	}))

	answersKey := config.CacheKey.AttemptAnswersKey(attemptID.String())
	progressKey := config.CacheKey.AttemptProgressKey(attemptID.String())
	require.Greater(t, server.TTL(answersKey), time.Duration(0))
	require.Greater(t, server.TTL(progressKey), time.Duration(0))

	// An attempt nobody finalizes disappears from Redis once the TTL runs.
	server.FastForward(hotStateTTL + time.Minute)
	require.False(t, server.Exists(answersKey))
	require.False(t, server.Exists(progressKey))
}
