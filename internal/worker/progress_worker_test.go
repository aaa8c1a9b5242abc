package worker

import (
	"testing"

	"github.com/paperdesk/paperdesk-backend/internal/model"
	"github.com/stretchr/testify/require"
)

func TestNewestPerAttempt(t *testing.T) {
	a := "11111111-1111-1111-1111-111111111111"
	b := "22222222-2222-2222-2222-222222222222"

	batch := []*progressPayload{
		{AttemptID: a, TimeRemaining: 100, QueuedAt: 10},
		{AttemptID: b, TimeRemaining: 200, QueuedAt: 11},
		{AttemptID: a, TimeRemaining: 90, QueuedAt: 12},
		{AttemptID: a, TimeRemaining: 80, QueuedAt: 14, Answers: model.AnswerSet{{Number: 1, Answer: "A) x"}}},
	}

	out := newestPerAttempt(batch)
	require.Len(t, out, 2)

	// First-seen order is preserved, the newest snapshot wins.
	require.Equal(t, a, out[0].AttemptID)
	require.Equal(t, 80, out[0].TimeRemaining)
	require.Equal(t, int64(14), out[0].QueuedAt)
	require.Len(t, out[0].Answers, 1)

	require.Equal(t, b, out[1].AttemptID)
	require.Equal(t, 200, out[1].TimeRemaining)
}

func TestNewestPerAttemptEqualTimestampsKeepsLater(t *testing.T) {
	a := "11111111-1111-1111-1111-111111111111"

	// Two saves within the same second: queue order is the tiebreaker.
	batch := []*progressPayload{
		{AttemptID: a, TimeRemaining: 50, QueuedAt: 20},
		{AttemptID: a, TimeRemaining: 49, QueuedAt: 20},
	}

	out := newestPerAttempt(batch)
	require.Len(t, out, 1)
	require.Equal(t, 49, out[0].TimeRemaining)
}

func TestNewestPerAttemptEmptyBatch(t *testing.T) {
	require.Empty(t, newestPerAttempt(nil))
}
