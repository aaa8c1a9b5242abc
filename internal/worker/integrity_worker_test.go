package worker

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestIntegrityPayloadRow(t *testing.T) {
	attemptID := uuid.New()
	paperID := uuid.New()
	studentID := uuid.New()

	p := &integrityPayload{
		AttemptID: attemptID.String(),
		PaperID:   paperID.String(),
		StudentID: studentID.String(),
		Kind:      "tab_switch",
		Detail:    "visibilitychange",
		Timestamp: 1700000000,
	}

	row, err := p.row()
	require.NoError(t, err)
	require.Len(t, row, len(integrityColumns))

	require.Equal(t, attemptID, row[0])
	require.Equal(t, paperID, row[1])
	require.Equal(t, studentID, row[2])
	require.Equal(t, "tab_switch", row[3])
	require.Equal(t, "visibilitychange", row[4])
	require.Equal(t, time.Unix(1700000000, 0), row[5])
}

func TestIntegrityPayloadRowRejectsBadIDs(t *testing.T) {
	p := &integrityPayload{
		AttemptID: uuid.NewString(),
		PaperID:   "not-a-uuid",
		StudentID: uuid.NewString(),
		Kind:      "tab_switch",
	}
	_, err := p.row()
	require.Error(t, err)
}
