package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/court-scheduler/internal/booking"
	"github.com/example/court-scheduler/internal/tasks"
)

func TestBuildBody(t *testing.T) {
	fireAt := time.Date(2026, 9, 2, 8, 0, 0, 0, time.Local)
	task := tasks.Task{
		ID: "abc",
		Slot: booking.Slot{
			FieldName: "court 3",
			BeginTime: "08:00",
			EndTime:   "09:00",
			Date:      time.Date(2026, 9, 4, 0, 0, 0, 0, time.Local),
		},
		FireTime: fireAt,
		Status:   tasks.StatusSucceeded,
		Attempts: []tasks.AttemptRecord{
			{At: fireAt.Add(200 * time.Millisecond), Outcome: booking.OutcomeAuthExpired, Detail: "portal rejected session"},
			{At: fireAt.Add(900 * time.Millisecond), Outcome: booking.OutcomeSuccess, Detail: "order D202609040001"},
		},
	}

	body := buildBody(task)
	require.Contains(t, body, "court 3 2026-09-04 08:00-09:00")
	require.Contains(t, body, "Status:     succeeded")
	require.Contains(t, body, "Attempts (2):")
	require.Contains(t, body, "auth_expired")
	require.Contains(t, body, "order D202609040001")
}
