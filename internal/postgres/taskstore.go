package postgres

import (
	"context"
	"time"

	"github.com/example/court-scheduler/internal/booking"
	"github.com/example/court-scheduler/internal/db"
	"github.com/example/court-scheduler/internal/tasks"
)

// TaskStore is the pgx-backed tasks.Store.
type TaskStore struct{ db *db.DB }

func NewTaskStore(d *db.DB) *TaskStore { return &TaskStore{db: d} }

func (s *TaskStore) InsertTask(ctx context.Context, t tasks.Task) error {
	return s.db.Exec(ctx, `
INSERT INTO tasks(id,venue_no,field_no,field_type_no,field_name,begin_time,end_time,price,booking_date,fire_time,status,cancel_requested,created_at,updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		t.ID, t.Slot.VenueNo, t.Slot.FieldNo, t.Slot.FieldTypeNo, t.Slot.FieldName,
		t.Slot.BeginTime, t.Slot.EndTime, t.Slot.Price, t.Slot.Date, t.FireTime,
		string(t.Status), t.CancelRequested, t.CreatedAt, t.UpdatedAt)
}

func (s *TaskStore) UpdateTask(ctx context.Context, t tasks.Task) error {
	return s.db.Exec(ctx, `
UPDATE tasks SET status=$2, cancel_requested=$3, updated_at=$4 WHERE id=$1`,
		t.ID, string(t.Status), t.CancelRequested, t.UpdatedAt)
}

func (s *TaskStore) InsertAttempt(ctx context.Context, taskID string, rec tasks.AttemptRecord) error {
	return s.db.Exec(ctx, `
INSERT INTO task_attempts(task_id, attempted_at, outcome, detail) VALUES ($1,$2,$3,$4)`,
		taskID, rec.At, string(rec.Outcome), rec.Detail)
}

func (s *TaskStore) Get(ctx context.Context, id string) (tasks.Task, error) {
	var t tasks.Task
	var status string
	var bookingDate time.Time
	err := s.db.QueryRow(ctx, `
SELECT id,venue_no,field_no,field_type_no,field_name,begin_time,end_time,price,booking_date,fire_time,status,cancel_requested,created_at,updated_at
FROM tasks WHERE id=$1`, id).Scan(
		&t.ID, &t.Slot.VenueNo, &t.Slot.FieldNo, &t.Slot.FieldTypeNo, &t.Slot.FieldName,
		&t.Slot.BeginTime, &t.Slot.EndTime, &t.Slot.Price, &bookingDate, &t.FireTime,
		&status, &t.CancelRequested, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return tasks.Task{}, db.WrapNotFound(err)
	}
	t.Slot.Date = bookingDate
	st, err := tasks.ParseStatus(status)
	if err != nil {
		return tasks.Task{}, err
	}
	t.Status = st
	t.Attempts, err = s.loadAttempts(ctx, t.ID)
	if err != nil {
		return tasks.Task{}, err
	}
	return t, nil
}

// CancelOpen is the persistence-layer mirror of the registry's Cancel:
// pending tasks become cancelled, running tasks get the cooperative flag,
// terminal tasks are untouched. Used by the offline CLI.
func (s *TaskStore) CancelOpen(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return db.ErrNotFound
	}
	if err := s.db.Exec(ctx, `
UPDATE tasks SET status='cancelled', updated_at=now() WHERE id=$1 AND status='pending'`, id); err != nil {
		return err
	}
	return s.db.Exec(ctx, `
UPDATE tasks SET cancel_requested=TRUE, updated_at=now() WHERE id=$1 AND status='running'`, id)
}

func (s *TaskStore) LoadOpen(ctx context.Context) ([]tasks.Task, error) {
	rows, err := s.db.Query(ctx, `
SELECT id,venue_no,field_no,field_type_no,field_name,begin_time,end_time,price,booking_date,fire_time,status,cancel_requested,created_at,updated_at
FROM tasks
WHERE status IN ('pending','running')
ORDER BY fire_time ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tasks.Task
	for rows.Next() {
		var t tasks.Task
		var status string
		var bookingDate time.Time
		if err := rows.Scan(
			&t.ID, &t.Slot.VenueNo, &t.Slot.FieldNo, &t.Slot.FieldTypeNo, &t.Slot.FieldName,
			&t.Slot.BeginTime, &t.Slot.EndTime, &t.Slot.Price, &bookingDate, &t.FireTime,
			&status, &t.CancelRequested, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		t.Slot.Date = bookingDate
		st, err := tasks.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		t.Status = st
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		attempts, err := s.loadAttempts(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Attempts = attempts
	}
	return out, nil
}

func (s *TaskStore) loadAttempts(ctx context.Context, taskID string) ([]tasks.AttemptRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT attempted_at, outcome, detail FROM task_attempts WHERE task_id=$1 ORDER BY attempted_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tasks.AttemptRecord
	for rows.Next() {
		var rec tasks.AttemptRecord
		var outcome string
		if err := rows.Scan(&rec.At, &outcome, &rec.Detail); err != nil {
			return nil, err
		}
		rec.Outcome = booking.Outcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}
