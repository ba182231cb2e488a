package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/booking"
)

// Store persists registry mutations. The in-memory registry stays
// authoritative while the process lives; the store exists so pending work
// survives a restart. A nil Store is valid and keeps everything in memory.
type Store interface {
	InsertTask(ctx context.Context, t Task) error
	UpdateTask(ctx context.Context, t Task) error
	InsertAttempt(ctx context.Context, taskID string, rec AttemptRecord) error
	// LoadOpen returns every stored task that is pending or running,
	// attempt history included.
	LoadOpen(ctx context.Context) ([]Task, error)
}

// Registry owns all scheduled tasks and is the single writer of their
// status. Mutations on one task are serialized behind a per-task lock;
// different tasks never contend with each other.
type Registry struct {
	store Store
	log   *zap.SugaredLogger

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	task Task
}

func NewRegistry(store Store, log *zap.SugaredLogger) *Registry {
	return &Registry{
		store:   store,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Create registers a new pending task. Fire times that have already passed
// are rejected.
func (r *Registry) Create(ctx context.Context, slot booking.Slot, fireTime time.Time) (Task, error) {
	if err := slot.Validate(); err != nil {
		return Task{}, err
	}
	now := time.Now()
	if !fireTime.After(now) {
		return Task{}, ErrFireTimeInPast
	}
	t := Task{
		ID:        uuid.NewString(),
		Slot:      slot,
		FireTime:  fireTime,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.entries[t.ID] = &entry{task: t}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.InsertTask(ctx, t); err != nil {
			r.log.Warnw("persist task create failed", "task", t.ID, "err", err)
		}
	}
	return t, nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	return e, ok
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id string) (Task, error) {
	e, ok := r.lookup(id)
	if !ok {
		return Task{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.clone(), nil
}

// List returns snapshots of all tasks ordered by fire time.
func (r *Registry) List() []Task {
	r.mu.RLock()
	out := make([]Task, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		out = append(out, e.task.clone())
		e.mu.Unlock()
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FireTime.Before(out[j].FireTime) })
	return out
}

// Cancel is idempotent. A pending task becomes Cancelled immediately; a
// running task gets its cancellation flag set and the engine honors it at
// its next checkpoint. Terminal tasks are left untouched.
func (r *Registry) Cancel(ctx context.Context, id string) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.task.Status.Terminal():
		return nil
	case e.task.Status == StatusPending:
		e.task.Status = StatusCancelled
		e.task.UpdatedAt = time.Now()
	default: // running
		if e.task.CancelRequested {
			return nil
		}
		e.task.CancelRequested = true
		e.task.UpdatedAt = time.Now()
	}
	r.persist(ctx, e.task)
	return nil
}

// CancelRequested reports the cooperative cancellation flag.
func (r *Registry) CancelRequested(id string) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.CancelRequested
}

// UpdateStatus moves a task to next and optionally appends an attempt
// record. Passing next == StatusRunning with the task already running only
// records the attempt. Leaving a terminal state or re-entering pending is
// ErrInvalidTransition.
func (r *Registry) UpdateStatus(ctx context.Context, id string, next Status, rec *AttemptRecord) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.task.Status
	if cur.Terminal() {
		return ErrInvalidTransition
	}
	if next == StatusPending {
		return ErrInvalidTransition
	}
	if cur == StatusPending && next == StatusSucceeded {
		// a task must pass through Running before it can succeed
		return ErrInvalidTransition
	}

	e.task.Status = next
	e.task.UpdatedAt = time.Now()
	if rec != nil {
		e.task.Attempts = append(e.task.Attempts, *rec)
		if r.store != nil {
			if err := r.store.InsertAttempt(ctx, id, *rec); err != nil {
				r.log.Warnw("persist attempt failed", "task", id, "err", err)
			}
		}
	}
	r.persist(ctx, e.task)
	return nil
}

func (r *Registry) persist(ctx context.Context, t Task) {
	if r.store == nil {
		return
	}
	if err := r.store.UpdateTask(ctx, t); err != nil {
		r.log.Warnw("persist task update failed", "task", t.ID, "status", t.Status, "err", err)
	}
}

// Restore loads open tasks from the store after a restart. The rule is
// deterministic: a pending or running task whose fire time is still in the
// future re-enters as Pending with its original fire time and is returned in
// resched; one whose fire time has passed is marked Failed ("fire window
// missed while offline") and returned in missed so the caller can notify the
// operator. Interrupted attempts never resume mid-flight.
func (r *Registry) Restore(ctx context.Context) (resched, missed []Task, err error) {
	if r.store == nil {
		return nil, nil, nil
	}
	stored, err := r.store.LoadOpen(ctx)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	for _, t := range stored {
		if t.FireTime.After(now) {
			t.Status = StatusPending
			t.CancelRequested = false
		} else {
			t.Status = StatusFailed
			rec := AttemptRecord{
				At:      now,
				Outcome: booking.OutcomeTransient,
				Detail:  "fire window missed while offline",
			}
			t.Attempts = append(t.Attempts, rec)
			if err := r.store.InsertAttempt(ctx, t.ID, rec); err != nil {
				r.log.Warnw("persist attempt failed", "task", t.ID, "err", err)
			}
		}
		t.UpdatedAt = now

		r.mu.Lock()
		r.entries[t.ID] = &entry{task: t}
		r.mu.Unlock()

		r.persist(ctx, t)
		if t.Status == StatusPending {
			resched = append(resched, t.clone())
		} else {
			r.log.Warnw("task recovered past its fire time",
				"task", t.ID, "fire_time", t.FireTime)
			missed = append(missed, t.clone())
		}
	}
	return resched, missed, nil
}
