package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/booking"
	"github.com/example/court-scheduler/internal/credential"
	"github.com/example/court-scheduler/internal/notify"
	"github.com/example/court-scheduler/internal/tasks"
)

// Config bounds a task's retry behavior. Every budget guarantees
// termination: exceeding any of them yields a terminal Failed.
type Config struct {
	// MaxAttempts caps booking attempts per task.
	MaxAttempts int
	// MaxReauths caps credential refreshes per task.
	MaxReauths int
	// Grace is the wall-clock window after the fire time during which
	// retries are allowed.
	Grace time.Duration
	// BackoffBase doubles per retry up to BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// AttemptTimeout bounds one booking call; exceeding it surfaces as a
	// transient error from the client.
	AttemptTimeout time.Duration
	// RetryUnavailable keeps retrying definitive slot_unavailable results
	// within budget, for portals that release slots during the window.
	RetryUnavailable bool
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.MaxReauths <= 0 {
		c.MaxReauths = 3
	}
	if c.Grace <= 0 {
		c.Grace = 15 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 3 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 3 * time.Second
	}
	return c
}

// Engine drives one dispatched task through the auth-check/attempt/retry
// loop and records the outcome. All status writes go through the registry;
// the notifier is called exactly once per terminal transition.
type Engine struct {
	registry *tasks.Registry
	creds    *credential.Store
	client   booking.Client
	notifier notify.Notifier
	log      *zap.SugaredLogger
	cfg      Config
}

func New(registry *tasks.Registry, creds *credential.Store, client booking.Client, notifier notify.Notifier, log *zap.SugaredLogger, cfg Config) *Engine {
	return &Engine{
		registry: registry,
		creds:    creds,
		client:   client,
		notifier: notifier,
		log:      log,
		cfg:      cfg.withDefaults(),
	}
}

// Run executes one task to a terminal state. It is the scheduler's dispatch
// target and runs on its own goroutine.
func (e *Engine) Run(ctx context.Context, taskID string) {
	t, err := e.registry.Get(taskID)
	if err != nil {
		e.log.Errorw("dispatched task not in registry", "task", taskID, "err", err)
		return
	}
	if now := time.Now(); now.Before(t.FireTime) {
		// the scheduler's fine-wait should make this impossible
		e.log.Errorw("scheduling violation: dispatched before fire time",
			"task", taskID, "early_by", t.FireTime.Sub(now))
	}
	if err := e.registry.UpdateStatus(ctx, taskID, tasks.StatusRunning, nil); err != nil {
		// lost the race with a cancellation; nothing to run
		e.log.Infow("task no longer runnable at dispatch", "task", taskID, "err", err)
		return
	}

	final, reason := e.attemptLoop(ctx, t)
	if final == "" {
		// shutdown mid-run: leave the task running in the store, restart
		// recovery decides what happens to it
		e.log.Infow("task interrupted by shutdown", "task", taskID)
		return
	}

	if err := e.registry.UpdateStatus(ctx, taskID, final, nil); err != nil {
		e.log.Errorw("terminal status update rejected", "task", taskID, "status", final, "err", err)
		return
	}
	e.log.Infow("task finished", "task", taskID, "status", final, "reason", reason)

	done, err := e.registry.Get(taskID)
	if err != nil {
		return
	}
	if err := e.notifier.Notify(ctx, done); err != nil {
		e.log.Warnw("notify failed", "task", taskID, "err", err)
	}
}

func (e *Engine) attemptLoop(ctx context.Context, t tasks.Task) (tasks.Status, string) {
	deadline := t.FireTime.Add(e.cfg.Grace)
	attempts, reauths := 0, 0
	for {
		// cancellation checkpoint: before every attempt and re-auth; an
		// attempt already in flight always finishes first
		if e.registry.CancelRequested(t.ID) {
			return tasks.StatusCancelled, "cancelled by operator"
		}
		if ctx.Err() != nil {
			return "", ""
		}
		now := time.Now()
		if !now.Before(deadline) {
			return tasks.StatusFailed, "grace window elapsed"
		}
		if attempts >= e.cfg.MaxAttempts {
			return tasks.StatusFailed, fmt.Sprintf("attempt budget exhausted (%d)", attempts)
		}

		cred, ok := e.creds.Current()
		if !ok || cred.Expired(now) {
			if reauths >= e.cfg.MaxReauths {
				return tasks.StatusFailed, "auth unavailable: re-login budget exhausted"
			}
			reauths++
			fresh, err := e.creds.Refresh(ctx)
			if err != nil {
				e.log.Warnw("re-login failed", "task", t.ID, "reauth", reauths, "err", err)
				e.pause(ctx, e.backoff(reauths), deadline)
				continue
			}
			cred = fresh
		}

		attempts++
		actx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		res := e.client.Reserve(actx, cred, t.Slot)
		cancel()

		rec := tasks.AttemptRecord{At: time.Now(), Outcome: res.Outcome, Detail: res.Detail}
		if err := e.registry.UpdateStatus(ctx, t.ID, tasks.StatusRunning, &rec); err != nil {
			e.log.Warnw("recording attempt failed", "task", t.ID, "err", err)
		}
		e.log.Infow("attempt finished", "task", t.ID, "attempt", attempts,
			"outcome", res.Outcome, "detail", res.Detail)

		// a cancellation that arrived while the attempt was in flight wins
		// over its outcome; the attempt stays in the history but its result
		// is discarded
		if e.registry.CancelRequested(t.ID) {
			return tasks.StatusCancelled, "cancelled by operator"
		}

		switch res.Outcome {
		case booking.OutcomeSuccess:
			return tasks.StatusSucceeded, res.Detail
		case booking.OutcomeAuthExpired:
			// drop the rejected credential and loop back to the auth
			// check; the refresh budget bounds this
			e.creds.Invalidate(cred)
			continue
		case booking.OutcomeSlotUnavailable:
			if !res.StillAllocating && !e.cfg.RetryUnavailable {
				if res.Detail != "" {
					return tasks.StatusFailed, res.Detail
				}
				return tasks.StatusFailed, "slot unavailable"
			}
		case booking.OutcomeTransient:
		}

		e.pause(ctx, e.backoff(attempts), deadline)
	}
}

// backoff returns the delay before retry n (1-based), doubling from the base
// and clamped to the cap.
func (e *Engine) backoff(n int) time.Duration {
	d := e.cfg.BackoffBase
	for i := 1; i < n && d < e.cfg.BackoffCap; i++ {
		d *= 2
	}
	if d > e.cfg.BackoffCap {
		d = e.cfg.BackoffCap
	}
	return d
}

// pause sleeps for d, clamped to the task deadline, returning early on
// context cancellation.
func (e *Engine) pause(ctx context.Context, d time.Duration, deadline time.Time) {
	if rem := time.Until(deadline); d > rem {
		d = rem
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
