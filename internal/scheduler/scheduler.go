package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/tasks"
)

// DispatchFunc runs one due task. The scheduler calls it on a fresh
// goroutine so a slow or stuck task never delays another task's fire time.
type DispatchFunc func(ctx context.Context, taskID string)

const (
	// below this remaining delay the coarse timer is abandoned for a
	// polling fine-wait, so imprecise timer wakeups can never dispatch
	// before the fire time
	fineWaitWindow = 10 * time.Millisecond
	fineWaitStep   = 200 * time.Microsecond
)

// Scheduler holds pending tasks in fire-time order and hands each to the
// dispatch function at, and never before, its fire time. Adding a task with
// a nearer fire time than the one currently awaited preempts the wait.
type Scheduler struct {
	registry *tasks.Registry
	dispatch DispatchFunc
	log      *zap.SugaredLogger

	mu sync.Mutex
	h  fireHeap

	wake chan struct{}
	wg   sync.WaitGroup
}

func New(registry *tasks.Registry, dispatch DispatchFunc, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		registry: registry,
		dispatch: dispatch,
		log:      log,
		wake:     make(chan struct{}, 1),
	}
}

// Add enqueues a task for firing. Safe to call concurrently with Run.
func (s *Scheduler) Add(t tasks.Task) {
	s.mu.Lock()
	heap.Push(&s.h, fireEntry{id: t.ID, at: t.FireTime})
	s.mu.Unlock()
	s.nudge()
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the firing loop until ctx is cancelled, then waits for all
// in-flight dispatches to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next, ok := s.peek()
		if !ok {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return ctx.Err()
			case <-s.wake:
				continue
			}
		}

		if d := time.Until(next.at); d > fineWaitWindow {
			timer := time.NewTimer(d - fineWaitWindow)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.wg.Wait()
				return ctx.Err()
			case <-s.wake:
				// a nearer task may have arrived; re-evaluate
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		// the timer can wake marginally off target; poll out the
		// remainder so nothing fires early
		for time.Now().Before(next.at) {
			if ctx.Err() != nil {
				s.wg.Wait()
				return ctx.Err()
			}
			time.Sleep(fineWaitStep)
		}

		s.fireDue(ctx)
	}
}

func (s *Scheduler) peek() (fireEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 {
		return fireEntry{}, false
	}
	return s.h[0], true
}

// fireDue pops every entry whose fire time has arrived, in fire-time order,
// and dispatches the still-pending ones. Cancelled or otherwise terminal
// tasks are skipped without dispatch.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	var due []fireEntry
	for len(s.h) > 0 && !s.h[0].at.After(now) {
		due = append(due, heap.Pop(&s.h).(fireEntry))
	}
	s.mu.Unlock()

	for _, e := range due {
		t, err := s.registry.Get(e.id)
		if err != nil {
			s.log.Warnw("due task missing from registry", "task", e.id, "err", err)
			continue
		}
		if t.Status != tasks.StatusPending {
			s.log.Infow("skipping task at fire time", "task", e.id, "status", t.Status)
			continue
		}
		s.log.Infow("firing task", "task", e.id, "slot", t.Slot.String(),
			"lateness", time.Since(t.FireTime))
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			s.dispatch(ctx, id)
		}(e.id)
	}
}

type fireEntry struct {
	id string
	at time.Time
}

type fireHeap []fireEntry

func (h fireHeap) Len() int            { return len(h) }
func (h fireHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h fireHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *fireHeap) Push(x any)         { *h = append(*h, x.(fireEntry)) }
func (h *fireHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
