package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/metrics"
	"golang.org/x/sync/semaphore"
)

type TaskFunc func(ctx context.Context) error

// TaskStatus is a snapshot of a PeriodicTask, served by /api/v1/tasks.
type TaskStatus struct {
	Name         string        `json:"name"`
	Interval     string        `json:"interval"`
	Started      bool          `json:"started"`
	InFlight     bool          `json:"inFlight"`
	Runs         int64         `json:"runs"`
	Skips        int64         `json:"skips"`
	Failures     int64         `json:"failures"`
	LastRunAt    *time.Time    `json:"lastRunAt,omitempty"`
	LastDuration time.Duration `json:"lastDuration"`
	LastError    string        `json:"lastError,omitempty"`
}

// PeriodicTask runs fn every interval. A tick that arrives while the previous
// cycle is still in flight is skipped, never queued.
type PeriodicTask struct {
	name     string
	interval time.Duration
	fn       TaskFunc
	guard    *semaphore.Weighted
	running  atomic.Bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup
	status   TaskStatus
}

func NewPeriodicTask(name string, interval time.Duration, fn TaskFunc) *PeriodicTask {
	return &PeriodicTask{
		name:     name,
		interval: interval,
		fn:       fn,
		guard:    semaphore.NewWeighted(1),
		status:   TaskStatus{Name: name, Interval: interval.String()},
	}
}

func (t *PeriodicTask) Name() string { return t.name }

// Start launches the ticker loop and runs a first cycle immediately.
func (t *PeriodicTask) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return fmt.Errorf("task %s already started", t.name)
	}
	if t.interval <= 0 {
		return fmt.Errorf("task %s has invalid interval %s", t.name, t.interval)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.loopDone = make(chan struct{})
	t.status.Started = true

	go t.loop(loopCtx, t.loopDone)
	logger.WithTask(t.name).Infof("Task started with interval %s", t.interval)
	return nil
}

func (t *PeriodicTask) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.trigger(ctx)
		}
	}
}

// trigger starts a cycle in the background unless one is in flight.
func (t *PeriodicTask) trigger(ctx context.Context) {
	if !t.guard.TryAcquire(1) {
		t.recordSkip()
		return
	}
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		defer t.guard.Release(1)
		_ = t.execute(ctx)
	}()
}

// RunNow runs one cycle synchronously, returning ErrCycleRunning when a
// cycle is already in flight.
func (t *PeriodicTask) RunNow(ctx context.Context) error {
	if !t.guard.TryAcquire(1) {
		t.recordSkip()
		return ErrCycleRunning
	}
	defer t.guard.Release(1)
	return t.execute(ctx)
}

func (t *PeriodicTask) execute(ctx context.Context) (err error) {
	start := time.Now()
	t.running.Store(true)
	defer func() {
		t.running.Store(false)
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
		t.recordRun(start, time.Since(start), err)
	}()
	return t.fn(ctx)
}

// Stop cancels the loop and waits for in-flight cycles to observe the
// cancellation.
func (t *PeriodicTask) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.loopDone
	t.cancel, t.loopDone = nil, nil
	t.status.Started = false
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	t.inflight.Wait()
	logger.WithTask(t.name).Info("Task stopped")
}

func (t *PeriodicTask) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status
	s.InFlight = t.running.Load()
	return s
}

func (t *PeriodicTask) recordSkip() {
	metrics.TaskRunsTotal.WithLabelValues(t.name, "skipped").Inc()
	logger.WithTask(t.name).Debug("Previous cycle still running; tick skipped")

	t.mu.Lock()
	t.status.Skips++
	t.mu.Unlock()
}

func (t *PeriodicTask) recordRun(start time.Time, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.Canceled) {
			outcome = "canceled"
		}
		logger.WithTask(t.name).WithError(err).Error("Task cycle failed")
	}
	metrics.TaskRunsTotal.WithLabelValues(t.name, outcome).Inc()
	metrics.TaskDuration.WithLabelValues(t.name).Observe(elapsed.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Runs++
	t.status.LastRunAt = &start
	t.status.LastDuration = elapsed
	t.status.LastError = ""
	if err != nil {
		t.status.Failures++
		t.status.LastError = err.Error()
	}
}

// TaskSet is the collection of periodic tasks owned by the process.
type TaskSet struct {
	tasks []*PeriodicTask
}

func NewTaskSet(tasks ...*PeriodicTask) *TaskSet {
	return &TaskSet{tasks: tasks}
}

func (s *TaskSet) Get(name string) (*PeriodicTask, bool) {
	for _, t := range s.tasks {
		if t.name == name {
			return t, true
		}
	}
	return nil, false
}

func (s *TaskSet) StartAll(ctx context.Context) error {
	for _, t := range s.tasks {
		if err := t.Start(ctx); err != nil {
			s.StopAll()
			return err
		}
	}
	return nil
}

func (s *TaskSet) StopAll() {
	for _, t := range s.tasks {
		t.Stop()
	}
}

func (s *TaskSet) Statuses() []TaskStatus {
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Status())
	}
	return out
}
