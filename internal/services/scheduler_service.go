// Scheduler Service
// Drives the withdrawal engine tasks on independent tickers
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/toncenter/examples/internal/metrics"
)

// ErrUnknownTask the trigger names no registered task
var ErrUnknownTask = errors.New("unknown task")

// Task names
const (
	TaskBatching        = "batching"
	TaskSubmit          = "submit"
	TaskReconcile       = "reconcile"
	TaskReconcileJetton = "reconcile_jettons"
)

// ScheduleIntervals task periods and the per-tick deadline
type ScheduleIntervals struct {
	Batching        time.Duration
	Submit          time.Duration
	Reconcile       time.Duration
	ReconcileJetton time.Duration
	TickTimeout     time.Duration
}

// scheduledTask one periodic task with its own re-entrancy guard
type scheduledTask struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
	mu       sync.Mutex
}

// SchedulerService manages periodic background tasks
type SchedulerService struct {
	tasks       map[string]*scheduledTask
	order       []string
	tickTimeout time.Duration
	stopChan    chan struct{}
	group       errgroup.Group
	stopOnce    sync.Once
}

// NewSchedulerService creates a new SchedulerService instance
func NewSchedulerService(builder *BatchBuilder, submitter *BatchSubmitter, reconciler *LedgerReconciler, intervals ScheduleIntervals) *SchedulerService {
	s := &SchedulerService{
		tasks:       make(map[string]*scheduledTask),
		tickTimeout: intervals.TickTimeout,
		stopChan:    make(chan struct{}),
	}
	s.register(TaskReconcile, intervals.Reconcile, reconciler.Reconcile)
	s.register(TaskSubmit, intervals.Submit, submitter.SubmitPending)
	s.register(TaskBatching, intervals.Batching, func(ctx context.Context) error {
		_, err := builder.FormBatches(ctx)
		return err
	})
	s.register(TaskReconcileJetton, intervals.ReconcileJetton, reconciler.ReconcileJettons)
	return s
}

func (s *SchedulerService) register(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.tasks[name] = &scheduledTask{name: name, interval: interval, run: run}
	s.order = append(s.order, name)
}

// Start runs the reconciler once synchronously, so records left undiscovered by
// a crash are applied before anything is submitted, then starts every task
func (s *SchedulerService) Start(ctx context.Context) {
	logrus.Info("🚀 Scheduler service starting...")

	logrus.Info("🔄 Running initial reconcile...")
	if _, err := s.Trigger(ctx, TaskReconcile); err != nil {
		logrus.WithError(err).Error("❌ Initial reconcile failed")
	}

	for _, name := range s.order {
		t := s.tasks[name]
		logrus.Infof("📅 %s interval: %v", t.name, t.interval)
		s.group.Go(func() error {
			s.loop(ctx, t)
			return nil
		})
	}
	logrus.Info("✅ Scheduler service started")
}

// Stop stops the tickers and waits for in-flight ticks to finish
func (s *SchedulerService) Stop() {
	s.stopOnce.Do(func() {
		logrus.Info("🛑 Stopping scheduler service...")
		close(s.stopChan)
		_ = s.group.Wait()
		logrus.Info("✅ Scheduler service stopped")
	})
}

// loop fires the task immediately and on every tick. Each run gets its own
// goroutine so an overrunning tick shows up as a skipped trigger.
func (s *SchedulerService) loop(ctx context.Context, t *scheduledTask) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	fire := func() {
		s.group.Go(func() error {
			if _, err := s.Trigger(ctx, t.name); err != nil {
				logrus.WithError(err).Errorf("❌ Scheduled %s failed", t.name)
			}
			return nil
		})
	}

	if t.name != TaskReconcile {
		fire()
	}
	for {
		select {
		case <-ticker.C:
			fire()
		case <-s.stopChan:
			logrus.Infof("🛑 %s task stopped", t.name)
			return
		case <-ctx.Done():
			logrus.Infof("🛑 %s task stopped", t.name)
			return
		}
	}
}

// Trigger runs one tick of the named task unless a tick of it is already in
// flight, in which case it is a no-op and returns false. The tick runs detached
// from ctx cancellation, bounded by the tick timeout, so a submission is never
// cut between transmission and persistence.
func (s *SchedulerService) Trigger(ctx context.Context, name string) (bool, error) {
	t, ok := s.tasks[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	if !t.mu.TryLock() {
		metrics.TaskRuns.WithLabelValues(name, "skipped").Inc()
		logrus.Debugf("⏭️ %s still running, trigger skipped", name)
		return false, nil
	}
	defer t.mu.Unlock()

	tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.tickTimeout)
	defer cancel()

	start := time.Now()
	err := t.run(tickCtx)
	metrics.TaskDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TaskRuns.WithLabelValues(name, "error").Inc()
		return true, err
	}
	metrics.TaskRuns.WithLabelValues(name, "ok").Inc()
	return true, nil
}

// Tasks returns the registered task names in start order
func (s *SchedulerService) Tasks() []string {
	return append([]string(nil), s.order...)
}
