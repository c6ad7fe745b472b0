// Package scheduler runs periodic maintenance tasks on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// Task is one scheduled pass. The context is cancelled when the scheduler stops.
type Task func(ctx context.Context) error

// Scheduler wraps a cron instance whose entries are named tasks.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser

	mu    sync.Mutex
	tasks map[string]Task
	ids   map[string]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped Scheduler. Schedules use the five-field cron format
// or descriptors such as "@every 1m".
func New() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	log := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log))),
		parser: parser,
		tasks:  make(map[string]Task),
		ids:    make(map[string]cron.EntryID),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add schedules task under name, replacing a task of the same name.
func (s *Scheduler) Add(name, spec string, task Task) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return exception.NewBatchErrorf("scheduler", "invalid schedule %q for %s: %v", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ids[name]; ok {
		s.cron.Remove(id)
	}
	s.tasks[name] = task
	s.ids[name] = s.cron.Schedule(schedule, cron.FuncJob(func() { s.run(name, task) }))
	logger.Infof("Scheduled %s (%s), next run at %s.", name, spec, schedule.Next(time.Now()).Format(time.RFC3339))
	return nil
}

// Trigger runs the named task now, outside its schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduled task %s: %w", name, exception.ErrNotFound)
	}
	return s.run(name, task)
}

// Names lists the scheduled tasks.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for n := range s.tasks {
		names = append(names, n)
	}
	return names
}

func (s *Scheduler) run(name string, task Task) error {
	start := time.Now()
	err := task(s.ctx)
	if err != nil {
		logger.Errorf("Scheduled task %s failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
		return err
	}
	logger.Debugf("Scheduled task %s finished in %s.", name, time.Since(start).Round(time.Millisecond))
	return nil
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running tasks and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's internal logging to the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.With(keysAndValues...).Debugf("cron: %s", msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.With(keysAndValues...).Errorf("cron: %s: %v", msg, err)
}
