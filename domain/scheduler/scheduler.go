package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// taskTimeout bounds a single task run. Maintenance sweeps over a large
// bucket can be slow but anything past this is stuck, not slow.
const taskTimeout = 30 * time.Minute

// TaskFunc is the function signature for scheduled tasks
type TaskFunc func(ctx context.Context) error

// Scheduler wraps robfig/cron with named, replaceable registrations.
// Registering a name twice replaces the previous entry, so task setup
// is idempotent across restarts. Expressions use seconds precision
// ("sec min hour dom month dow").
type Scheduler struct {
	cron    *cron.Cron
	log     *slog.Logger
	mu      sync.RWMutex
	entries map[string]cron.EntryID
	running bool
}

// NewScheduler creates a scheduler. Tasks do not fire until Start.
func NewScheduler(log *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		log:     log.With(logger.Scope("scheduler")),
		entries: make(map[string]cron.EntryID),
	}
}

// AddCronTask registers task under name with a cron expression,
// replacing any existing entry for that name.
func (s *Scheduler) AddCronTask(name, expr string, task TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(expr, s.wrap(name, task))
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.replace(name, id)

	s.log.Info("scheduled task",
		slog.String("name", name),
		slog.String("schedule", expr))
	return nil
}

// AddIntervalTask registers task under name to run every interval,
// replacing any existing entry for that name.
func (s *Scheduler) AddIntervalTask(name string, interval time.Duration, task TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc("@every "+interval.String(), s.wrap(name, task))
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.replace(name, id)

	s.log.Info("scheduled task",
		slog.String("name", name),
		slog.Duration("interval", interval))
	return nil
}

// replace swaps the cron entry registered under name. Caller holds mu.
func (s *Scheduler) replace(name string, id cron.EntryID) {
	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old)
	}
	s.entries[name] = id
}

// RemoveTask drops the entry registered under name, if any
func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok {
		return
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	s.log.Info("removed task", slog.String("name", name))
}

// wrap gives a task its run context, timeout and error logging. Task
// errors are logged, never propagated: the next tick runs regardless.
func (s *Scheduler) wrap(name string, task TaskFunc) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()

		start := time.Now()
		if err := task(ctx); err != nil {
			s.log.Error("task failed",
				slog.String("name", name),
				slog.Duration("elapsed", time.Since(start)),
				logger.Error(err))
			return
		}
		s.log.Debug("task completed",
			slog.String("name", name),
			slog.Duration("elapsed", time.Since(start)))
	}
}

// Start begins firing registered tasks. Safe to call more than once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.cron.Start()
	s.running = true
	s.log.Info("scheduler started", slog.Int("tasks", len(s.entries)))
	return nil
}

// Stop halts scheduling and waits for in-flight tasks until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stopped with tasks still running")
	}
	s.running = false
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ListTasks returns the names of all registered tasks
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// TaskInfo describes a registered task's schedule state
type TaskInfo struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
	PrevRun time.Time `json:"prev_run,omitempty"`
}

// GetTaskInfo returns schedule state for every registered task
func (s *Scheduler) GetTaskInfo() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := make(map[cron.EntryID]cron.Entry)
	for _, e := range s.cron.Entries() {
		byID[e.ID] = e
	}

	infos := make([]TaskInfo, 0, len(s.entries))
	for name, id := range s.entries {
		e, ok := byID[id]
		if !ok {
			continue
		}
		infos = append(infos, TaskInfo{Name: name, NextRun: e.Next, PrevRun: e.Prev})
	}
	return infos
}
