package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Logger is the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Task is a unit of scheduled work.
type Task struct {
	Name string

	// Interval between runs. Zero registers an on-demand task.
	Interval time.Duration

	// RunOnStart runs the task once as soon as the scheduler starts.
	RunOnStart bool

	Run func(ctx context.Context) error
}

// State is a snapshot of a task's run history.
type State struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Running      bool          `json:"running"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
	Skipped      int           `json:"skipped"`
	LastStart    time.Time     `json:"last_start,omitzero"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

type entry struct {
	task    Task
	running atomic.Bool

	mu    sync.Mutex
	state State
}

// Scheduler runs tasks.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Scheduler struct {
	logger Logger

	mu      sync.RWMutex
	tasks   map[string]*entry
	cancel  context.CancelFunc
	started bool

	wg sync.WaitGroup
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		logger: noopLogger{},
		tasks:  make(map[string]*entry),
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Add registers a task. Tasks added after Start only run via RunNow.
func (s *Scheduler) Add(task Task) error {
	task.Name = strings.TrimSpace(task.Name)
	if task.Name == "" || task.Run == nil || task.Interval < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidTask, task.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.Name)
	}
	s.tasks[task.Name] = &entry{
		task:  task,
		state: State{Name: task.Name, Interval: task.Interval},
	}
	return nil
}

// Start launches a loop per interval task. The loops stop when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	for _, e := range s.tasks {
		if e.task.Interval == 0 && !e.task.RunOnStart {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, e)
	}

	s.logger.Info("scheduler started", "tasks", len(s.tasks))
	return nil
}

// Stop cancels the loops and waits for in-flight scheduled runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.started = false
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunNow runs the named task inline and returns its error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	e, err := s.entry(name)
	if err != nil {
		return err
	}
	ran, err := s.execute(ctx, e)
	if !ran {
		return fmt.Errorf("%w: %s", ErrTaskRunning, name)
	}
	return err
}

// State returns the snapshot of one task.
func (s *Scheduler) State(name string) (State, error) {
	e, err := s.entry(name)
	if err != nil {
		return State{}, err
	}
	return e.snapshot(), nil
}

// States returns every task's snapshot, sorted by name.
func (s *Scheduler) States() []State {
	s.mu.RLock()
	out := make([]State, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.snapshot())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b State) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (s *Scheduler) entry(name string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return e, nil
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	if e.task.RunOnStart {
		s.scheduled(ctx, e)
	}
	if e.task.Interval == 0 {
		return
	}

	ticker := time.NewTicker(e.task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scheduled(ctx, e)
		}
	}
}

func (s *Scheduler) scheduled(ctx context.Context, e *entry) {
	ran, err := s.execute(ctx, e)
	if !ran {
		e.mu.Lock()
		e.state.Skipped++
		e.mu.Unlock()
		s.logger.Debug("skipping tick, previous run still going", "task", e.task.Name)
		return
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Error("scheduled task failed", "task", e.task.Name, "error", err)
	}
}

// execute runs the task unless it is already running. ran is false when
// the run was refused.
func (s *Scheduler) execute(ctx context.Context, e *entry) (ran bool, err error) {
	if !e.running.CompareAndSwap(false, true) {
		return false, nil
	}
	defer e.running.Store(false)

	start := time.Now()
	e.mu.Lock()
	e.state.LastStart = start.UTC()
	e.mu.Unlock()

	s.logger.Debug("task started", "task", e.task.Name)
	err = e.task.Run(ctx)
	elapsed := time.Since(start)

	e.mu.Lock()
	e.state.Runs++
	e.state.LastDuration = elapsed
	e.state.LastError = ""
	if err != nil {
		e.state.Failures++
		e.state.LastError = err.Error()
	}
	e.mu.Unlock()

	s.logger.Debug("task finished", "task", e.task.Name, "duration", elapsed, "error", err)
	return true, err
}

func (e *entry) snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state
	st.Running = e.running.Load()
	return st
}
