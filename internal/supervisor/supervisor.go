// Package supervisor runs the node's registered long-lived background
// tasks (aerolithd registers a heartbeat ticker, a tier-stats reporter
// and a key re-wrapper; the replication streamer and the consensus
// drivers run on their own goroutines, outside the supervisor) —
// generalizing the teacher's ad hoc
// `go func() { ... }()` snapshot-ticker goroutine in cmd/server into a
// single place that restarts a panicking task and propagates shutdown
// via context cancellation, instead of letting one goroutine's panic
// take down the process or leak on shutdown.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is one long-lived background job. It must return promptly once
// ctx is cancelled.
type Task func(ctx context.Context) error

// Supervisor owns a set of named tasks, restarting any that panic or
// return an error (after a backoff) until the supervisor's context is
// cancelled.
type Supervisor struct {
	log      zerolog.Logger
	restartDelay time.Duration

	mu    sync.Mutex
	wg    sync.WaitGroup
	tasks map[string]Task
}

// New creates a Supervisor. restartDelay is the pause before retrying a
// task that exited (panic or error); zero defaults to 1s.
func New(log zerolog.Logger, restartDelay time.Duration) *Supervisor {
	if restartDelay == 0 {
		restartDelay = time.Second
	}
	return &Supervisor{
		log:          log.With().Str("component", "supervisor").Logger(),
		restartDelay: restartDelay,
		tasks:        make(map[string]Task),
	}
}

// Add registers a task under name. Add must be called before Run.
func (s *Supervisor) Add(name string, t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[name] = t
}

// Run starts every registered task and blocks until ctx is cancelled,
// then waits for all tasks to return.
func (s *Supervisor) Run(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		s.wg.Add(1)
		go s.runTask(ctx, name)
	}
	<-ctx.Done()
	s.wg.Wait()
}

func (s *Supervisor) runTask(ctx context.Context, name string) {
	defer s.wg.Done()
	log := s.log.With().Str("task", name).Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		if s.runOnce(ctx, name, log) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.restartDelay):
		}
	}
}

// runOnce runs the task once, recovering a panic into a logged restart.
// It returns true when the task exited because ctx was cancelled (a
// clean shutdown, not a failure to restart from).
func (s *Supervisor) runOnce(ctx context.Context, name string, log zerolog.Logger) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("task panicked, restarting")
		}
	}()

	s.mu.Lock()
	t := s.tasks[name]
	s.mu.Unlock()

	err := t(ctx)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		log.Error().Err(err).Msg("task exited with error, restarting")
	}
	return false
}
