package bootstrap

import (
	"context"
	"sync"

	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// Supervisor runs the background loops of a process (sweeper, raid
// trigger, limiter eviction) and waits for them on shutdown.
type Supervisor struct {
	logger *logging.Logger
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]bool
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor(logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Supervisor{logger: logger, running: make(map[string]bool)}
}

// Go starts fn under name. fn must return once ctx is done. A panic in fn
// is logged and ends only that loop.
func (s *Supervisor) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	s.mu.Lock()
	s.running[name] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, name)
			s.mu.Unlock()
			if r := recover(); r != nil {
				s.logger.Error("bootstrap: loop panicked", "loop", name, "panic", r)
				return
			}
			s.logger.Info("bootstrap: loop stopped", "loop", name)
		}()
		s.logger.Info("bootstrap: loop started", "loop", name)
		fn(ctx)
	}()
}

// Running reports whether the named loop is still active.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[name]
}

// Wait blocks until every loop has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
