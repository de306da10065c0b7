// Package runner supervises the long-running pipeline workers. Each worker
// implements Runner; the Supervisor keeps every runner alive, restarting it
// with exponential backoff when it exits or panics.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Runner is a long-lived worker loop. Run blocks until the context is
// cancelled or the loop fails; a nil return is treated the same as an
// error because pipeline workers are not expected to finish on their own.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Supervisor runs a set of Runners, each in its own goroutine.
type Supervisor struct {
	runners  []Runner
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	// newBackoff builds the restart schedule for one runner. Overridable
	// in tests to avoid real sleeps.
	newBackoff func() backoff.BackOff
}

// NewSupervisor creates a supervisor over the given runners.
func NewSupervisor(runners ...Runner) *Supervisor {
	return &Supervisor{
		runners:    runners,
		newBackoff: defaultBackoff,
	}
}

// defaultBackoff doubles the restart delay from 1s up to a 10s ceiling and
// never gives up. The delay is not reset after a healthy stretch, so a
// worker that crashes every few hours settles at the ceiling.
func defaultBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Start spawns one supervision goroutine per runner. It is safe to call
// multiple times; subsequent calls are no-ops.
func (s *Supervisor) Start(ctx context.Context) {
	if s.started {
		slog.Warn("Supervisor already started, ignoring duplicate Start call")
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	slog.Info("Starting supervisor", "runner_count", len(s.runners))

	for _, r := range s.runners {
		s.wg.Add(1)
		go func(r Runner) {
			defer s.wg.Done()
			s.supervise(ctx, r)
		}(r)
	}
}

// Stop cancels all runners and waits for them to exit.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		slog.Info("Stopping supervisor")
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		slog.Info("Supervisor stopped")
	})
}

func (s *Supervisor) supervise(ctx context.Context, r Runner) {
	logger := slog.With("runner", r.Name())
	bo := s.newBackoff()

	for {
		err := runSafe(ctx, r)
		if ctx.Err() != nil {
			logger.Info("Runner stopped")
			return
		}
		if err != nil {
			logger.Error("Runner exited with error, restarting", "error", err)
		} else {
			logger.Warn("Runner exited unexpectedly, restarting")
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = 10 * time.Second
		}
		select {
		case <-ctx.Done():
			logger.Info("Runner stopped")
			return
		case <-time.After(wait):
		}
	}
}

// runSafe invokes Run and converts a panic into an error so one bad batch
// cannot take down the process.
func runSafe(ctx context.Context, r Runner) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Runner panicked",
				"runner", r.Name(),
				"panic", rec,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("runner %s panicked: %v", r.Name(), rec)
		}
	}()
	return r.Run(ctx)
}
