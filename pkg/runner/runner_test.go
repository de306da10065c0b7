package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner fails failCount times, then blocks until the context ends.
type fakeRunner struct {
	name      string
	failCount int32
	runs      atomic.Int32
	panics    bool
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) Run(ctx context.Context) error {
	n := f.runs.Add(1)
	if n <= f.failCount {
		if f.panics {
			panic(fmt.Sprintf("boom %d", n))
		}
		return fmt.Errorf("failure %d", n)
	}
	<-ctx.Done()
	return ctx.Err()
}

func newTestSupervisor(runners ...Runner) *Supervisor {
	s := NewSupervisor(runners...)
	s.newBackoff = func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	}
	return s
}

func waitForRuns(t *testing.T, r *fakeRunner, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.runs.Load() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("runner %s reached %d runs, want at least %d", r.name, r.runs.Load(), want)
}

func TestSupervisorRestartsFailingRunner(t *testing.T) {
	r := &fakeRunner{name: "flaky", failCount: 3}
	s := newTestSupervisor(r)
	s.Start(context.Background())
	defer s.Stop()

	waitForRuns(t, r, 4)
}

func TestSupervisorRecoversPanics(t *testing.T) {
	r := &fakeRunner{name: "panicky", failCount: 2, panics: true}
	s := newTestSupervisor(r)
	s.Start(context.Background())
	defer s.Stop()

	waitForRuns(t, r, 3)
}

func TestSupervisorStopCancelsBlockedRunner(t *testing.T) {
	r := &fakeRunner{name: "steady"}
	s := newTestSupervisor(r)
	s.Start(context.Background())

	waitForRuns(t, r, 1)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, int32(1), r.runs.Load())
}

func TestSupervisorStopIsIdempotent(t *testing.T) {
	s := newTestSupervisor(&fakeRunner{name: "one"})
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestSupervisorDuplicateStartIsNoOp(t *testing.T) {
	r := &fakeRunner{name: "dup"}
	s := newTestSupervisor(r)
	s.Start(context.Background())
	s.Start(context.Background())
	defer s.Stop()

	waitForRuns(t, r, 1)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), r.runs.Load())
}

func TestSupervisorRunsMultipleRunners(t *testing.T) {
	a := &fakeRunner{name: "a"}
	b := &fakeRunner{name: "b", failCount: 1}
	s := newTestSupervisor(a, b)
	s.Start(context.Background())
	defer s.Stop()

	waitForRuns(t, a, 1)
	waitForRuns(t, b, 2)
}

func TestDefaultBackoffSchedule(t *testing.T) {
	bo := defaultBackoff()
	require.Equal(t, time.Second, bo.NextBackOff())
	require.Equal(t, 2*time.Second, bo.NextBackOff())
	require.Equal(t, 4*time.Second, bo.NextBackOff())
	require.Equal(t, 8*time.Second, bo.NextBackOff())
	require.Equal(t, 10*time.Second, bo.NextBackOff())
	require.Equal(t, 10*time.Second, bo.NextBackOff())
}
