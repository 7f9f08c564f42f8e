package treatmentworker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSweeper struct {
	mu     sync.Mutex
	calls  int
	limits []int
	err    error
}

func (f *fakeSweeper) SweepDue(ctx context.Context, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.limits = append(f.limits, limit)
	return 1, f.err
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSweeperDrainsImmediatelyAndOnTick(t *testing.T) {
	fake := &fakeSweeper{}
	s := NewSweeper(fake, nil).WithInterval(10 * time.Millisecond).WithBatchSize(7)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fake.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if fake.count() < 3 {
		t.Fatalf("expected at least 3 sweeps, got %d", fake.count())
	}
	if fake.limits[0] != 7 {
		t.Fatalf("expected batch size 7, got %d", fake.limits[0])
	}
}

func TestSweeperSurvivesErrors(t *testing.T) {
	fake := &fakeSweeper{err: errors.New("db down")}
	s := NewSweeper(fake, nil).WithInterval(time.Hour)
	s.drain(context.Background())
	s.drain(context.Background())
	if fake.count() != 2 {
		t.Fatalf("expected 2 calls, got %d", fake.count())
	}
}

func TestSweeperIgnoresInvalidOptions(t *testing.T) {
	s := NewSweeper(nil, nil).WithInterval(0).WithBatchSize(-1)
	if s.interval != 5*time.Second || s.batchSize != 100 {
		t.Fatalf("defaults overwritten: %v %d", s.interval, s.batchSize)
	}
	s.drain(context.Background())
}
