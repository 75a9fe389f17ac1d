package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitStop(t *testing.T, s *Supervisor) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.Wait(ctx)
}

func TestPanicIsIsolated(t *testing.T) {
	s := New(context.Background())
	var ok atomic.Bool

	s.Go("bad", func(ctx context.Context) error { panic("boom") })
	s.Go("good", func(ctx context.Context) error {
		ok.Store(true)
		return nil
	})

	err := waitStop(t, s)
	if err == nil {
		t.Fatalf("expected the panic to be recorded")
	}
	if !ok.Load() {
		t.Fatalf("sibling goroutine did not run")
	}
	if s.Context().Err() != nil {
		t.Fatalf("context must stay alive without cancel-on-error")
	}
	c := s.Counters()
	if c.Panicked != 1 || c.Failed != 1 || c.Started != 2 || c.Active != 0 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fail", func(ctx context.Context) error { return errors.New("nope") })
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := waitStop(t, s); err == nil || err.Error() != "fail: nope" {
		t.Fatalf("err=%v", err)
	}
}

func TestTaskTimeout(t *testing.T) {
	s := New(context.Background(), WithTaskTimeout(20*time.Millisecond))
	s.Go("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := waitStop(t, s)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline exceeded", err)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	s := New(context.Background(), WithConcurrency(2))
	var cur, peak atomic.Int64
	for i := 0; i < 8; i++ {
		s.Go("work", func(ctx context.Context) error {
			n := cur.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
			return nil
		})
	}
	if err := waitStop(t, s); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d, want <= 2", peak.Load())
	}
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("loop", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("flaky")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	if err := waitStop(t, s); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs=%d, want 3", runs.Load())
	}
	snap := s.Snapshot()
	if len(snap.Tasks) != 1 || snap.Tasks[0].Restarts != 2 || snap.Tasks[0].Failures != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap.Tasks)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("loop", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	if err := waitStop(t, s); err == nil {
		t.Fatalf("expected final error")
	}
	if runs.Load() != 3 {
		t.Fatalf("runs=%d, want 3", runs.Load())
	}
}
