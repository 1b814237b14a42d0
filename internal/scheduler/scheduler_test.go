package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunNowSkipsWhileRunning(t *testing.T) {
	s := New(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32

	err := s.Register("weibo", "@every 1h", func(context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	done := make(chan bool)
	go func() {
		ran, _ := s.RunNow(context.Background(), "weibo")
		done <- ran
	}()
	<-started

	ran, err := s.RunNow(context.Background(), "weibo")
	if ran || err != nil {
		t.Fatalf("overlapping run should be skipped, got ran=%v err=%v", ran, err)
	}

	close(release)
	if !<-done {
		t.Fatalf("first run should have run")
	}
	if runs.Load() != 1 {
		t.Fatalf("expected exactly 1 run, got %d", runs.Load())
	}
}

func TestRunNowPropagatesErrorAndPanics(t *testing.T) {
	s := New(nil)
	boom := errors.New("boom")
	if err := s.Register("err", "@every 1h", func(context.Context) error { return boom }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("panic", "@every 1h", func(context.Context) error { panic("bad adapter") }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if ran, err := s.RunNow(context.Background(), "err"); !ran || !errors.Is(err, boom) {
		t.Fatalf("RunNow = %v, %v", ran, err)
	}
	if _, err := s.RunNow(context.Background(), "panic"); err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	// the in-flight flag is cleared by the panicking run
	if ran, err := s.RunNow(context.Background(), "panic"); !ran || err == nil {
		t.Fatalf("second run after panic = %v, %v", ran, err)
	}
	if _, err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}

func TestRegisterValidates(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) error { return nil }
	if err := s.Register("a", "not a schedule", noop); err == nil {
		t.Fatalf("expected invalid spec error")
	}
	if err := s.Register("a", "*/5 * * * *", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("a", "@every 1m", noop); err == nil {
		t.Fatalf("expected duplicate name error")
	}
	if err := s.Register("b", "@every 1m", nil); err == nil {
		t.Fatalf("expected nil job error")
	}
}

func TestScheduledRunsNeverOverlap(t *testing.T) {
	s := New(nil)
	var active, maxActive, runs atomic.Int32

	err := s.Register("slow", "@every 1s", func(ctx context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		select {
		case <-time.After(1500 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(3500 * time.Millisecond)
	cancel()
	s.Stop()

	if runs.Load() == 0 {
		t.Fatalf("job never ran")
	}
	if maxActive.Load() != 1 {
		t.Fatalf("job overlapped with itself: max concurrency %d", maxActive.Load())
	}
}
