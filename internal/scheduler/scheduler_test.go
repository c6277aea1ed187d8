package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "myrcat/pkg/logx"
)

func TestAddCronValidatesSpec(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	nop := func(context.Context) error { return nil }

	for _, spec := range []string{"@hourly", "@daily", "@every 6h", "0 3 * * *"} {
		if err := s.AddCron("ok", spec, 0, nop); err != nil {
			t.Fatalf("AddCron(%q): %v", spec, err)
		}
	}
	for _, spec := range []string{"", "every hour", "61 * * * *"} {
		if err := s.AddCron("bad", spec, 0, nop); err == nil {
			t.Fatalf("AddCron(%q): expected error", spec)
		}
	}
	if err := s.AddInterval("neg", -time.Second, 0, nop); err == nil {
		t.Fatal("negative interval should fail")
	}
}

func TestRunNowFiresRegisteredJob(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	var ran atomic.Int32
	if err := s.AddCron("report", "@daily", 0, func(context.Context) error {
		ran.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	if s.RunNow("missing") {
		t.Fatal("RunNow must report unknown jobs")
	}
	if !s.RunNow("report") {
		t.Fatal("RunNow failed for a registered job")
	}

	deadline := time.Now().Add(2 * time.Second)
	for ran.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	var (
		started atomic.Int32
		release = make(chan struct{})
	)
	if err := s.AddCron("slow", "@daily", 0, func(ctx context.Context) error {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}); err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.RunNow("slow")
	deadline := time.Now().Add(2 * time.Second)
	for started.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Second fire while the first is still blocked must be dropped.
	s.RunNow("slow")
	time.Sleep(50 * time.Millisecond)
	if got := started.Load(); got != 1 {
		t.Fatalf("started = %d, want 1 (overlap skipped)", got)
	}

	close(release)
	s.Stop()
}

func TestJobTimeoutCancelsContext(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	timedOut := make(chan error, 1)
	if err := s.AddCron("bounded", "@daily", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		timedOut <- ctx.Err()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.RunNow("bounded")
	select {
	case err := <-timedOut:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("ctx err = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job context never expired")
	}
}
