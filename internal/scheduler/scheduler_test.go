package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakePruner struct {
	cutoff time.Time
	err    error
}

func (f *fakePruner) PruneDedup(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return 3, f.err
}

func TestAddJobRejectsBadSpec(t *testing.T) {
	s := NewScheduler()
	if err := s.AddJob("not a cron spec", "bad", func(context.Context) error { return nil }); err == nil {
		t.Error("expected invalid spec error")
	}
	if err := s.AddJob(DefaultDedupPruneSpec, "ok", func(context.Context) error { return nil }); err != nil {
		t.Errorf("descriptor spec rejected: %v", err)
	}
	if err := s.AddJob("*/5 * * * *", "five-field", func(context.Context) error { return nil }); err != nil {
		t.Errorf("five-field spec rejected: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestRunExecutesJobsWithRunContext(t *testing.T) {
	s := NewScheduler()
	type key struct{}
	var runs atomic.Int32
	var sawValue atomic.Bool
	if err := s.AddJob("@every 1s", "tick", func(ctx context.Context) error {
		runs.Add(1)
		sawValue.Store(ctx.Value(key{}) == "run")
		return errors.New("logged, not fatal")
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "run"))
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(3 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(50 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !sawValue.Load() {
		t.Error("job did not receive the Run context")
	}
}

func TestPruneDedupJob(t *testing.T) {
	p := &fakePruner{}
	before := time.Now()
	if err := PruneDedupJob(p, time.Hour)(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.cutoff.After(before.Add(-time.Hour + time.Second)) || p.cutoff.Before(before.Add(-time.Hour-time.Second)) {
		t.Errorf("cutoff = %v, want about an hour ago", p.cutoff)
	}

	p.err = errors.New("db down")
	if err := PruneDedupJob(p, time.Hour)(context.Background()); err == nil {
		t.Error("expected error to propagate")
	}
}
