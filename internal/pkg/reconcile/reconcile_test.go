package reconcile

import (
	"testing"
	"time"
)

func TestNewSweeperAppliesDefaults(t *testing.T) {
	s := NewSweeper(nil, nil, Options{})

	if s.opts.Interval != time.Hour {
		t.Fatalf("unexpected default interval %v", s.opts.Interval)
	}
	if s.opts.ReplayHorizon != 24*time.Hour {
		t.Fatalf("unexpected default replay horizon %v", s.opts.ReplayHorizon)
	}
	if s.opts.MaxReplayAttempts != 5 {
		t.Fatalf("unexpected default replay attempts %d", s.opts.MaxReplayAttempts)
	}
	if s.opts.BatchSize != 100 {
		t.Fatalf("unexpected default batch size %d", s.opts.BatchSize)
	}
}

func TestNewSweeperKeepsConfiguredOptions(t *testing.T) {
	opts := Options{
		Interval:            15 * time.Minute,
		ReplayHorizon:       6 * time.Hour,
		MaxReplayAttempts:   2,
		PendingIntentMaxAge: 30 * time.Minute,
		BatchSize:           10,
	}
	s := NewSweeper(nil, nil, opts)
	if s.opts != opts {
		t.Fatalf("options were rewritten: %+v", s.opts)
	}
}
