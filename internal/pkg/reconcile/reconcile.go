package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/payfox/payfox/internal/pkg/jobqueue"
	"github.com/payfox/payfox/internal/pkg/payments"
)

// Options bound the reconciliation sweep.
type Options struct {
	// Interval between sweeps.
	Interval time.Duration
	// ReplayHorizon is the minimum age of an error event before the sweep
	// replays it; fresher events are still the gateway's to redeliver.
	ReplayHorizon time.Duration
	// MaxReplayAttempts caps sweep-driven replays per event.
	MaxReplayAttempts int
	// PendingIntentMaxAge is the age after which a pending intent is re-read
	// from the gateway.
	PendingIntentMaxAge time.Duration
	// BatchSize limits how many rows one sweep touches.
	BatchSize int
}

// Sweeper periodically repairs state the webhook stream failed to converge:
// it replays dead-lettered events and re-reads stale pending intents.
type Sweeper struct {
	svc     *payments.Service
	queue   *jobqueue.Queue
	opts    Options
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewSweeper wires a sweeper from the payment service and job queue.
func NewSweeper(svc *payments.Service, queue *jobqueue.Queue, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.ReplayHorizon <= 0 {
		opts.ReplayHorizon = 24 * time.Hour
	}
	if opts.MaxReplayAttempts <= 0 {
		opts.MaxReplayAttempts = 5
	}
	if opts.PendingIntentMaxAge <= 0 {
		opts.PendingIntentMaxAge = time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Sweeper{svc: svc, queue: queue, opts: opts}
}

// Start schedules the sweep on a cron running at the configured interval.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.opts.Interval)
	id, err := s.cron.AddFunc(spec, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			log.Errorf("[Reconcile] Sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation sweep: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	log.Infof("[Reconcile] Sweep scheduled every %s", s.opts.Interval)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	replayed, err := s.enqueueDeadLetterReplays()
	if err != nil {
		return err
	}
	refreshed, err := s.svc.RefreshPendingIntents(ctx, s.opts.PendingIntentMaxAge, s.opts.BatchSize)
	if err != nil {
		return err
	}
	if replayed > 0 || refreshed > 0 {
		log.Infof("[Reconcile] Sweep enqueued %d replays, refreshed %d pending intents", replayed, refreshed)
	}
	return nil
}

// enqueueDeadLetterReplays pushes replay jobs for error events past the
// horizon. Replays run on the worker pool, not inline, so one poisoned event
// cannot stall the sweep.
func (s *Sweeper) enqueueDeadLetterReplays() (int, error) {
	olderThan := time.Now().Add(-s.opts.ReplayHorizon)
	events, err := s.svc.Repo().ListFailedWebhookEvents(olderThan, s.opts.MaxReplayAttempts, s.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, e := range events {
		payload := jobqueue.WebhookReplayJobPayload{EventID: e.ID}
		if _, err := s.queue.EnqueueJob(jobqueue.JobTypeWebhookReplay, payload.ToMap()); err != nil {
			log.Errorf("[Reconcile] Failed to enqueue replay for event %d: %v", e.ID, err)
			continue
		}
		enqueued++
	}
	return enqueued, nil
}

// ReplayJobHandler returns the jobqueue handler that re-runs a logged event
// through the webhook processor.
func ReplayJobHandler(processor *payments.Processor) jobqueue.HandlerFunc {
	return func(ctx context.Context, job *jobqueue.Job) error {
		payload, err := jobqueue.WebhookReplayJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid replay payload: %w", err)
		}
		res, err := processor.Replay(ctx, payload.EventID)
		if err != nil {
			return fmt.Errorf("replay of event %d (%s) failed: %w", payload.EventID, res.EventType, err)
		}
		return nil
	}
}
