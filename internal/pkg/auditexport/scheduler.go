package auditexport

import (
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/payfox/payfox/internal/pkg/jobqueue"
)

// Scheduler enqueues one export job per day covering the previous UTC day.
type Scheduler struct {
	queue *jobqueue.Queue
	cron  *cron.Cron
}

func NewScheduler(queue *jobqueue.Queue) *Scheduler {
	return &Scheduler{queue: queue}
}

// Start schedules the daily export shortly after midnight UTC. The worker
// pool picks the job up, so a slow upload never blocks the schedule.
func (s *Scheduler) Start() error {
	s.cron = cron.New(cron.WithLocation(time.UTC))
	_, err := s.cron.AddFunc("10 0 * * *", func() {
		if err := s.EnqueuePreviousDay(); err != nil {
			log.Errorf("[AuditExport] Failed to enqueue daily export: %v", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Info("[AuditExport] Daily export scheduled")
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// EnqueuePreviousDay queues an export of the last complete UTC day.
func (s *Scheduler) EnqueuePreviousDay() error {
	now := time.Now().UTC()
	until := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := until.Add(-24 * time.Hour)
	payload := jobqueue.AuditExportJobPayload{Since: since, Until: until}
	_, err := s.queue.EnqueueJob(jobqueue.JobTypeAuditExport, payload.ToMap())
	return err
}
