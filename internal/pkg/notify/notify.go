package notify

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/payfox/payfox/app/models"
	"github.com/payfox/payfox/internal/pkg/jobqueue"
	"github.com/payfox/payfox/internal/pkg/mail"
	"github.com/payfox/payfox/internal/pkg/payments"
)

// Subject lines per notification kind.
var subjects = map[string]string{
	models.NotificationPaymentReceipt:       "Payment received",
	models.NotificationPaymentFailed:        "Payment failed",
	models.NotificationSubscriptionStarted:  "Recurring contribution started",
	models.NotificationSubscriptionCanceled: "Recurring contribution canceled",
	models.NotificationDunning:              "Action required: payment problem",
}

// QueueNotifier implements payments.Notifier by pushing the notification
// onto the background job queue. Dispatch never blocks and never fails the
// caller: delivery problems are the queue's concern.
type QueueNotifier struct {
	queue *jobqueue.Queue
}

// NewQueueNotifier wires a notifier onto a job queue.
func NewQueueNotifier(queue *jobqueue.Queue) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

// Dispatch enqueues one notification delivery job.
func (n *QueueNotifier) Dispatch(ctx context.Context, req payments.NotificationRequest) {
	if req.UserID == 0 {
		return
	}
	payload := jobqueue.NotificationJobPayload{
		UserID:      req.UserID,
		Kind:        req.Kind,
		Content:     req.Content,
		ReferenceID: req.ReferenceID,
	}
	if _, err := n.queue.EnqueueJob(jobqueue.JobTypeNotification, payload.ToMap()); err != nil {
		log.Errorf("[Notify] Failed to enqueue %s notification for user %d: %v", req.Kind, req.UserID, err)
	}
}

// Deliverer performs the actual notification delivery from the worker: it
// stores an in-app notification row and sends an email.
type Deliverer struct {
	db *gorm.DB
}

// NewDeliverer wires a deliverer from a GORM DB handle.
func NewDeliverer(db *gorm.DB) *Deliverer {
	return &Deliverer{db: db}
}

// HandleJob is the jobqueue handler for notification jobs.
func (d *Deliverer) HandleJob(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.NotificationJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid notification payload: %w", err)
	}
	return d.Deliver(ctx, payload)
}

// Deliver stores the in-app notification and emails the user. The in-app row
// is the primary channel; an email failure is returned so the queue retries,
// but the row is only written once thanks to the ReferenceID+kind check.
func (d *Deliverer) Deliver(ctx context.Context, p *jobqueue.NotificationJobPayload) error {
	_ = ctx
	var user models.User
	if err := d.db.First(&user, p.UserID).Error; err != nil {
		return fmt.Errorf("notification user %d not found: %w", p.UserID, err)
	}

	var existing int64
	d.db.Model(&models.Notification{}).
		Where("user_id = ? AND type = ? AND reference_id = ?", p.UserID, p.Kind, p.ReferenceID).
		Count(&existing)
	if existing == 0 {
		if err := models.CreateNotification(d.db, p.UserID, p.Kind, p.Content, p.ReferenceID); err != nil {
			return fmt.Errorf("failed to store notification: %w", err)
		}
	}

	subject, ok := subjects[p.Kind]
	if !ok {
		subject = "Payment update"
	}
	if err := mail.SendMail(user.Email, subject, p.Content); err != nil {
		return fmt.Errorf("failed to email user %d: %w", p.UserID, err)
	}
	return nil
}
