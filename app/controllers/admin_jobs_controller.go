package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/payfox/payfox/app/repository"
)

// AdminJobsController exposes the Redis job queue for operational inspection.
type AdminJobsController struct {
	queueRepo repository.QueueRepository
}

// NewAdminJobsController creates a new admin jobs controller with repository
func NewAdminJobsController(queueRepo repository.QueueRepository) *AdminJobsController {
	return &AdminJobsController{
		queueRepo: queueRepo,
	}
}

// HandleListJobs returns all stored jobs with their remaining TTL plus the
// current queue depths.
func (ajc *AdminJobsController) HandleListJobs(c *fiber.Ctx) error {
	keys, err := ajc.queueRepo.FindKeysByPatterns([]string{"job:*"})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to list jobs"})
	}

	jobs := make([]fiber.Map, 0, len(keys))
	for _, key := range keys {
		value, err := ajc.queueRepo.GetValue(key)
		if err != nil {
			continue
		}
		ttl, _ := ajc.queueRepo.GetTTL(key)
		jobs = append(jobs, fiber.Map{
			"key":         key,
			"job":         value,
			"ttl_seconds": int64(ttl / time.Second),
		})
	}

	pending, _ := ajc.queueRepo.GetListLength("job_queue")
	processing, _ := ajc.queueRepo.GetListLength("job_processing")

	return c.JSON(fiber.Map{
		"jobs":             jobs,
		"pending_count":    pending,
		"processing_count": processing,
	})
}

// HandleDeleteJob removes one stored job entry. The queue lists are left
// alone; workers skip entries whose job key is gone.
func (ajc *AdminJobsController) HandleDeleteJob(c *fiber.Ctx) error {
	key := c.Params("key")
	if key == "" || !strings.HasPrefix(key, "job:") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "A job key is required"})
	}

	deleted, err := ajc.queueRepo.DeleteKey(key)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to delete job"})
	}
	if deleted == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Job not found"})
	}
	return c.JSON(fiber.Map{"deleted": key})
}
