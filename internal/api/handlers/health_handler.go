package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	db     Pinger
	queue  MessageQueue
	logger *zap.Logger
}

func NewHealthHandler(db Pinger, queue MessageQueue, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, logger: logger}
}

// Health godoc
// @Summary Liveness and state store check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  "state store unreachable",
		})
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"queued": h.queue.Len(),
	})
}
