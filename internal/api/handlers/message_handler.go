package handlers

import (
	"context"
	"errors"
	"time"

	"chatwiki/internal/dto"
	"chatwiki/internal/models"
	"chatwiki/internal/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const enqueueTimeout = 5 * time.Second

type MessageQueue interface {
	Enqueue(ctx context.Context, raw models.RawMessage) error
	Len() int
}

type MessageHandler struct {
	queue  MessageQueue
	logger *zap.Logger
}

func NewMessageHandler(queue MessageQueue, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{
		queue:  queue,
		logger: logger,
	}
}

// Enqueue godoc
// @Summary Submit a chat message
// @Description Queue a chat message for synthesis into the wiki. Redelivering a message is safe.
// @Tags messages
// @Accept json
// @Produce json
// @Param request body dto.EnqueueMessageRequest true "Chat message"
// @Security Bearer
// @Success 202 {object} dto.EnqueueMessageResponse
// @Failure 400 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /api/v1/messages [post]
func (h *MessageHandler) Enqueue(c *fiber.Ctx) error {
	var req dto.EnqueueMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	raw := req.ToRawMessage()
	if _, err := service.ContentKindOf(raw); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), enqueueTimeout)
	defer cancel()

	if err := h.queue.Enqueue(ctx, raw); err != nil {
		if errors.Is(err, service.ErrQueueClosed) || errors.Is(err, context.DeadlineExceeded) {
			h.logger.Warn("Message rejected, queue unavailable",
				zap.String("source_id", raw.SourceID),
				zap.Int("queued", h.queue.Len()),
				zap.Error(err),
			)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Queue is full or shutting down, retry later",
			})
		}
		return err
	}

	h.logger.Debug("Message queued",
		zap.String("source_id", raw.SourceID),
		zap.String("chat_ref", raw.ChatRef),
		zap.Any("client", c.Locals("client")),
	)

	return c.Status(fiber.StatusAccepted).JSON(dto.EnqueueMessageResponse{
		UnitID: service.UnitID(raw.ChatRef, raw.SourceID),
	})
}
