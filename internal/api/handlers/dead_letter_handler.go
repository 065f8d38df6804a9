package handlers

import (
	"context"
	"errors"

	"chatwiki/internal/dto"
	"chatwiki/internal/models"
	"chatwiki/internal/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type DeadLetterStore interface {
	ListOpen(ctx context.Context, limit, offset int) ([]*models.DeadLetter, error)
	Get(ctx context.Context, id uuid.UUID) (*models.DeadLetter, error)
	Resolve(ctx context.Context, id uuid.UUID) error
}

type DeadLetterHandler struct {
	store  DeadLetterStore
	queue  MessageQueue
	logger *zap.Logger
}

func NewDeadLetterHandler(store DeadLetterStore, queue MessageQueue, logger *zap.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{
		store:  store,
		queue:  queue,
		logger: logger,
	}
}

// List godoc
// @Summary Open dead letters
// @Tags dead-letters
// @Produce json
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset" default(0)
// @Security Bearer
// @Success 200 {object} dto.DeadLetterListResponse
// @Router /api/v1/dead-letters [get]
func (h *DeadLetterHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := max(c.QueryInt("offset", 0), 0)

	letters, err := h.store.ListOpen(c.UserContext(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list dead letters", zap.Error(err))
		return err
	}

	resp := dto.DeadLetterListResponse{
		Items:  make([]dto.DeadLetterResponse, 0, len(letters)),
		Limit:  limit,
		Offset: offset,
	}
	for _, dl := range letters {
		resp.Items = append(resp.Items, dto.NewDeadLetterResponse(dl))
	}
	return c.JSON(resp)
}

// Retry godoc
// @Summary Retry a dead letter
// @Description Re-queue the parked message and mark the dead letter resolved.
// @Tags dead-letters
// @Produce json
// @Param id path string true "Dead letter ID"
// @Security Bearer
// @Success 202 {object} dto.EnqueueMessageResponse
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/v1/dead-letters/{id}/retry [post]
func (h *DeadLetterHandler) Retry(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid dead letter ID",
		})
	}

	ctx := c.UserContext()
	dl, err := h.store.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Dead letter not found",
		})
	}
	if err != nil {
		return err
	}
	if dl.ResolvedAt != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Dead letter already resolved",
		})
	}

	ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := h.queue.Enqueue(ctx, dl.Message); err != nil {
		h.logger.Warn("Failed to re-queue dead letter", zap.String("id", id.String()), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Queue is full or shutting down, retry later",
		})
	}

	if err := h.store.Resolve(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	h.logger.Info("Dead letter re-queued",
		zap.String("id", id.String()),
		zap.String("unit_id", dl.UnitID),
	)
	return c.Status(fiber.StatusAccepted).JSON(dto.EnqueueMessageResponse{UnitID: dl.UnitID})
}
