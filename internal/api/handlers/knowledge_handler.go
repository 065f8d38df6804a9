package handlers

import (
	"context"
	"net/url"

	"chatwiki/internal/dto"
	"chatwiki/internal/models"
	"chatwiki/internal/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type EntryReader interface {
	Lookup(ctx context.Context, topicKey string) (*models.KnowledgeEntry, error)
}

type OutcomeReader interface {
	Get(ctx context.Context, unitID string) (*models.UnitOutcome, error)
	CountByStatus(ctx context.Context) (map[models.OutcomeStatus]int, error)
}

type KnowledgeHandler struct {
	index    EntryReader
	outcomes OutcomeReader
	queue    MessageQueue
	logger   *zap.Logger
}

func NewKnowledgeHandler(index EntryReader, outcomes OutcomeReader, queue MessageQueue, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		index:    index,
		outcomes: outcomes,
		queue:    queue,
		logger:   logger,
	}
}

// GetEntry godoc
// @Summary Knowledge entry for a topic
// @Description The topic is normalized the same way analysis results are, so any phrasing of it works.
// @Tags knowledge
// @Produce json
// @Param topic path string true "Topic"
// @Security Bearer
// @Success 200 {object} dto.EntryResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/entries/{topic} [get]
func (h *KnowledgeHandler) GetEntry(c *fiber.Ctx) error {
	topic, err := url.PathUnescape(c.Params("topic"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid topic",
		})
	}

	key := service.NormalizeTopicKey(topic)
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid topic",
		})
	}

	entry, err := h.index.Lookup(c.UserContext(), key)
	if err != nil {
		h.logger.Error("Failed to look up entry", zap.String("topic_key", key), zap.Error(err))
		return err
	}
	if entry == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Topic not found",
		})
	}

	return c.JSON(dto.NewEntryResponse(entry))
}

// GetOutcome godoc
// @Summary Outcome of a unit
// @Tags knowledge
// @Produce json
// @Param unit_id path string true "Unit ID"
// @Security Bearer
// @Success 200 {object} models.UnitOutcome
// @Failure 404 {object} map[string]string
// @Router /api/v1/units/{unit_id} [get]
func (h *KnowledgeHandler) GetOutcome(c *fiber.Ctx) error {
	outcome, err := h.outcomes.Get(c.UserContext(), c.Params("unit_id"))
	if err != nil {
		return err
	}
	if outcome == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unit not processed yet",
		})
	}
	return c.JSON(outcome)
}

// Stats godoc
// @Summary Processing statistics
// @Tags knowledge
// @Produce json
// @Security Bearer
// @Success 200 {object} dto.StatsResponse
// @Router /api/v1/stats [get]
func (h *KnowledgeHandler) Stats(c *fiber.Ctx) error {
	counts, err := h.outcomes.CountByStatus(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(dto.StatsResponse{Outcomes: counts, Queued: h.queue.Len()})
}
