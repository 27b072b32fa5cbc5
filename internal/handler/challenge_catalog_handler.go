package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-coding-session/internal/service"
	"github.com/noah-isme/gema-coding-session/internal/utils"
)

// ChallengeCatalogHandler exposes tooling endpoints for loading test definitions.
type ChallengeCatalogHandler struct {
	service service.ChallengeCatalogService
	logger  zerolog.Logger
}

// NewChallengeCatalogHandler constructs a catalog handler.
func NewChallengeCatalogHandler(service service.ChallengeCatalogService, logger zerolog.Logger) *ChallengeCatalogHandler {
	return &ChallengeCatalogHandler{
		service: service,
		logger:  logger.With().Str("component", "challenge_catalog_handler").Logger(),
	}
}

// Register wires catalog routes.
func (h *ChallengeCatalogHandler) Register(router fiber.Router) {
	router.Post("/import", h.importCatalog)
	router.Get("/:testId/challenges", h.challenges)
}

func (h *ChallengeCatalogHandler) importCatalog(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "catalog document required")
	}

	result, err := h.service.Import(requestContext(c), append([]byte(nil), body...))
	if err != nil {
		return h.catalogError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "catalog imported", result)
}

func (h *ChallengeCatalogHandler) challenges(c *fiber.Ctx) error {
	challenges, err := h.service.Challenges(requestContext(c), c.Params("testId"))
	if err != nil {
		return h.catalogError(c, err)
	}

	return utils.SendSuccess(c, "challenges", challenges)
}

func (h *ChallengeCatalogHandler) catalogError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidCatalog):
		return utils.SendErrorCode(c, fiber.StatusBadRequest, "invalid_catalog", err.Error())
	case errors.Is(err, service.ErrTestNotFound):
		return utils.SendErrorCode(c, fiber.StatusNotFound, "test_not_found", err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("catalog operation failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "catalog operation failed")
	}
}
