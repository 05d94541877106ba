package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-client/internal/service"
	"github.com/noah-isme/gema-chat-client/internal/utils"
	"github.com/noah-isme/gema-chat-client/pkg/giphy"
)

// MediaHandler backs the GIF and sticker pickers.
type MediaHandler struct {
	service service.MediaService
	logger  zerolog.Logger
}

// NewMediaHandler constructs a media handler.
func NewMediaHandler(service service.MediaService, logger zerolog.Logger) *MediaHandler {
	return &MediaHandler{
		service: service,
		logger:  logger.With().Str("component", "media_handler").Logger(),
	}
}

// Register wires media routes.
func (h *MediaHandler) Register(router fiber.Router) {
	router.Get("/:kind", h.search)
}

func (h *MediaHandler) search(c *fiber.Ctx) error {
	results, err := h.service.Search(requestContext(c), c.Params("kind"), c.Query("q"))
	if err != nil {
		switch {
		case isValidationError(err):
			return utils.SendValidationError(c, err)
		case errors.Is(err, giphy.ErrInvalidKind):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, giphy.ErrNotConfigured):
			return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
		default:
			requestLogger(h.logger, c).Warn().Err(err).Msg("media search failed")
			return utils.SendError(c, fiber.StatusBadGateway, "media search failed")
		}
	}
	return utils.SendSuccess(c, "media results", results)
}
