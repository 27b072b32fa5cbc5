package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-coding-session/internal/dto"
	"github.com/noah-isme/gema-coding-session/internal/middleware"
	"github.com/noah-isme/gema-coding-session/internal/models"
	"github.com/noah-isme/gema-coding-session/internal/service"
	"github.com/noah-isme/gema-coding-session/internal/utils"
)

const websocketPingInterval = 30 * time.Second

// CodingSessionHandler exposes the candidate coding section over HTTP and websocket.
type CodingSessionHandler struct {
	service service.CodingSessionService
	logger  zerolog.Logger
}

// NewCodingSessionHandler constructs the handler.
func NewCodingSessionHandler(service service.CodingSessionService, logger zerolog.Logger) *CodingSessionHandler {
	return &CodingSessionHandler{
		service: service,
		logger:  logger.With().Str("component", "coding_session_handler").Logger(),
	}
}

// Register binds the session routes under the provided router group.
func (h *CodingSessionHandler) Register(router fiber.Router) {
	router.Use("/:testId/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", requestContext(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/:testId/ws", websocket.New(h.stream))

	router.Post("/:testId/mount", h.mount)
	router.Get("/:testId", h.state)
	router.Delete("/:testId", h.end)
	router.Put("/:testId/drafts/:challengeId", h.updateCode)
	router.Put("/:testId/drafts/:challengeId/language", h.changeLanguage)
	router.Put("/:testId/preferences", h.updatePreferences)
	router.Post("/:testId/navigate", h.navigate)
	router.Get("/:testId/pages", h.pages)
}

// RegisterExecution binds the run and submit routes behind the given middlewares.
func (h *CodingSessionHandler) RegisterExecution(router fiber.Router, middlewares ...fiber.Handler) {
	run := append(append([]fiber.Handler{}, middlewares...), h.run)
	submit := append(append([]fiber.Handler{}, middlewares...), h.submit)
	router.Post("/:testId/challenges/:challengeId/run", run...)
	router.Post("/:testId/challenges/:challengeId/submit", submit...)
}

func (h *CodingSessionHandler) mount(c *fiber.Ctx) error {
	key, ok := sessionKeyFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "candidate not identified")
	}

	var req dto.MountRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}

	state, err := h.service.Mount(requestContext(c), key, req)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "coding session mounted", state)
}

func (h *CodingSessionHandler) state(c *fiber.Ctx) error {
	key, ok := sessionKeyFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "candidate not identified")
	}

	state, err := h.service.State(requestContext(c), key)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "coding session state", state)
}

func (h *CodingSessionHandler) updateCode(c *fiber.Ctx) error {
	key, ok := sessionKeyFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "candidate not identified")
	}

	var req dto.UpdateDraftRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	draft, err := h.service.UpdateCode(requestContext(c), key, c.Params("challengeId"), req)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "draft saved", draft)
}

func (h *CodingSessionHandler) changeLanguage(c *fiber.Ctx) error {
	key, ok := sessionKeyFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "candidate not identified")
	}

	var req dto.ChangeLanguageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	draft, err := h.service.ChangeLanguage(requestContext(c), key, c.Params("challengeId"), req)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "language changed", draft)
}

func (h *CodingSessionHandler) updatePreferences(c *fiber.Ctx) error {
	key, ok := sessionKeyFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "candidate not identified")
	}

	var req models.EditorPrefs
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	prefs, err := h.service.UpdatePreferences(requestContext(c), key, req)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "preferences saved", prefs)
}

func (h *CodingSessionHandler) navigate(c *fiber.Ctx) error {
	key, ok := sessionKeyFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "candidate not identified")
	}

	var req dto.NavigateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))

	navigation, err := h.service.Navigate(requestContext(c), key, req)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "navigation applied", navigation)
}

func (h *CodingSessionHandler) pages(c *fiber.Ctx) error {
	key, ok := sessionKeyFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "candidate not identified")
	}

	size, err := parseQueryInt(c, "size")
	if err != nil || size < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid size")
	}

	page, err := h.service.Pages(requestContext(c), key, size)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "page window", page)
}

func (h *CodingSessionHandler) run(c *fiber.Ctx) error {
	key, ok := sessionKeyFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "candidate not identified")
	}

	result, err := h.service.Run(requestContext(c), key, c.Params("challengeId"))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "run completed", result)
}

func (h *CodingSessionHandler) submit(c *fiber.Ctx) error {
	key, ok := sessionKeyFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "candidate not identified")
	}

	result, err := h.service.Submit(requestContext(c), key, c.Params("challengeId"))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "submission accepted", result)
}

func (h *CodingSessionHandler) end(c *fiber.Ctx) error {
	key, ok := sessionKeyFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "candidate not identified")
	}

	if err := h.service.End(requestContext(c), key); err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "coding session ended", nil)
}

func (h *CodingSessionHandler) stream(conn *websocket.Conn) {
	candidateID, _ := conn.Locals(middleware.LocalCandidateID).(string)
	key := models.SessionKey{TestID: strings.TrimSpace(conn.Params("testId")), CandidateID: candidateID}
	if key.TestID == "" || key.CandidateID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "candidate not identified"))
		_ = conn.Close()
		return
	}

	ctx, _ := conn.Locals("request_ctx").(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}

	events, cancel, err := h.service.Subscribe(ctx, key)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		_ = conn.Close()
		return
	}
	defer cancel()

	logger := h.logger.With().Str("test_id", key.TestID).Str("candidate_id", key.CandidateID).Logger()
	logger.Info().Msg("session stream connected")
	defer logger.Info().Msg("session stream disconnected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(websocketPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				logger.Debug().Err(err).Msg("session stream write failed")
				return
			}
			if evt.Type == service.EventEnded {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return
			}
		}
	}
}

func (h *CodingSessionHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	case errors.Is(err, service.ErrTestNotFound):
		return utils.SendErrorCode(c, fiber.StatusNotFound, "test_not_found", err.Error())
	case errors.Is(err, service.ErrChallengeNotFound):
		return utils.SendErrorCode(c, fiber.StatusNotFound, "challenge_not_found", err.Error())
	case errors.Is(err, service.ErrSessionCompleted):
		return utils.SendErrorCode(c, fiber.StatusConflict, "session_completed", err.Error())
	case errors.Is(err, service.ErrAlreadySubmitted):
		return utils.SendErrorCode(c, fiber.StatusConflict, "already_submitted", err.Error())
	case errors.Is(err, service.ErrSubmissionInProgress):
		return utils.SendErrorCode(c, fiber.StatusConflict, "submission_in_progress", err.Error())
	case errors.Is(err, service.ErrExecutionInProgress):
		return utils.SendErrorCode(c, fiber.StatusConflict, "execution_in_progress", err.Error())
	case errors.Is(err, service.ErrLanguageRequired):
		return utils.SendErrorCode(c, fiber.StatusBadRequest, "language_required", err.Error())
	case errors.Is(err, service.ErrUnsupportedLanguage):
		return utils.SendErrorCode(c, fiber.StatusBadRequest, "unsupported_language", err.Error())
	case errors.Is(err, service.ErrEmptyDraft):
		return utils.SendErrorCode(c, fiber.StatusBadRequest, "empty_draft", err.Error())
	case errors.Is(err, service.ErrNoTestCases):
		return utils.SendErrorCode(c, fiber.StatusBadRequest, "no_test_cases", err.Error())
	case errors.Is(err, service.ErrGradingFailed):
		requestLogger(h.logger, c).Warn().Err(err).Msg("grading failed")
		return utils.SendErrorCode(c, fiber.StatusBadGateway, "grading_failed", "submission could not be graded, please retry")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("coding session request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
