package handler

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-client/internal/dto"
	"github.com/noah-isme/gema-chat-client/internal/middleware"
	"github.com/noah-isme/gema-chat-client/internal/service"
	"github.com/noah-isme/gema-chat-client/internal/session"
	"github.com/noah-isme/gema-chat-client/internal/utils"
	"github.com/noah-isme/gema-chat-client/pkg/chatapi"
)

const streamPingInterval = 30 * time.Second

// StateView exposes the session state to views.
type StateView interface {
	Snapshot() session.State
	Subscribe() (<-chan session.State, func())
	Done() <-chan struct{}
}

// ChatHandler serves the chat views: state reads, intents and the live state stream.
type ChatHandler struct {
	state   StateView
	compose service.ComposeService
	typing  fiber.Handler
	logger  zerolog.Logger
}

// NewChatHandler creates a chat handler. typingLimiter may be nil.
func NewChatHandler(state StateView, compose service.ComposeService, typingLimiter fiber.Handler, logger zerolog.Logger) *ChatHandler {
	if typingLimiter == nil {
		typingLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &ChatHandler{
		state:   state,
		compose: compose,
		typing:  typingLimiter,
		logger:  logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("correlation_id", middleware.GetCorrelationID(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(h.stream))

	router.Get("/state", h.snapshot)
	router.Get("/contacts", h.contacts)
	router.Get("/search", h.search)
	router.Post("/select", h.selectPartner)
	router.Post("/messages", h.sendMessage)
	router.Post("/messages/location", h.sendLocation)
	router.Post("/messages/webview", h.sendWebView)
	router.Delete("/messages/:id", h.deleteMessage)
	router.Post("/typing", h.typing, h.sendTyping)
	router.Post("/history/more", h.loadMore)
	router.Post("/upload", h.upload)
	router.Post("/error/dismiss", h.dismissError)
	router.Post("/logout", h.logout)
}

func (h *ChatHandler) snapshot(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "chat state", h.state.Snapshot())
}

func (h *ChatHandler) contacts(c *fiber.Ctx) error {
	var query dto.ContactsQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}
	if len(query.Query) > 50 {
		return utils.SendError(c, fiber.StatusBadRequest, "query too long")
	}
	users := h.state.Snapshot().Contacts(query.Query)
	return utils.SendSuccess(c, "contacts", dto.NewContactResponseSlice(users))
}

func (h *ChatHandler) search(c *fiber.Ctx) error {
	var query dto.SearchQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}
	state, err := h.compose.Search(requestContext(c), query)
	return h.respond(c, "search started", state, err)
}

func (h *ChatHandler) selectPartner(c *fiber.Ctx) error {
	var req dto.SelectPartnerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	state, err := h.compose.Select(requestContext(c), req)
	return h.respond(c, "conversation selected", state, err)
}

func (h *ChatHandler) sendMessage(c *fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	state, err := h.compose.SendMessage(requestContext(c), req)
	return h.respond(c, "message sent", state, err)
}

func (h *ChatHandler) sendLocation(c *fiber.Ctx) error {
	var req dto.SendLocationRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	state, err := h.compose.SendLocation(requestContext(c), req)
	return h.respond(c, "location sent", state, err)
}

func (h *ChatHandler) sendWebView(c *fiber.Ctx) error {
	var req dto.SendWebViewRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	state, err := h.compose.SendWebView(requestContext(c), req)
	return h.respond(c, "link sent", state, err)
}

func (h *ChatHandler) deleteMessage(c *fiber.Ctx) error {
	state, err := h.compose.Delete(requestContext(c), c.Params("id"))
	return h.respond(c, "message deleted", state, err)
}

func (h *ChatHandler) sendTyping(c *fiber.Ctx) error {
	var req dto.TypingRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	state, err := h.compose.SendTyping(requestContext(c), req)
	return h.respond(c, "typing sent", state, err)
}

func (h *ChatHandler) loadMore(c *fiber.Ctx) error {
	state, err := h.compose.LoadMore(requestContext(c))
	return h.respond(c, "loading older messages", state, err)
}

func (h *ChatHandler) upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}
	if file.Size > chatapi.MaxUploadBytes {
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, chatapi.ErrUploadTooLarge.Error())
	}

	opened, err := file.Open()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unable to read file")
	}
	defer opened.Close()

	content, err := io.ReadAll(io.LimitReader(opened, chatapi.MaxUploadBytes+1))
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unable to read file")
	}

	state, err := h.compose.Upload(requestContext(c), dto.UploadRequest{
		To:       c.FormValue("to"),
		FileName: file.Filename,
		Content:  content,
	})
	return h.respond(c, "upload started", state, err)
}

func (h *ChatHandler) dismissError(c *fiber.Ctx) error {
	state, err := h.compose.DismissError(requestContext(c))
	return h.respond(c, "error dismissed", state, err)
}

func (h *ChatHandler) logout(c *fiber.Ctx) error {
	state, err := h.compose.Logout(requestContext(c))
	return h.respond(c, "logged out", state, err)
}

// respond acknowledges an intent. Session-level failures such as a missing
// connection are not HTTP errors; they surface in the state's error slot.
func (h *ChatHandler) respond(c *fiber.Ctx, message string, state session.State, err error) error {
	if err != nil {
		return h.intentError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, message, dto.IntentResponse{
		Version: state.Version,
		Error:   state.Error,
	})
}

func (h *ChatHandler) intentError(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return utils.SendValidationError(c, err)
	case errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrInvalidMediaURL),
		errors.Is(err, service.ErrInvalidEmoji),
		errors.Is(err, service.ErrFileNameRequired):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, chatapi.ErrUploadTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, session.ErrClosed):
		return utils.SendError(c, fiber.StatusServiceUnavailable, "chat session is not running")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return utils.SendError(c, fiber.StatusRequestTimeout, "request cancelled")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("intent failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "intent failed")
	}
}

type streamFrame struct {
	Type  string        `json:"type"`
	State session.State `json:"state"`
}

// stream pushes the current state on connect and again after every change
// until the view disconnects or the session stops.
func (h *ChatHandler) stream(conn *websocket.Conn) {
	correlation, _ := conn.Locals("correlation_id").(string)
	log := h.logger.With().Str("correlation_id", correlation).Logger()

	updates, stop := h.state.Subscribe()
	defer stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	log.Debug().Msg("state stream opened")
	defer log.Debug().Msg("state stream closed")

	for {
		select {
		case <-closed:
			return
		case <-h.state.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session stopped"))
			return
		case state := <-updates:
			if err := conn.WriteJSON(streamFrame{Type: "state", State: state}); err != nil {
				log.Debug().Err(err).Msg("state stream write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				return
			}
		}
	}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}
