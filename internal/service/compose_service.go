package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-chat-client/internal/dto"
	"github.com/noah-isme/gema-chat-client/internal/models"
	"github.com/noah-isme/gema-chat-client/internal/session"
	"github.com/noah-isme/gema-chat-client/pkg/chatapi"
)

const maxEmojiRunes = 16

var (
	// ErrEmptyMessage indicates a text message that is blank.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrInvalidMediaURL indicates a gif, sticker or file message without an http(s) URL.
	ErrInvalidMediaURL = errors.New("message requires an http(s) media url")
	// ErrInvalidEmoji indicates an emoji message that is empty or too long.
	ErrInvalidEmoji = errors.New("emoji message must be a short non-empty string")
	// ErrFileNameRequired indicates a file message without a file name.
	ErrFileNameRequired = errors.New("file message requires a file name")
)

// Dispatcher applies intents to a running chat session.
type Dispatcher interface {
	Apply(ctx context.Context, action session.Action) (session.State, error)
	Snapshot() session.State
}

// ComposeService validates view intents and hands them to the session.
type ComposeService interface {
	Select(ctx context.Context, req dto.SelectPartnerRequest) (session.State, error)
	SendMessage(ctx context.Context, req dto.SendMessageRequest) (session.State, error)
	SendLocation(ctx context.Context, req dto.SendLocationRequest) (session.State, error)
	SendWebView(ctx context.Context, req dto.SendWebViewRequest) (session.State, error)
	SendTyping(ctx context.Context, req dto.TypingRequest) (session.State, error)
	Delete(ctx context.Context, messageID string) (session.State, error)
	LoadMore(ctx context.Context) (session.State, error)
	Search(ctx context.Context, query dto.SearchQuery) (session.State, error)
	Upload(ctx context.Context, req dto.UploadRequest) (session.State, error)
	Logout(ctx context.Context) (session.State, error)
	DismissError(ctx context.Context) (session.State, error)
}

type composeService struct {
	dispatcher Dispatcher
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// NewComposeService constructs the intent service.
func NewComposeService(dispatcher Dispatcher, validate *validator.Validate, logger zerolog.Logger) ComposeService {
	return &composeService{
		dispatcher: dispatcher,
		validator:  validate,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger.With().Str("component", "compose_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-chat-client/internal/service/compose"),
	}
}

func (s *composeService) Select(ctx context.Context, req dto.SelectPartnerRequest) (session.State, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if err := s.validator.Struct(req); err != nil {
		return session.State{}, err
	}

	partner := models.User{ID: req.UserID, Username: strings.TrimSpace(req.Username), Avatar: req.Avatar}
	for _, u := range s.dispatcher.Snapshot().Users {
		if u.ID == req.UserID {
			partner = u
			break
		}
	}
	return s.dispatcher.Apply(ctx, session.SelectPartner{Partner: partner})
}

func (s *composeService) SendMessage(ctx context.Context, req dto.SendMessageRequest) (session.State, error) {
	req.To = strings.TrimSpace(req.To)
	if err := s.validator.Struct(req); err != nil {
		return session.State{}, err
	}

	kind := models.MessageType(req.Type)
	if kind == "" {
		kind = models.MessageTypeText
	}

	ctx, span := s.tracer.Start(ctx, "compose.send_message", trace.WithAttributes(
		attribute.String("chat.to", req.To),
		attribute.String("chat.type", string(kind)),
	))
	defer span.End()

	text, err := s.normalise(kind, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid content")
		return session.State{}, err
	}

	state, err := s.dispatcher.Apply(ctx, session.SendMessage{
		To:       req.To,
		Text:     text,
		Type:     kind,
		FileName: req.FileName,
		FileSize: req.FileSize,
		FileType: req.FileType,
		GroupID:  req.GroupID,
	})
	if err != nil {
		span.RecordError(err)
		return state, err
	}
	span.SetStatus(codes.Ok, "dispatched")
	return state, nil
}

// normalise applies the per-kind content rules and returns the text to send.
func (s *composeService) normalise(kind models.MessageType, req dto.SendMessageRequest) (string, error) {
	switch kind {
	case models.MessageTypeText:
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return "", ErrEmptyMessage
		}
		return text, nil
	case models.MessageTypeEmoji:
		emoji := strings.TrimSpace(req.Text)
		if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiRunes || strings.ContainsAny(emoji, "<>") {
			return "", ErrInvalidEmoji
		}
		return emoji, nil
	case models.MessageTypeGIF, models.MessageTypeSticker:
		if err := s.validator.Var(strings.TrimSpace(req.Text), "required,http_url"); err != nil {
			return "", ErrInvalidMediaURL
		}
		return strings.TrimSpace(req.Text), nil
	case models.MessageTypeFile:
		if err := s.validator.Var(strings.TrimSpace(req.Text), "required,http_url"); err != nil {
			return "", ErrInvalidMediaURL
		}
		if strings.TrimSpace(req.FileName) == "" {
			return "", ErrFileNameRequired
		}
		return strings.TrimSpace(req.Text), nil
	}
	return "", fmt.Errorf("unsupported message type %q", kind)
}

func (s *composeService) SendLocation(ctx context.Context, req dto.SendLocationRequest) (session.State, error) {
	req.To = strings.TrimSpace(req.To)
	if err := s.validator.Struct(req); err != nil {
		return session.State{}, err
	}
	return s.dispatcher.Apply(ctx, session.SendLocation{
		To:        req.To,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		IsLive:    req.IsLive,
	})
}

func (s *composeService) SendWebView(ctx context.Context, req dto.SendWebViewRequest) (session.State, error) {
	req.To = strings.TrimSpace(req.To)
	req.URL = strings.TrimSpace(req.URL)
	if err := s.validator.Struct(req); err != nil {
		return session.State{}, err
	}
	if err := s.validator.Var(req.URL, "http_url"); err != nil {
		return session.State{}, ErrInvalidMediaURL
	}
	return s.dispatcher.Apply(ctx, session.SendWebView{
		To:          req.To,
		URL:         req.URL,
		Title:       s.plainText(req.Title),
		Description: s.plainText(req.Description),
		ImageURL:    strings.TrimSpace(req.ImageURL),
	})
}

// plainText strips markup from link preview fields, which the views render as
// card text. Message bodies are sent as typed.
func (s *composeService) plainText(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
}

func (s *composeService) SendTyping(ctx context.Context, req dto.TypingRequest) (session.State, error) {
	req.To = strings.TrimSpace(req.To)
	if err := s.validator.Struct(req); err != nil {
		return session.State{}, err
	}
	return s.dispatcher.Apply(ctx, session.SendTyping{To: req.To, Typing: req.Typing})
}

func (s *composeService) Delete(ctx context.Context, messageID string) (session.State, error) {
	messageID = strings.TrimSpace(messageID)
	if err := s.validator.Var(messageID, "required,max=128"); err != nil {
		return session.State{}, err
	}
	return s.dispatcher.Apply(ctx, session.DeleteMessage{ID: messageID})
}

func (s *composeService) LoadMore(ctx context.Context) (session.State, error) {
	return s.dispatcher.Apply(ctx, session.LoadMoreHistory{})
}

func (s *composeService) Search(ctx context.Context, query dto.SearchQuery) (session.State, error) {
	if err := s.validator.Struct(query); err != nil {
		return session.State{}, err
	}
	return s.dispatcher.Apply(ctx, session.SearchMessages{Query: query.Query})
}

func (s *composeService) Upload(ctx context.Context, req dto.UploadRequest) (session.State, error) {
	req.To = strings.TrimSpace(req.To)
	req.FileName = filepath.Base(strings.TrimSpace(req.FileName))
	if req.FileName == "." || req.FileName == string(filepath.Separator) {
		req.FileName = ""
	}
	if err := s.validator.Struct(req); err != nil {
		return session.State{}, err
	}
	if len(req.Content) > chatapi.MaxUploadBytes {
		return session.State{}, chatapi.ErrUploadTooLarge
	}

	s.logger.Debug().Str("to", req.To).Str("file_name", req.FileName).Int("size", len(req.Content)).Msg("queueing upload")
	return s.dispatcher.Apply(ctx, session.UploadFile{To: req.To, FileName: req.FileName, Content: req.Content})
}

func (s *composeService) Logout(ctx context.Context) (session.State, error) {
	return s.dispatcher.Apply(ctx, session.Logout{})
}

func (s *composeService) DismissError(ctx context.Context) (session.State, error) {
	return s.dispatcher.Apply(ctx, session.DismissError{})
}
