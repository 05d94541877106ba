package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-chat-client/internal/models"
	"github.com/noah-isme/gema-chat-client/internal/observability"
)

const (
	// PageSize is the history page size; a shorter page means history is exhausted.
	PageSize = 50
	// SearchLimit bounds search results.
	SearchLimit = 100
	// MaxUploadBytes caps attachment size.
	MaxUploadBytes = 25 << 20

	pathHistory  = "/messages/conversation"
	pathSearch   = "/messages/conversation/search"
	pathUpload   = "/messages/upload"
	pathLogin    = "/auth/login"
	pathRegister = "/auth/register"

	defaultTimeout = 15 * time.Second
)

var (
	// ErrUnexpectedStatus wraps any non-2xx chat-api response.
	ErrUnexpectedStatus = errors.New("unexpected chat-api status")
	// ErrUnauthenticated indicates a call needing a bearer token was made without one.
	ErrUnauthenticated = errors.New("chat-api token not set")
	// ErrUploadTooLarge indicates the attachment exceeds MaxUploadBytes.
	ErrUploadTooLarge = errors.New("upload exceeds size limit")
)

// Config configures the chat-api client.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	HTTPClient    *http.Client
	CorrelationID func(context.Context) string
}

// UploadRequest describes an attachment to send.
type UploadRequest struct {
	From     string
	To       string
	FileName string
	Content  io.Reader
}

// AuthResult is returned by Login and Register.
type AuthResult struct {
	UserID       string `json:"id"`
	Username     string `json:"username"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// StatusError carries the failed response details.
type StatusError struct {
	Operation string
	Status    int
	Message   string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: chat-api returned %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("%s: chat-api returned %d: %s", e.Operation, e.Status, e.Message)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// Client performs the stateless HTTP calls to chat-api.
type Client struct {
	baseURL     *url.URL
	http        *http.Client
	correlation func(context.Context) string
	tracer      trace.Tracer
	logger      zerolog.Logger

	mu    sync.RWMutex
	token string
}

// New constructs a chat-api client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("chat-api base url must be provided")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid chat-api base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:     base,
		http:        httpClient,
		correlation: cfg.CorrelationID,
		tracer:      otel.Tracer("github.com/noah-isme/gema-chat-client/pkg/chatapi"),
		logger:      logger.With().Str("component", "chatapi").Logger(),
	}, nil
}

// SetToken sets the bearer token used on authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// History fetches one page of the conversation between userA and userB.
func (c *Client) History(ctx context.Context, userA, userB string, limit, skip int) ([]models.Message, error) {
	if limit <= 0 {
		limit = PageSize
	}
	if skip < 0 {
		skip = 0
	}
	query := url.Values{}
	query.Set("userA", userA)
	query.Set("userB", userB)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("skip", strconv.Itoa(skip))

	var payload struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, "history", http.MethodGet, pathHistory, query, nil, "", true, &payload); err != nil {
		return nil, err
	}
	return payload.Messages, nil
}

// Search returns messages between userA and userB matching query.
func (c *Client) Search(ctx context.Context, userA, userB, query string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = SearchLimit
	}
	values := url.Values{}
	values.Set("userA", userA)
	values.Set("userB", userB)
	values.Set("query", query)
	values.Set("limit", strconv.Itoa(limit))

	var payload struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, "search", http.MethodGet, pathSearch, values, nil, "", true, &payload); err != nil {
		return nil, err
	}
	return payload.Messages, nil
}

// Upload sends an attachment as multipart form data and returns its metadata.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (models.FileMetadata, error) {
	if req.Content == nil {
		return models.FileMetadata{}, fmt.Errorf("upload content must be provided")
	}
	data, err := io.ReadAll(io.LimitReader(req.Content, MaxUploadBytes+1))
	if err != nil {
		return models.FileMetadata{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return models.FileMetadata{}, ErrUploadTooLarge
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = "upload"
	}
	detected := mimetype.Detect(data)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(fileName)))
	header.Set("Content-Type", detected.String())
	part, err := writer.CreatePart(header)
	if err != nil {
		return models.FileMetadata{}, err
	}
	if _, err := part.Write(data); err != nil {
		return models.FileMetadata{}, err
	}
	if err := writer.WriteField("from", req.From); err != nil {
		return models.FileMetadata{}, err
	}
	if err := writer.WriteField("to", req.To); err != nil {
		return models.FileMetadata{}, err
	}
	if err := writer.Close(); err != nil {
		return models.FileMetadata{}, err
	}

	var payload struct {
		Message models.FileMetadata `json:"message"`
	}
	if err := c.do(ctx, "upload", http.MethodPost, pathUpload, nil, body, writer.FormDataContentType(), true, &payload); err != nil {
		return models.FileMetadata{}, err
	}

	meta := payload.Message
	if meta.FileName == "" {
		meta.FileName = fileName
	}
	if meta.FileSize == 0 {
		meta.FileSize = int64(len(data))
	}
	if meta.FileType == "" {
		meta.FileType = detected.String()
	}
	return meta, nil
}

// Login exchanges credentials for tokens.
func (c *Client) Login(ctx context.Context, username, password string) (AuthResult, error) {
	return c.authenticate(ctx, "login", pathLogin, map[string]string{
		"username": username,
		"password": password,
	})
}

// Register creates an account and returns its tokens.
func (c *Client) Register(ctx context.Context, username, password, avatar string) (AuthResult, error) {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	if avatar != "" {
		body["avatar"] = avatar
	}
	return c.authenticate(ctx, "register", pathRegister, body)
}

func (c *Client) authenticate(ctx context.Context, operation, path string, body map[string]string) (AuthResult, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return AuthResult{}, err
	}

	var raw json.RawMessage
	if err := c.do(ctx, operation, http.MethodPost, path, nil, bytes.NewReader(encoded), "application/json", false, &raw); err != nil {
		return AuthResult{}, err
	}
	return decodeAuthResult(raw)
}

// decodeAuthResult accepts either a bare token string or an object carrying
// accessToken/token plus optional identity fields.
func decodeAuthResult(raw json.RawMessage) (AuthResult, error) {
	var token string
	if err := json.Unmarshal(raw, &token); err == nil {
		return AuthResult{AccessToken: token}, nil
	}

	var payload struct {
		Sub          string `json:"sub"`
		ID           string `json:"id"`
		Username     string `json:"username"`
		AccessToken  string `json:"accessToken"`
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
		User         *struct {
			ID       string `json:"_id"`
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return AuthResult{}, fmt.Errorf("decode auth response: %w", err)
	}

	result := AuthResult{
		UserID:       payload.Sub,
		Username:     payload.Username,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if result.UserID == "" {
		result.UserID = payload.ID
	}
	if result.AccessToken == "" {
		result.AccessToken = payload.Token
	}
	if payload.User != nil {
		if result.UserID == "" {
			result.UserID = payload.User.ID
		}
		if result.Username == "" {
			result.Username = payload.User.Username
		}
	}
	if result.AccessToken == "" {
		return AuthResult{}, fmt.Errorf("auth response carried no token")
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, body io.Reader, contentType string, authenticated bool, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	token := c.bearer()
	if authenticated && token == "" {
		return ErrUnauthenticated
	}

	correlation := ""
	if c.correlation != nil {
		correlation = c.correlation(ctx)
	}
	if correlation == "" {
		correlation = uuid.NewString()
	}

	spanCtx, span := c.tracer.Start(ctx, "chatapi."+operation, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.String("correlation_id", correlation),
	))
	defer span.End()

	target := *c.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path
	if query != nil {
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(spanCtx, method, target.String(), body)
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", correlation)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	logger := c.logger.With().Str("operation", operation).Str("correlation_id", correlation).Logger()

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.ChatAPIRequests().WithLabelValues(operation, "transport_error").Inc()
		logger.Warn().Err(err).Msg("chat-api request failed")
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Operation: operation, Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
		span.RecordError(statusErr)
		span.SetStatus(codes.Error, statusErr.Error())
		observability.ChatAPIRequests().WithLabelValues(operation, "status_error").Inc()
		logger.Warn().Int("status", resp.StatusCode).Str("message", statusErr.Message).Msg("chat-api returned error status")
		return statusErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			span.RecordError(err)
			observability.ChatAPIRequests().WithLabelValues(operation, "decode_error").Inc()
			return fmt.Errorf("%s: decode response: %w", operation, err)
		}
	}

	observability.ChatAPIRequests().WithLabelValues(operation, "ok").Inc()
	return nil
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload struct {
		Message      any    `json:"message"`
		Error        string `json:"error"`
		ErrorMessage string `json:"ErrorMessage"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		switch msg := payload.Message.(type) {
		case string:
			if msg != "" {
				return msg
			}
		case []any:
			parts := make([]string, 0, len(msg))
			for _, p := range msg {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, "; ")
		}
		if payload.Error != "" {
			return payload.Error
		}
		if payload.ErrorMessage != "" {
			return payload.ErrorMessage
		}
	}
	return strings.TrimSpace(string(raw))
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
