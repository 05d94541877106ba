package giphy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://api.giphy.com/v1"
	resultLimit    = 20
)

// Kind selects the Giphy catalogue.
type Kind string

const (
	KindGIFs     Kind = "gifs"
	KindStickers Kind = "stickers"
)

var (
	// ErrNotConfigured indicates no API key was provided.
	ErrNotConfigured = errors.New("giphy api key not configured")
	// ErrInvalidKind indicates an unknown catalogue was requested.
	ErrInvalidKind = errors.New("giphy kind must be gifs or stickers")
)

// Media is a single GIF or sticker result.
type Media struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	PreviewURL string `json:"previewUrl"`
}

// Config holds Giphy credentials.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Client searches Giphy.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// New constructs a Giphy client. A missing key is reported at call time.
func New(cfg Config, logger zerolog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: base,
		http:    httpClient,
		logger:  logger.With().Str("component", "giphy").Logger(),
	}
}

// ParseKind validates a catalogue name.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindGIFs:
		return KindGIFs, nil
	case KindStickers:
		return KindStickers, nil
	}
	return "", ErrInvalidKind
}

// Search returns up to 20 results, or trending items when query is empty.
func (c *Client) Search(ctx context.Context, kind Kind, query string) ([]Media, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if kind != KindGIFs && kind != KindStickers {
		return nil, ErrInvalidKind
	}

	endpoint := "trending"
	values := url.Values{}
	values.Set("api_key", c.apiKey)
	values.Set("limit", strconv.Itoa(resultLimit))
	if q := strings.TrimSpace(query); q != "" {
		endpoint = "search"
		values.Set("q", q)
	}

	target := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, kind, endpoint, values.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("giphy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Str("kind", string(kind)).Msg("giphy returned error status")
		return nil, fmt.Errorf("giphy returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data []struct {
			ID     string `json:"id"`
			Title  string `json:"title"`
			Images struct {
				FixedHeight struct {
					URL string `json:"url"`
				} `json:"fixed_height"`
				FixedHeightSmall struct {
					URL string `json:"url"`
				} `json:"fixed_height_small"`
				Original struct {
					URL string `json:"url"`
				} `json:"original"`
			} `json:"images"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode giphy response: %w", err)
	}

	results := make([]Media, 0, len(payload.Data))
	for _, item := range payload.Data {
		mediaURL := item.Images.FixedHeight.URL
		if mediaURL == "" {
			mediaURL = item.Images.Original.URL
		}
		preview := item.Images.FixedHeightSmall.URL
		if preview == "" {
			preview = mediaURL
		}
		results = append(results, Media{ID: item.ID, Title: item.Title, URL: mediaURL, PreviewURL: preview})
	}
	return results, nil
}
