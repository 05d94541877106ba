package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-client/pkg/giphy"
)

const mediaCacheTTL = 5 * time.Minute

// MediaSearcher is the GIF/sticker provider.
type MediaSearcher interface {
	Search(ctx context.Context, kind giphy.Kind, query string) ([]giphy.Media, error)
}

// MediaService backs the GIF and sticker pickers.
type MediaService interface {
	Search(ctx context.Context, kind, query string) ([]giphy.Media, error)
}

type mediaQuery struct {
	Query string `validate:"max=100"`
}

type mediaService struct {
	provider  MediaSearcher
	cache     *redis.Client
	prefix    string
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewMediaService constructs the picker service. cache may be nil.
func NewMediaService(provider MediaSearcher, cache *redis.Client, prefix string, validate *validator.Validate, logger zerolog.Logger) MediaService {
	return &mediaService{
		provider:  provider,
		cache:     cache,
		prefix:    prefix,
		validator: validate,
		logger:    logger.With().Str("component", "media_service").Logger(),
	}
}

func (s *mediaService) Search(ctx context.Context, rawKind, query string) ([]giphy.Media, error) {
	kind, err := giphy.ParseKind(rawKind)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if err := s.validator.Struct(mediaQuery{Query: query}); err != nil {
		return nil, err
	}

	key := s.cacheKey(kind, query)
	if cached, ok := s.fromCache(ctx, key); ok {
		return cached, nil
	}

	results, err := s.provider.Search(ctx, kind, query)
	if err != nil {
		return nil, err
	}
	s.storeCache(ctx, key, results)
	return results, nil
}

func (s *mediaService) cacheKey(kind giphy.Kind, query string) string {
	base := fmt.Sprintf("media:%s:%s", kind, strings.ToLower(query))
	if s.prefix == "" {
		return base
	}
	return s.prefix + ":" + base
}

func (s *mediaService) fromCache(ctx context.Context, key string) ([]giphy.Media, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var results []giphy.Media
	if err := json.Unmarshal(raw, &results); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to decode cached media results")
		return nil, false
	}
	return results, true
}

func (s *mediaService) storeCache(ctx context.Context, key string, results []giphy.Media) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, mediaCacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache media results")
	}
}
