package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-client/internal/handler"
	"github.com/noah-isme/gema-chat-client/internal/service"
	"github.com/noah-isme/gema-chat-client/pkg/giphy"
)

type stubMediaProvider struct {
	kinds []giphy.Kind
	err   error
}

func (s *stubMediaProvider) Search(_ context.Context, kind giphy.Kind, query string) ([]giphy.Media, error) {
	s.kinds = append(s.kinds, kind)
	if s.err != nil {
		return nil, s.err
	}
	return []giphy.Media{{ID: "s1", Title: query, URL: "https://media.giphy.com/s1.gif"}}, nil
}

func newMediaApp(provider service.MediaSearcher) *fiber.App {
	logger := zerolog.New(io.Discard)
	svc := service.NewMediaService(provider, nil, "gema", validator.New(), logger)
	media := handler.NewMediaHandler(svc, logger)

	app := fiber.New()
	media.Register(app.Group("/api/v1/media"))
	return app
}

func TestMediaSearchReturnsResults(t *testing.T) {
	provider := &stubMediaProvider{}
	app := newMediaApp(provider)

	resp := doJSON(t, app, http.MethodGet, "/api/v1/media/stickers?q=party", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Data []giphy.Media `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Data, 1)
	require.Equal(t, "party", payload.Data[0].Title)
	require.Equal(t, []giphy.Kind{giphy.KindStickers}, provider.kinds)
}

func TestMediaSearchErrors(t *testing.T) {
	app := newMediaApp(&stubMediaProvider{})
	resp := doJSON(t, app, http.MethodGet, "/api/v1/media/videos?q=x", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	app = newMediaApp(&stubMediaProvider{err: giphy.ErrNotConfigured})
	resp = doJSON(t, app, http.MethodGet, "/api/v1/media/gifs?q=x", nil)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	app = newMediaApp(&stubMediaProvider{err: errors.New("upstream 500")})
	resp = doJSON(t, app, http.MethodGet, "/api/v1/media/gifs?q=x", nil)
	require.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
}
