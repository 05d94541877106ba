package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-client/internal/dto"
	"github.com/noah-isme/gema-chat-client/internal/identity"
	"github.com/noah-isme/gema-chat-client/pkg/chatapi"
)

var (
	// ErrInvalidCredentials indicates chat-api rejected the username or password.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUsernameTaken indicates registration hit an existing account.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrMissingToken indicates chat-api accepted the request but returned no token.
	ErrMissingToken = errors.New("chat-api returned no access token")
)

// AuthAPI is the subset of chat-api used for authentication.
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (chatapi.AuthResult, error)
	Register(ctx context.Context, username, password, avatar string) (chatapi.AuthResult, error)
}

// TokenStore persists the access token between runs.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// AuthService handles the login and registration forms.
type AuthService interface {
	Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error)
	Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error)
	Current() (identity.Identity, string, error)
	Logout() error
}

type authService struct {
	api       AuthAPI
	store     TokenStore
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAuthService constructs the authentication service. store may be nil.
func NewAuthService(api AuthAPI, store TokenStore, validate *validator.Validate, logger zerolog.Logger) AuthService {
	return &authService{
		api:       api,
		store:     store,
		validator: validate,
		logger:    logger.With().Str("component", "auth_service").Logger(),
	}
}

func (s *authService) Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validator.Struct(req); err != nil {
		return dto.AuthResponse{}, err
	}

	result, err := s.api.Login(ctx, req.Username, req.Password)
	if err != nil {
		return dto.AuthResponse{}, mapAuthError(err, ErrInvalidCredentials)
	}
	return s.complete(result)
}

func (s *authService) Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Avatar = strings.TrimSpace(req.Avatar)
	if err := s.validator.Struct(req); err != nil {
		return dto.AuthResponse{}, err
	}

	result, err := s.api.Register(ctx, req.Username, req.Password, req.Avatar)
	if err != nil {
		return dto.AuthResponse{}, mapAuthError(err, ErrUsernameTaken)
	}
	if result.AccessToken == "" {
		// some deployments only create the account; sign in to obtain a token
		return s.Login(ctx, dto.LoginRequest{Username: req.Username, Password: req.Password})
	}
	return s.complete(result)
}

func (s *authService) complete(result chatapi.AuthResult) (dto.AuthResponse, error) {
	if strings.TrimSpace(result.AccessToken) == "" {
		return dto.AuthResponse{}, ErrMissingToken
	}

	decoded := identity.Decode(result.AccessToken)
	response := dto.AuthResponse{
		UserID:       firstNonEmpty(decoded.UserID, result.UserID),
		Username:     firstNonEmpty(decoded.Username, result.Username),
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}

	if s.store != nil {
		if err := s.store.Save(result.AccessToken); err != nil {
			return dto.AuthResponse{}, err
		}
	}

	s.logger.Info().Str("user_id", response.UserID).Str("username", response.Username).Msg("authenticated")
	return response, nil
}

// Current returns the identity decoded from the stored token together with
// the token itself.
func (s *authService) Current() (identity.Identity, string, error) {
	if s.store == nil {
		return identity.Identity{}, "", identity.ErrNoToken
	}
	token, err := s.store.Load()
	if err != nil {
		return identity.Identity{}, "", err
	}
	return identity.Decode(token), token, nil
}

func (s *authService) Logout() error {
	if s.store == nil {
		return nil
	}
	return s.store.Clear()
}

func mapAuthError(err error, rejected error) error {
	var statusErr *chatapi.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	switch statusErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict, http.StatusBadRequest:
		return errors.Join(rejected, err)
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
