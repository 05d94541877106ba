package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-chat-client/internal/config"
	"github.com/noah-isme/gema-chat-client/internal/dto"
	"github.com/noah-isme/gema-chat-client/internal/identity"
	"github.com/noah-isme/gema-chat-client/internal/service"
	"github.com/noah-isme/gema-chat-client/internal/session"
	"github.com/noah-isme/gema-chat-client/pkg/chatapi"
)

func newAuthService(cfg config.Config, logger zerolog.Logger) (service.AuthService, error) {
	api, err := chatapi.New(chatapi.Config{BaseURL: cfg.APIURL, Timeout: cfg.RequestTimeout}, logger)
	if err != nil {
		return nil, err
	}
	store := identity.TokenFile{Path: cfg.TokenFile}
	return service.NewAuthService(api, store, validator.New(validator.WithRequiredStructEnabled()), logger), nil
}

func newLoginCommand() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			auth, err := newAuthService(cfg, newLogger(cfg))
			if err != nil {
				return err
			}

			if password == "" {
				if password, err = readSecret(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			result, err := auth.Login(cmd.Context(), dto.LoginRequest{Username: username, Password: password})
			if err != nil {
				return describeAuthError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", result.Username, result.UserID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newRegisterCommand() *cobra.Command {
	var req dto.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and store the access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			auth, err := newAuthService(cfg, newLogger(cfg))
			if err != nil {
				return err
			}

			if req.Password == "" {
				if req.Password, err = readSecret(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if req.ConfirmPassword == "" {
				req.ConfirmPassword = req.Password
			}

			result, err := auth.Register(cmd.Context(), req)
			if err != nil {
				return describeAuthError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered and signed in as %s (%s)\n", result.Username, result.UserID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "account password (read from stdin when omitted)")
	cmd.Flags().StringVar(&req.ConfirmPassword, "confirm-password", "", "password confirmation (defaults to --password)")
	cmd.Flags().StringVar(&req.Avatar, "avatar", "", "avatar image URL")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the identity carried by the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			auth, err := newAuthService(cfg, newLogger(cfg))
			if err != nil {
				return err
			}

			self, _, err := auth.Current()
			if err != nil {
				return describeAuthError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", self.Username, self.UserID)
			return nil
		},
	}
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			auth, err := newAuthService(cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			if err := auth.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func readSecret(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func describeAuthError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return errors.New("invalid username or password")
	case errors.Is(err, service.ErrUsernameTaken):
		return errors.New("username is already taken")
	case errors.Is(err, identity.ErrNoToken), errors.Is(err, service.ErrMissingToken), errors.Is(err, session.ErrNotAuthenticated):
		return errors.New("not signed in; run `chatclient login` first")
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make([]string, 0, len(validationErrors))
		for _, fe := range validationErrors {
			fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return fmt.Errorf("invalid input: %s", strings.Join(fields, ", "))
	}
	return err
}
