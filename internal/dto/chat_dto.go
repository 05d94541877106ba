package dto

import (
	"github.com/noah-isme/gema-chat-client/internal/models"
)

// SelectPartnerRequest opens a conversation. Fields other than user_id are
// only used when the user is not in the current roster.
type SelectPartnerRequest struct {
	UserID   string `json:"user_id" validate:"required,max=128"`
	Username string `json:"username" validate:"omitempty,max=50"`
	Avatar   string `json:"avatar" validate:"omitempty,url"`
}

// SendMessageRequest is the composer payload for every message kind other than
// location and web view.
type SendMessageRequest struct {
	To       string `json:"to" validate:"required,max=128"`
	Text     string `json:"text" validate:"max=4000"`
	Type     string `json:"type" validate:"omitempty,oneof=text emoji gif sticker file"`
	FileName string `json:"file_name" validate:"omitempty,max=255"`
	FileSize int64  `json:"file_size" validate:"omitempty,min=0"`
	FileType string `json:"file_type" validate:"omitempty,max=255"`
	GroupID  string `json:"group_id" validate:"omitempty,max=128"`
}

// SendLocationRequest shares a position.
type SendLocationRequest struct {
	To        string  `json:"to" validate:"required,max=128"`
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	IsLive    bool    `json:"is_live"`
}

// SendWebViewRequest shares a link preview.
type SendWebViewRequest struct {
	To          string `json:"to" validate:"required,max=128"`
	URL         string `json:"url" validate:"required,url,max=2048"`
	Title       string `json:"title" validate:"omitempty,max=200"`
	Description string `json:"description" validate:"omitempty,max=1000"`
	ImageURL    string `json:"image_url" validate:"omitempty,url,max=2048"`
}

// TypingRequest toggles the typing indicator.
type TypingRequest struct {
	To     string `json:"to" validate:"required,max=128"`
	Typing bool   `json:"typing"`
}

// SearchQuery filters the active conversation.
type SearchQuery struct {
	Query string `query:"q" validate:"max=200"`
}

// ContactsQuery filters the roster by username.
type ContactsQuery struct {
	Query string `query:"q" validate:"max=50"`
}

// UploadRequest carries an attachment read from a multipart form.
type UploadRequest struct {
	To       string `validate:"required,max=128"`
	FileName string `validate:"required,max=255"`
	Content  []byte `validate:"required,min=1"`
}

// LoginRequest is the login form.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}

// RegisterRequest is the registration form.
type RegisterRequest struct {
	Username        string `json:"username" validate:"required,min=3,max=50"`
	Password        string `json:"password" validate:"required,min=6,max=100"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
	Avatar          string `json:"avatar" validate:"omitempty,url"`
}

// AuthResponse is returned after a successful login or registration.
type AuthResponse struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IntentResponse acknowledges a dispatched intent with the version of the
// state right after it was applied.
type IntentResponse struct {
	Version uint64 `json:"version"`
	Error   string `json:"error,omitempty"`
}

// ContactResponse is a roster entry as shown in the sidebar.
type ContactResponse struct {
	ID          string          `json:"id"`
	Username    string          `json:"username"`
	Avatar      string          `json:"avatar"`
	Online      bool            `json:"online"`
	UnreadCount int             `json:"unread_count"`
	LastMessage *models.Message `json:"last_message,omitempty"`
}

// NewContactResponse converts a roster user.
func NewContactResponse(user models.User) ContactResponse {
	return ContactResponse{
		ID:          user.ID,
		Username:    user.Username,
		Avatar:      user.AvatarURL(),
		Online:      user.Online,
		UnreadCount: user.UnreadCount,
		LastMessage: user.LastMessage,
	}
}

// NewContactResponseSlice converts a roster.
func NewContactResponseSlice(users []models.User) []ContactResponse {
	out := make([]ContactResponse, 0, len(users))
	for _, user := range users {
		out = append(out, NewContactResponse(user))
	}
	return out
}

// StateNotice is the summary published to external observers when the
// session state changes.
type StateNotice struct {
	UserID       string `json:"userId"`
	Version      uint64 `json:"version"`
	Connected    bool   `json:"connected"`
	MessageCount int    `json:"messageCount"`
	Error        string `json:"error,omitempty"`
	Partner      string `json:"partner,omitempty"`
}
