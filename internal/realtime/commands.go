package realtime

import "github.com/noah-isme/gema-chat-client/internal/models"

// Outbound command names.
const (
	CommandSendMessage     = "message"
	CommandTyping          = "typing"
	CommandLocation        = "location"
	CommandWebView         = "webview"
	CommandDeleteMessage   = "delete:message"
	CommandGetConversation = "get:conversation"
	CommandUserOnline      = "userOnline"
	CommandUserOffline     = "userOffline"
	CommandHeartbeat       = "user:heartbeat"
)

// Command is an outbound message for chat-api.
type Command interface {
	CommandName() string
}

// SendMessage posts a new chat message.
type SendMessage struct {
	To       string             `json:"to"`
	Text     string             `json:"text"`
	Type     models.MessageType `json:"type,omitempty"`
	FileName string             `json:"fileName,omitempty"`
	FileSize int64              `json:"fileSize,omitempty"`
	FileType string             `json:"fileType,omitempty"`
	GroupID  string             `json:"groupId,omitempty"`
}

// SendTyping toggles the typing indicator shown to a peer.
type SendTyping struct {
	To     string `json:"to"`
	Typing bool   `json:"typing"`
}

// SendLocation shares a position.
type SendLocation struct {
	To        string  `json:"to"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	IsLive    bool    `json:"isLive,omitempty"`
}

// SendWebView shares a rich link preview.
type SendWebView struct {
	To          string `json:"to"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// DeleteMessage removes a message for everyone.
type DeleteMessage struct {
	ID string `json:"id"`
}

// GetConversation asks for the full history with one user.
type GetConversation struct {
	WithUserID string `json:"withUserId"`
}

// PresenceOnline marks the local user online.
type PresenceOnline struct {
	UserID string `json:"userId"`
}

// PresenceOffline marks the local user offline.
type PresenceOffline struct {
	UserID string `json:"userId"`
}

// Heartbeat keeps server-side presence fresh.
type Heartbeat struct {
	UserID string `json:"userId"`
}

func (SendMessage) CommandName() string     { return CommandSendMessage }
func (SendTyping) CommandName() string      { return CommandTyping }
func (SendLocation) CommandName() string    { return CommandLocation }
func (SendWebView) CommandName() string     { return CommandWebView }
func (DeleteMessage) CommandName() string   { return CommandDeleteMessage }
func (GetConversation) CommandName() string { return CommandGetConversation }
func (PresenceOnline) CommandName() string  { return CommandUserOnline }
func (PresenceOffline) CommandName() string { return CommandUserOffline }
func (Heartbeat) CommandName() string       { return CommandHeartbeat }
