package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MessageType enumerates the content kinds a chat message can carry.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeEmoji    MessageType = "emoji"
	MessageTypeGIF      MessageType = "gif"
	MessageTypeSticker  MessageType = "sticker"
	MessageTypeFile     MessageType = "file"
	MessageTypeLocation MessageType = "location"
	MessageTypeWebView  MessageType = "webview"
)

// Valid reports whether the type is one of the known message kinds.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeEmoji, MessageTypeGIF, MessageTypeSticker,
		MessageTypeFile, MessageTypeLocation, MessageTypeWebView:
		return true
	}
	return false
}

const avatarPlaceholderBase = "https://ui-avatars.com/api/?name="

// User is a roster entry as reported by chat-api.
type User struct {
	ID          string    `json:"_id"`
	Username    string    `json:"username"`
	Avatar      string    `json:"avatar,omitempty"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"lastSeen,omitempty"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UnreadCount int       `json:"unreadCount,omitempty"`
}

// AvatarURL returns the avatar reference or a generated placeholder.
func (u User) AvatarURL() string {
	if strings.TrimSpace(u.Avatar) != "" {
		return u.Avatar
	}
	return avatarPlaceholderBase + url.QueryEscape(u.Username)
}

// UnmarshalJSON accepts both `_id` and `userId` identities, the latter being
// what presence-oriented roster payloads carry.
func (u *User) UnmarshalJSON(data []byte) error {
	type alias User
	var raw struct {
		alias
		UserID string `json:"userId"`
		AltID  string `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = User(raw.alias)
	if u.ID == "" {
		u.ID = firstNonEmpty(raw.UserID, raw.AltID)
	}
	return nil
}

// Message is a server-confirmed chat message.
type Message struct {
	ID             string      `json:"_id"`
	From           string      `json:"from"`
	To             string      `json:"to"`
	Type           MessageType `json:"type"`
	Text           string      `json:"text,omitempty"`
	FileURL        string      `json:"fileUrl,omitempty"`
	FileName       string      `json:"fileName,omitempty"`
	FileSize       int64       `json:"fileSize,omitempty"`
	FileType       string      `json:"fileType,omitempty"`
	Latitude       float64     `json:"latitude,omitempty"`
	Longitude      float64     `json:"longitude,omitempty"`
	IsLive         bool        `json:"isLive,omitempty"`
	WebURL         string      `json:"webUrl,omitempty"`
	WebTitle       string      `json:"webTitle,omitempty"`
	WebDescription string      `json:"webDescription,omitempty"`
	WebImageURL    string      `json:"webImageUrl,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Delivered      bool        `json:"delivered"`
	Seen           bool        `json:"seen"`
	DeletedBy      []string    `json:"deletedBy,omitempty"`
	GroupID        string      `json:"groupId,omitempty"`
	Username       string      `json:"username,omitempty"`
	Avatar         string      `json:"avatar,omitempty"`
}

// Involves reports whether the message was exchanged between the two users.
func (m Message) Involves(userA, userB string) bool {
	return (m.From == userA && m.To == userB) || (m.From == userB && m.To == userA)
}

// UnmarshalJSON decodes `from`/`to` whether chat-api sends a bare id or an
// embedded user document.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		AltID string          `json:"id"`
		From  json.RawMessage `json:"from"`
		To    json.RawMessage `json:"to"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	from, err := participantID(raw.From)
	if err != nil {
		return fmt.Errorf("decode message sender: %w", err)
	}
	to, err := participantID(raw.To)
	if err != nil {
		return fmt.Errorf("decode message recipient: %w", err)
	}

	*m = Message(raw.alias)
	m.From = from
	m.To = to
	if m.ID == "" {
		m.ID = raw.AltID
	}
	return nil
}

func participantID(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var user User
		if err := json.Unmarshal(raw, &user); err != nil {
			return "", err
		}
		return user.ID, nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", err
	}
	return id, nil
}

// TypingSignal is an ephemeral "user is typing" indicator. Seq identifies the
// signal instance so its expiry cannot clear a newer one.
type TypingSignal struct {
	From     string `json:"from"`
	Username string `json:"username"`
	Seq      uint64 `json:"-"`
}

// FileMetadata describes an uploaded attachment.
type FileMetadata struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
