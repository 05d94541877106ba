package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/gema-chat-client/internal/models"
)

// Inbound event names. The lifecycle names are raised locally by the client.
const (
	EventUsersUpdated     = "users:updated"
	EventMessage          = "message"
	EventConversation     = "conversation"
	EventMessagesPending  = "messages:pending"
	EventMessageDeleted   = "message:deleted"
	EventTyping           = "typing"
	EventUserStatusUpdate = "userStatusUpdate"
	EventError            = "error"

	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventReconnect       = "reconnect"
	EventReconnectError  = "reconnect_error"
	EventReconnectFailed = "reconnect_failed"
)

var errNotAList = errors.New("payload is not a list")

// Event is the closed set of typed events delivered to listeners.
type Event interface {
	Name() string
	isEvent()
}

// Connected is raised after the initial connection succeeds.
type Connected struct{}

// Disconnected is raised whenever an established connection goes away.
type Disconnected struct {
	Reason string
}

// Reconnected is raised when a reconnection attempt succeeds.
type Reconnected struct {
	Attempt int
}

// ReconnectError is raised for every failed reconnection attempt.
type ReconnectError struct {
	Attempt int
	Err     string
}

// ReconnectFailed is raised once the reconnection budget is exhausted.
type ReconnectFailed struct {
	Attempts int
}

// RosterUpdated replaces the roster. Users is nil when the payload was not a list.
type RosterUpdated struct {
	Users []models.User
}

// MessageReceived carries a single new message.
type MessageReceived struct {
	Message models.Message
}

// ConversationLoaded carries a full conversation batch.
type ConversationLoaded struct {
	Messages []models.Message
}

// PendingMessages carries messages queued while the user was offline.
type PendingMessages struct {
	Messages []models.Message
}

// MessageDeleted reports a removed message.
type MessageDeleted struct {
	ID             string `json:"id"`
	DeletedBy      string `json:"deletedBy"`
	ConversationID string `json:"conversationId,omitempty"`
}

// TypingReceived reports that a peer is typing.
type TypingReceived struct {
	From     string `json:"from"`
	Username string `json:"username"`
}

// UserStatusChanged reports a presence change for one user.
type UserStatusChanged struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// ServerError is an error pushed by chat-api.
type ServerError struct {
	Message string `json:"message"`
}

func (Connected) Name() string          { return EventConnect }
func (Disconnected) Name() string       { return EventDisconnect }
func (Reconnected) Name() string        { return EventReconnect }
func (ReconnectError) Name() string     { return EventReconnectError }
func (ReconnectFailed) Name() string    { return EventReconnectFailed }
func (RosterUpdated) Name() string      { return EventUsersUpdated }
func (MessageReceived) Name() string    { return EventMessage }
func (ConversationLoaded) Name() string { return EventConversation }
func (PendingMessages) Name() string    { return EventMessagesPending }
func (MessageDeleted) Name() string     { return EventMessageDeleted }
func (TypingReceived) Name() string     { return EventTyping }
func (UserStatusChanged) Name() string  { return EventUserStatusUpdate }
func (ServerError) Name() string        { return EventError }

func (Connected) isEvent()          {}
func (Disconnected) isEvent()       {}
func (Reconnected) isEvent()        {}
func (ReconnectError) isEvent()     {}
func (ReconnectFailed) isEvent()    {}
func (RosterUpdated) isEvent()      {}
func (MessageReceived) isEvent()    {}
func (ConversationLoaded) isEvent() {}
func (PendingMessages) isEvent()    {}
func (MessageDeleted) isEvent()     {}
func (TypingReceived) isEvent()     {}
func (UserStatusChanged) isEvent()  {}
func (ServerError) isEvent()        {}

// LifecycleEvents lists the locally raised connection events.
var LifecycleEvents = []string{EventConnect, EventDisconnect, EventReconnect, EventReconnectError, EventReconnectFailed}

// ServerEvents lists the event names chat-api pushes.
var ServerEvents = []string{
	EventUsersUpdated,
	EventMessage,
	EventConversation,
	EventMessagesPending,
	EventMessageDeleted,
	EventTyping,
	EventUserStatusUpdate,
	EventError,
}

type decoder func(json.RawMessage) (Event, error)

var decoders = map[string]decoder{
	EventUsersUpdated: func(raw json.RawMessage) (Event, error) {
		var users []models.User
		if err := decodeList(raw, "users", &users); err != nil {
			if errors.Is(err, errNotAList) {
				return RosterUpdated{}, nil
			}
			return nil, err
		}
		if users == nil {
			users = []models.User{}
		}
		return RosterUpdated{Users: users}, nil
	},
	EventMessage: func(raw json.RawMessage) (Event, error) {
		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return MessageReceived{Message: msg}, nil
	},
	EventConversation: func(raw json.RawMessage) (Event, error) {
		var messages []models.Message
		if err := decodeList(raw, "messages", &messages); err != nil {
			return nil, err
		}
		return ConversationLoaded{Messages: messages}, nil
	},
	EventMessagesPending: func(raw json.RawMessage) (Event, error) {
		var messages []models.Message
		if err := decodeList(raw, "messages", &messages); err != nil {
			return nil, err
		}
		return PendingMessages{Messages: messages}, nil
	},
	EventMessageDeleted: func(raw json.RawMessage) (Event, error) {
		var evt MessageDeleted
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	},
	EventTyping: func(raw json.RawMessage) (Event, error) {
		var evt TypingReceived
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	},
	EventUserStatusUpdate: func(raw json.RawMessage) (Event, error) {
		var evt UserStatusChanged
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	},
	EventError: func(raw json.RawMessage) (Event, error) {
		var evt ServerError
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	},
}

// DecodeEvent turns a named wire payload into its typed event.
func DecodeEvent(name string, raw json.RawMessage) (Event, error) {
	decode, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", name)
	}
	event, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return event, nil
}

// decodeList accepts either a bare JSON array or an object wrapping the array under key.
func decodeList(raw json.RawMessage, key string, out any) error {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "["):
		return json.Unmarshal(raw, out)
	case strings.HasPrefix(trimmed, "{"):
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return err
		}
		inner, ok := wrapper[key]
		if !ok || !strings.HasPrefix(strings.TrimSpace(string(inner)), "[") {
			return errNotAList
		}
		return json.Unmarshal(inner, out)
	default:
		return errNotAList
	}
}
