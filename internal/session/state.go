package session

import (
	"strings"
	"time"

	"github.com/noah-isme/gema-chat-client/internal/identity"
	"github.com/noah-isme/gema-chat-client/internal/models"
	"github.com/noah-isme/gema-chat-client/internal/repository"
)

const (
	// PageSize is the history page size for both initial and older pages.
	PageSize = 50
	// TypingTTL is how long a typing signal stays visible.
	TypingTTL = 2 * time.Second
)

// User-facing error messages placed in the single error slot.
const (
	ErrMsgReconnect        = "Reconnection failed. Please refresh the page."
	ErrMsgConnectionLost   = "Connection lost. Please refresh the page."
	ErrMsgLoadConversation = "Failed to load conversation. Please check your connection."
	ErrMsgLoadMore         = "Failed to load more messages"
	ErrMsgSearch           = "Failed to search messages"
	ErrMsgUpload           = "Failed to upload file"
)

// State is the chat session aggregate. Reduce never mutates the slices of an
// existing State, so a State value may be shared with readers once published.
type State struct {
	Version         uint64               `json:"version"`
	Self            identity.Identity    `json:"self"`
	Messages        []models.Message     `json:"messages"`
	Users           []models.User        `json:"users"`
	ActivePartner   *models.User         `json:"activePartner"`
	Typing          *models.TypingSignal `json:"typing"`
	Connected       bool                 `json:"connected"`
	Error           string               `json:"error"`
	HasMoreMessages bool                 `json:"hasMoreMessages"`
	IsLoadingMore   bool                 `json:"isLoadingMore"`
	SearchQuery     string               `json:"searchQuery"`
	SearchResults   []models.Message     `json:"searchResults"`
	IsSearching     bool                 `json:"isSearching"`

	typingSeq uint64
	searchGen uint64
}

// NewState builds the initial state for self, seeded from a rehydrated cache.
// Roster, typing and search always start empty.
func NewState(self identity.Identity, cached repository.Snapshot) State {
	state := State{
		Self:            self,
		Messages:        dedupe(cached.Messages),
		Users:           []models.User{},
		HasMoreMessages: true,
		SearchResults:   []models.Message{},
	}
	if cached.Partner != nil {
		partner := *cached.Partner
		state.ActivePartner = &partner
	}
	return state
}

// HasMessage reports whether id is retained in the message list.
func (s State) HasMessage(id string) bool {
	for _, m := range s.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Conversation returns the retained messages exchanged with the active partner.
func (s State) Conversation() []models.Message {
	if s.ActivePartner == nil {
		return []models.Message{}
	}
	out := make([]models.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Involves(s.Self.UserID, s.ActivePartner.ID) {
			out = append(out, m)
		}
	}
	return out
}

// Contacts returns the roster without the local user, filtered by a
// case-insensitive username substring.
func (s State) Contacts(filter string) []models.User {
	needle := strings.ToLower(strings.TrimSpace(filter))
	out := make([]models.User, 0, len(s.Users))
	for _, u := range s.Users {
		if u.ID == s.Self.UserID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(u.Username), needle) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func dedupe(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		if m.ID == "" {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
