package session

import (
	"strings"

	"github.com/noah-isme/gema-chat-client/internal/models"
	"github.com/noah-isme/gema-chat-client/internal/realtime"
	"github.com/noah-isme/gema-chat-client/internal/repository"
)

// Reduce applies one action to the state and returns the next state plus the
// side effects to run. It performs no I/O. Version is bumped whenever the
// returned state differs from the input.
func Reduce(s State, action Action) (State, []Effect) {
	next, effects, changed := reduce(s, action)
	if changed {
		next.Version = s.Version + 1
	}
	return next, effects
}

func reduce(s State, action Action) (State, []Effect, bool) {
	switch a := action.(type) {
	case TransportEvent:
		return reduceEvent(s, a.Event)
	case ConnectFailed:
		s.Connected = false
		s.Error = ErrMsgConnectionLost
		return s, nil, true

	case SelectPartner:
		if a.Partner.ID == "" {
			return s, reject(action, "partner has no id"), false
		}
		partner := a.Partner
		s.ActivePartner = &partner
		s.HasMoreMessages = true
		s = resetSearch(s)

		effects := []Effect{PersistPartner{Partner: &partner}}
		if s.Connected {
			effects = append(effects, EmitCommand{Command: realtime.GetConversation{WithUserID: partner.ID}})
		} else {
			effects = append(effects, FetchHistory{UserA: s.Self.UserID, UserB: partner.ID, Limit: PageSize})
		}
		return s, effects, true

	case SendMessage:
		if strings.TrimSpace(a.To) == "" {
			return s, reject(action, "recipient required"), false
		}
		if !s.Connected {
			return connectivityError(s, action)
		}
		kind := a.Type
		if kind == "" {
			kind = models.MessageTypeText
		}
		return s, []Effect{EmitCommand{Command: realtime.SendMessage{
			To:       a.To,
			Text:     a.Text,
			Type:     kind,
			FileName: a.FileName,
			FileSize: a.FileSize,
			FileType: a.FileType,
			GroupID:  a.GroupID,
		}}}, false

	case SendLocation:
		if strings.TrimSpace(a.To) == "" {
			return s, reject(action, "recipient required"), false
		}
		if !s.Connected {
			return connectivityError(s, action)
		}
		return s, []Effect{EmitCommand{Command: realtime.SendLocation{
			To:        a.To,
			Latitude:  a.Latitude,
			Longitude: a.Longitude,
			IsLive:    a.IsLive,
		}}}, false

	case SendWebView:
		if strings.TrimSpace(a.To) == "" {
			return s, reject(action, "recipient required"), false
		}
		if !s.Connected {
			return connectivityError(s, action)
		}
		return s, []Effect{EmitCommand{Command: realtime.SendWebView{
			To:          a.To,
			URL:         a.URL,
			Title:       a.Title,
			Description: a.Description,
			ImageURL:    a.ImageURL,
		}}}, false

	case SendTyping:
		if !s.Connected || a.To == "" {
			return s, nil, false
		}
		return s, []Effect{EmitCommand{Command: realtime.SendTyping{To: a.To, Typing: a.Typing}}}, false

	case DeleteMessage:
		if a.ID == "" {
			return s, reject(action, "message id required"), false
		}
		if !s.Connected {
			return connectivityError(s, action)
		}
		effects := []Effect{EmitCommand{Command: realtime.DeleteMessage{ID: a.ID}}}
		next, removed := removeMessage(s, a.ID)
		if !removed {
			return s, effects, false
		}
		return next, append(effects, PersistMessages{Messages: next.Messages}), true

	case LoadMoreHistory:
		switch {
		case s.ActivePartner == nil:
			return s, reject(action, "no active partner"), false
		case !s.HasMoreMessages:
			return s, reject(action, "history exhausted"), false
		case s.IsLoadingMore:
			return s, reject(action, "load already in flight"), false
		}
		s.IsLoadingMore = true
		return s, []Effect{FetchHistory{
			UserA: s.Self.UserID,
			UserB: s.ActivePartner.ID,
			Limit: PageSize,
			Skip:  len(s.Conversation()),
			More:  true,
		}}, true

	case SearchMessages:
		query := strings.TrimSpace(a.Query)
		if s.ActivePartner == nil || query == "" {
			cleared := resetSearch(s)
			return cleared, nil, searchChanged(s, cleared)
		}
		s.searchGen++
		s.SearchQuery = a.Query
		s.IsSearching = true
		return s, []Effect{RunSearch{UserA: s.Self.UserID, UserB: s.ActivePartner.ID, Query: query, Gen: s.searchGen}}, true

	case UploadFile:
		if strings.TrimSpace(a.To) == "" {
			return s, reject(action, "recipient required"), false
		}
		return s, []Effect{RunUpload{From: s.Self.UserID, To: a.To, FileName: a.FileName, Content: a.Content}}, false

	case Logout:
		var effects []Effect
		if s.Connected {
			effects = append(effects, EmitCommand{Command: realtime.PresenceOffline{UserID: s.Self.UserID}})
		}
		effects = append(effects, ClearCache{}, DisconnectTransport{}, NotifyLogout{})
		fresh := NewState(s.Self, repository.Snapshot{})
		fresh.typingSeq = s.typingSeq
		fresh.searchGen = s.searchGen + 1
		return fresh, effects, true

	case DismissError:
		if s.Error == "" {
			return s, nil, false
		}
		s.Error = ""
		return s, nil, true

	case TypingExpired:
		if s.Typing == nil || s.Typing.Seq != a.Seq {
			return s, nil, false
		}
		s.Typing = nil
		return s, nil, true

	case HistoryLoaded:
		if a.Err != nil {
			s.Error = ErrMsgLoadConversation
			return s, nil, true
		}
		merged, added := appendNew(s.Messages, a.Messages)
		changed := added > 0
		s.Messages = merged
		if s.ActivePartner != nil && s.ActivePartner.ID == a.PartnerID {
			hasMore := len(a.Messages) == PageSize
			changed = changed || hasMore != s.HasMoreMessages
			s.HasMoreMessages = hasMore
		}
		return s, []Effect{PersistMessages{Messages: s.Messages}}, changed

	case MoreHistoryLoaded:
		s.IsLoadingMore = false
		if a.Err != nil {
			s.Error = ErrMsgLoadMore
			return s, nil, true
		}
		s.Messages = prependNew(s.Messages, a.Messages)
		if s.ActivePartner != nil && s.ActivePartner.ID == a.PartnerID {
			s.HasMoreMessages = len(a.Messages) == PageSize
		}
		return s, []Effect{PersistMessages{Messages: s.Messages}}, true

	case SearchCompleted:
		if a.Gen != s.searchGen {
			return s, reject(action, "stale search response"), false
		}
		s.IsSearching = false
		if a.Err != nil {
			s.Error = ErrMsgSearch
			return s, nil, true
		}
		conversation := make(map[string]struct{})
		for _, m := range s.Conversation() {
			conversation[m.ID] = struct{}{}
		}
		results := make([]models.Message, 0, len(a.Results))
		seen := make(map[string]struct{}, len(a.Results))
		for _, m := range a.Results {
			if _, ok := conversation[m.ID]; !ok {
				continue
			}
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			results = append(results, m)
		}
		s.SearchResults = results
		return s, nil, true

	case UploadCompleted:
		if a.Err != nil {
			s.Error = ErrMsgUpload
			return s, nil, true
		}
		if !s.Connected {
			return connectivityError(s, action)
		}
		return s, []Effect{EmitCommand{Command: realtime.SendMessage{
			To:       a.To,
			Text:     a.File.FileURL,
			Type:     models.MessageTypeFile,
			FileName: a.File.FileName,
			FileSize: a.File.FileSize,
			FileType: a.File.FileType,
		}}}, false
	}

	return s, reject(action, "unhandled action"), false
}

func reduceEvent(s State, event realtime.Event) (State, []Effect, bool) {
	switch e := event.(type) {
	case realtime.Connected:
		s.Connected = true
		s.Error = ""
		return s, []Effect{EmitCommand{Command: realtime.PresenceOnline{UserID: s.Self.UserID}}}, true

	case realtime.Disconnected:
		if !s.Connected {
			return s, nil, false
		}
		s.Connected = false
		return s, nil, true

	case realtime.Reconnected:
		// The transport re-announces presence itself after a reconnect.
		s.Connected = true
		s.Error = ""
		return s, nil, true

	case realtime.ReconnectError:
		s.Connected = false
		s.Error = ErrMsgReconnect
		return s, nil, true

	case realtime.ReconnectFailed:
		s.Connected = false
		s.Error = ErrMsgConnectionLost
		return s, nil, true

	case realtime.RosterUpdated:
		if e.Users == nil {
			return s, reject(TransportEvent{Event: e}, "roster payload is not a list"), false
		}
		s.Users = append([]models.User(nil), e.Users...)
		return s, nil, true

	case realtime.MessageReceived:
		if e.Message.ID == "" {
			return s, reject(TransportEvent{Event: e}, "message without id"), false
		}
		if s.HasMessage(e.Message.ID) {
			return s, reject(TransportEvent{Event: e}, "duplicate message "+e.Message.ID), false
		}
		s.Messages = appendCopy(s.Messages, e.Message)
		return s, []Effect{PersistMessages{Messages: s.Messages}}, true

	case realtime.ConversationLoaded:
		merged, added := appendNew(s.Messages, e.Messages)
		s.Messages = merged
		return s, []Effect{PersistMessages{Messages: s.Messages}}, added > 0

	case realtime.PendingMessages:
		merged, added := appendNew(s.Messages, e.Messages)
		s.Messages = merged
		return s, []Effect{PersistMessages{Messages: s.Messages}}, added > 0

	case realtime.MessageDeleted:
		if e.ID == "" {
			return s, reject(TransportEvent{Event: e}, "deletion without id"), false
		}
		next, removed := removeMessage(s, e.ID)
		return next, []Effect{PersistMessages{Messages: next.Messages}}, removed

	case realtime.TypingReceived:
		s.typingSeq++
		s.Typing = &models.TypingSignal{From: e.From, Username: e.Username, Seq: s.typingSeq}
		return s, []Effect{ScheduleTypingExpiry{Seq: s.typingSeq, After: TypingTTL}}, true

	case realtime.UserStatusChanged:
		if e.UserID == "" {
			return s, reject(TransportEvent{Event: e}, "status update without user id"), false
		}
		for i, u := range s.Users {
			if u.ID != e.UserID {
				continue
			}
			if u.Online == e.Online {
				return s, nil, false
			}
			users := append([]models.User(nil), s.Users...)
			users[i].Online = e.Online
			s.Users = users
			return s, nil, true
		}
		return s, nil, false

	case realtime.ServerError:
		if e.Message == "" {
			return s, nil, false
		}
		s.Error = e.Message
		s.Connected = false
		return s, nil, true
	}

	return s, reject(TransportEvent{Event: event}, "unhandled event"), false
}

func connectivityError(s State, action Action) (State, []Effect, bool) {
	changed := s.Error != ErrMsgConnectionLost
	s.Error = ErrMsgConnectionLost
	return s, reject(action, "transport not connected"), changed
}

func reject(action Action, reason string) []Effect {
	return []Effect{Rejected{Action: action.ActionName(), Reason: reason}}
}

func resetSearch(s State) State {
	s.searchGen++
	s.SearchQuery = ""
	s.SearchResults = []models.Message{}
	s.IsSearching = false
	return s
}

func searchChanged(before, after State) bool {
	return before.SearchQuery != after.SearchQuery ||
		before.IsSearching != after.IsSearching ||
		len(before.SearchResults) != len(after.SearchResults)
}

func appendCopy(messages []models.Message, m models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages)+1)
	out = append(out, messages...)
	return append(out, m)
}

// appendNew appends the batch entries whose ids are not yet present, keeping
// existing entries in place.
func appendNew(existing, batch []models.Message) ([]models.Message, int) {
	fresh := unseen(existing, batch)
	if len(fresh) == 0 {
		return existing, 0
	}
	out := make([]models.Message, 0, len(existing)+len(fresh))
	out = append(out, existing...)
	return append(out, fresh...), len(fresh)
}

// prependNew places unseen batch entries before the existing ones.
func prependNew(existing, batch []models.Message) []models.Message {
	fresh := unseen(existing, batch)
	out := make([]models.Message, 0, len(existing)+len(fresh))
	out = append(out, fresh...)
	return append(out, existing...)
}

func unseen(existing, batch []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(existing)+len(batch))
	for _, m := range existing {
		seen[m.ID] = struct{}{}
	}
	fresh := make([]models.Message, 0, len(batch))
	for _, m := range batch {
		if m.ID == "" {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	return fresh
}

func removeMessage(s State, id string) (State, bool) {
	messages := make([]models.Message, 0, len(s.Messages))
	removed := false
	for _, m := range s.Messages {
		if m.ID == id {
			removed = true
			continue
		}
		messages = append(messages, m)
	}
	results := make([]models.Message, 0, len(s.SearchResults))
	for _, m := range s.SearchResults {
		if m.ID == id {
			removed = true
			continue
		}
		results = append(results, m)
	}
	if !removed {
		return s, false
	}
	s.Messages = messages
	s.SearchResults = results
	return s, true
}
