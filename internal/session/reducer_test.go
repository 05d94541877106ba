package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-client/internal/identity"
	"github.com/noah-isme/gema-chat-client/internal/models"
	"github.com/noah-isme/gema-chat-client/internal/realtime"
	"github.com/noah-isme/gema-chat-client/internal/repository"
)

var self = identity.Identity{UserID: "A", Username: "alice"}

func newTestState() State {
	return NewState(self, repository.Snapshot{})
}

func connectedState() State {
	s, _ := Reduce(newTestState(), TransportEvent{Event: realtime.Connected{}})
	return s
}

func msg(id, from, to string) models.Message {
	return models.Message{ID: id, From: from, To: to, Type: models.MessageTypeText, Text: "m" + id}
}

func ids(messages []models.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func page(n int, offset int) []models.Message {
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, msg(fmt.Sprintf("p%d", offset+i), "B", "A"))
	}
	return out
}

func emitted(effects []Effect) []realtime.Command {
	var out []realtime.Command
	for _, e := range effects {
		if emit, ok := e.(EmitCommand); ok {
			out = append(out, emit.Command)
		}
	}
	return out
}

func findEffect[T Effect](effects []Effect) (T, bool) {
	for _, e := range effects {
		if typed, ok := e.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}

func TestConnectLifecycle(t *testing.T) {
	s := newTestState()
	s.Error = "stale"

	s, effects := Reduce(s, TransportEvent{Event: realtime.Connected{}})
	require.True(t, s.Connected)
	require.Empty(t, s.Error)
	require.Equal(t, []realtime.Command{realtime.PresenceOnline{UserID: "A"}}, emitted(effects))

	s, _ = Reduce(s, TransportEvent{Event: realtime.Disconnected{Reason: "io"}})
	require.False(t, s.Connected)

	s, effects = Reduce(s, TransportEvent{Event: realtime.Reconnected{Attempt: 2}})
	require.True(t, s.Connected)
	require.Empty(t, emitted(effects))

	s, _ = Reduce(s, TransportEvent{Event: realtime.ReconnectError{Attempt: 1, Err: "refused"}})
	require.False(t, s.Connected)
	require.Equal(t, ErrMsgReconnect, s.Error)

	s, _ = Reduce(s, TransportEvent{Event: realtime.ReconnectFailed{Attempts: 5}})
	require.Equal(t, ErrMsgConnectionLost, s.Error)

	s, _ = Reduce(s, DismissError{})
	require.Empty(t, s.Error)

	s, _ = Reduce(s, ConnectFailed{Err: errors.New("dial")})
	require.False(t, s.Connected)
	require.Equal(t, ErrMsgConnectionLost, s.Error)
}

func TestVersionOnlyBumpsOnChange(t *testing.T) {
	s := connectedState()
	before := s.Version

	s, _ = Reduce(s, SendTyping{To: "B", Typing: true})
	require.Equal(t, before, s.Version)

	s, _ = Reduce(s, TransportEvent{Event: realtime.MessageReceived{Message: msg("1", "B", "A")}})
	require.Equal(t, before+1, s.Version)
}

func TestNewMessageDeduplicates(t *testing.T) {
	s := connectedState()
	for _, id := range []string{"1", "2", "1", "3", "2", "1"} {
		s, _ = Reduce(s, TransportEvent{Event: realtime.MessageReceived{Message: msg(id, "B", "A")}})
	}
	require.Equal(t, []string{"1", "2", "3"}, ids(s.Messages))

	next, effects := Reduce(s, TransportEvent{Event: realtime.MessageReceived{Message: models.Message{Text: "no id"}}})
	require.Equal(t, s.Version, next.Version)
	_, rejected := findEffect[Rejected](effects)
	require.True(t, rejected)
}

func TestNewMessagePersistsSnapshot(t *testing.T) {
	s := connectedState()
	s, effects := Reduce(s, TransportEvent{Event: realtime.MessageReceived{Message: msg("1", "B", "A")}})
	persist, ok := findEffect[PersistMessages](effects)
	require.True(t, ok)
	require.Equal(t, ids(s.Messages), ids(persist.Messages))
}

func TestConversationMergeKeepsOrder(t *testing.T) {
	s := connectedState()
	s, _ = Reduce(s, TransportEvent{Event: realtime.MessageReceived{Message: msg("2", "B", "A")}})
	s, _ = Reduce(s, TransportEvent{Event: realtime.MessageReceived{Message: msg("1", "A", "B")}})

	s, _ = Reduce(s, TransportEvent{Event: realtime.ConversationLoaded{Messages: []models.Message{
		msg("1", "A", "B"), msg("2", "B", "A"), msg("3", "B", "A"), msg("3", "B", "A"),
	}}})
	require.Equal(t, []string{"2", "1", "3"}, ids(s.Messages))

	s, _ = Reduce(s, TransportEvent{Event: realtime.PendingMessages{Messages: []models.Message{msg("4", "C", "A"), msg("2", "B", "A")}}})
	require.Equal(t, []string{"2", "1", "3", "4"}, ids(s.Messages))
}

func TestExampleScenario(t *testing.T) {
	s := NewState(self, repository.Snapshot{Messages: []models.Message{msg("1", "A", "B")}})
	s, _ = Reduce(s, TransportEvent{Event: realtime.Connected{}})

	s, effects := Reduce(s, SelectPartner{Partner: models.User{ID: "B", Username: "bob"}})
	require.Equal(t, []realtime.Command{realtime.GetConversation{WithUserID: "B"}}, emitted(effects))

	s, _ = Reduce(s, TransportEvent{Event: realtime.ConversationLoaded{Messages: []models.Message{msg("1", "A", "B"), msg("2", "B", "A")}}})
	require.Equal(t, []string{"1", "2"}, ids(s.Messages))
}

func TestDeleteRemovesFromMessagesAndSearch(t *testing.T) {
	s := connectedState()
	s, _ = Reduce(s, SelectPartner{Partner: models.User{ID: "B"}})
	s, _ = Reduce(s, TransportEvent{Event: realtime.ConversationLoaded{Messages: []models.Message{msg("1", "A", "B"), msg("2", "B", "A")}}})
	s, effects := Reduce(s, SearchMessages{Query: "m"})
	run, ok := findEffect[RunSearch](effects)
	require.True(t, ok)
	s, _ = Reduce(s, SearchCompleted{Gen: run.Gen, Query: "m", Results: []models.Message{msg("1", "A", "B"), msg("2", "B", "A")}})
	require.Len(t, s.SearchResults, 2)

	t.Run("server event", func(t *testing.T) {
		next, effects := Reduce(s, TransportEvent{Event: realtime.MessageDeleted{ID: "1", DeletedBy: "B"}})
		require.Equal(t, []string{"2"}, ids(next.Messages))
		require.Equal(t, []string{"2"}, ids(next.SearchResults))
		persist, ok := findEffect[PersistMessages](effects)
		require.True(t, ok)
		require.Equal(t, []string{"2"}, ids(persist.Messages))
		require.Len(t, s.Messages, 2, "input state must not be mutated")
	})

	t.Run("optimistic intent", func(t *testing.T) {
		next, effects := Reduce(s, DeleteMessage{ID: "2"})
		require.Equal(t, []realtime.Command{realtime.DeleteMessage{ID: "2"}}, emitted(effects))
		require.Equal(t, []string{"1"}, ids(next.Messages))
		require.Equal(t, []string{"1"}, ids(next.SearchResults))
		_, ok := findEffect[PersistMessages](effects)
		require.True(t, ok)
	})

	t.Run("disconnected", func(t *testing.T) {
		offline, _ := Reduce(s, TransportEvent{Event: realtime.Disconnected{}})
		next, effects := Reduce(offline, DeleteMessage{ID: "2"})
		require.Empty(t, emitted(effects))
		require.Len(t, next.Messages, 2)
		require.Equal(t, ErrMsgConnectionLost, next.Error)
	})
}

func TestTypingExpiryIsKeyedToSignal(t *testing.T) {
	s := connectedState()
	s, effects := Reduce(s, TransportEvent{Event: realtime.TypingReceived{From: "B", Username: "bob"}})
	require.NotNil(t, s.Typing)
	require.Equal(t, "B", s.Typing.From)
	first, ok := findEffect[ScheduleTypingExpiry](effects)
	require.True(t, ok)
	require.Equal(t, TypingTTL, first.After)

	s, effects = Reduce(s, TransportEvent{Event: realtime.TypingReceived{From: "C", Username: "carol"}})
	second, _ := findEffect[ScheduleTypingExpiry](effects)
	require.NotEqual(t, first.Seq, second.Seq)

	s, _ = Reduce(s, TypingExpired{Seq: first.Seq})
	require.NotNil(t, s.Typing)
	require.Equal(t, "C", s.Typing.From)

	s, _ = Reduce(s, TypingExpired{Seq: second.Seq})
	require.Nil(t, s.Typing)
}

func TestUserStatusUpdate(t *testing.T) {
	s := connectedState()
	s, _ = Reduce(s, TransportEvent{Event: realtime.RosterUpdated{Users: []models.User{{ID: "B", Username: "bob"}, {ID: "C"}}}})
	require.Len(t, s.Users, 2)

	roster := s.Users
	s, _ = Reduce(s, TransportEvent{Event: realtime.UserStatusChanged{UserID: "B", Online: true}})
	require.True(t, s.Users[0].Online)
	require.False(t, roster[0].Online)

	before := s.Version
	s, _ = Reduce(s, TransportEvent{Event: realtime.UserStatusChanged{UserID: "Z", Online: true}})
	require.Equal(t, before, s.Version)

	s, effects := Reduce(s, TransportEvent{Event: realtime.RosterUpdated{}})
	require.Len(t, s.Users, 2)
	_, rejected := findEffect[Rejected](effects)
	require.True(t, rejected)
}

func TestServerError(t *testing.T) {
	s := connectedState()
	next, _ := Reduce(s, TransportEvent{Event: realtime.ServerError{}})
	require.Equal(t, s, next)

	next, _ = Reduce(s, TransportEvent{Event: realtime.ServerError{Message: "Unauthorized"}})
	require.Equal(t, "Unauthorized", next.Error)
	require.False(t, next.Connected)
}

func TestSelectPartnerResetsAndPersistsFirst(t *testing.T) {
	s := connectedState()
	s, _ = Reduce(s, SelectPartner{Partner: models.User{ID: "B"}})
	s.HasMoreMessages = false
	s, effects := Reduce(s, SearchMessages{Query: "hello"})
	run, _ := findEffect[RunSearch](effects)

	s, effects = Reduce(s, SelectPartner{Partner: models.User{ID: "C", Username: "carol"}})
	require.Equal(t, "C", s.ActivePartner.ID)
	require.True(t, s.HasMoreMessages)
	require.Empty(t, s.SearchQuery)
	require.Empty(t, s.SearchResults)
	require.False(t, s.IsSearching)

	require.NotEmpty(t, effects)
	persist, ok := effects[0].(PersistPartner)
	require.True(t, ok, "partner must be persisted before conversation is requested")
	require.Equal(t, "C", persist.Partner.ID)
	require.Equal(t, []realtime.Command{realtime.GetConversation{WithUserID: "C"}}, emitted(effects))

	next, _ := Reduce(s, SearchCompleted{Gen: run.Gen, Query: "hello", Results: []models.Message{msg("1", "A", "B")}})
	require.Empty(t, next.SearchResults, "search for the previous partner must be dropped")
}

func TestSelectPartnerOfflineFallsBackToHTTP(t *testing.T) {
	s := newTestState()
	s, effects := Reduce(s, SelectPartner{Partner: models.User{ID: "B"}})
	require.Empty(t, emitted(effects))
	fetch, ok := findEffect[FetchHistory](effects)
	require.True(t, ok)
	require.Equal(t, FetchHistory{UserA: "A", UserB: "B", Limit: PageSize}, fetch)

	loaded, _ := Reduce(s, HistoryLoaded{PartnerID: "B", Messages: page(10, 0)})
	require.Len(t, loaded.Messages, 10)
	require.False(t, loaded.HasMoreMessages)

	failed, _ := Reduce(s, HistoryLoaded{PartnerID: "B", Err: errors.New("500")})
	require.Equal(t, ErrMsgLoadConversation, failed.Error)
}

func TestSendWhileDisconnected(t *testing.T) {
	s := newTestState()
	s, effects := Reduce(s, SendMessage{To: "B", Text: "hi"})
	require.Empty(t, emitted(effects))
	require.Equal(t, ErrMsgConnectionLost, s.Error)
	require.Empty(t, s.Messages)

	for _, action := range []Action{
		SendLocation{To: "B", Latitude: 1, Longitude: 2},
		SendWebView{To: "B", URL: "https://example.com"},
	} {
		_, effects := Reduce(newTestState(), action)
		require.Empty(t, emitted(effects))
	}

	next, effects := Reduce(newTestState(), SendTyping{To: "B", Typing: true})
	require.Empty(t, effects)
	require.Empty(t, next.Error)
}

func TestSendMessageConnected(t *testing.T) {
	s := connectedState()
	next, effects := Reduce(s, SendMessage{To: "B", Text: "hi"})
	require.Equal(t, []realtime.Command{realtime.SendMessage{To: "B", Text: "hi", Type: models.MessageTypeText}}, emitted(effects))
	require.Empty(t, next.Messages, "messages appear only when echoed")

	_, effects = Reduce(s, SendLocation{To: "B", Latitude: -6.2, Longitude: 106.8, IsLive: true})
	require.Equal(t, []realtime.Command{realtime.SendLocation{To: "B", Latitude: -6.2, Longitude: 106.8, IsLive: true}}, emitted(effects))

	_, effects = Reduce(s, SendTyping{To: "B", Typing: false})
	require.Equal(t, []realtime.Command{realtime.SendTyping{To: "B", Typing: false}}, emitted(effects))
}

func TestLoadMoreHistory(t *testing.T) {
	s := connectedState()
	s, effects := Reduce(s, LoadMoreHistory{})
	require.Empty(t, emitted(effects))
	_, rejected := findEffect[Rejected](effects)
	require.True(t, rejected, "no partner")

	s, _ = Reduce(s, SelectPartner{Partner: models.User{ID: "B"}})
	s, _ = Reduce(s, TransportEvent{Event: realtime.ConversationLoaded{Messages: append(page(50, 100), msg("x", "C", "A"))}})

	s, effects = Reduce(s, LoadMoreHistory{})
	require.True(t, s.IsLoadingMore)
	fetch, ok := findEffect[FetchHistory](effects)
	require.True(t, ok)
	require.Equal(t, 50, fetch.Skip)
	require.True(t, fetch.More)

	_, effects = Reduce(s, LoadMoreHistory{})
	_, fetched := findEffect[FetchHistory](effects)
	require.False(t, fetched, "only one load in flight")

	full, _ := Reduce(s, MoreHistoryLoaded{PartnerID: "B", Messages: page(50, 0)})
	require.True(t, full.HasMoreMessages)
	require.False(t, full.IsLoadingMore)
	require.Equal(t, "p0", full.Messages[0].ID)
	require.Len(t, full.Messages, 101)

	short, _ := Reduce(s, MoreHistoryLoaded{PartnerID: "B", Messages: page(49, 0)})
	require.False(t, short.HasMoreMessages)

	_, effects = Reduce(short, LoadMoreHistory{})
	_, fetched = findEffect[FetchHistory](effects)
	require.False(t, fetched, "history exhausted")

	failed, _ := Reduce(s, MoreHistoryLoaded{PartnerID: "B", Err: errors.New("boom")})
	require.False(t, failed.IsLoadingMore)
	require.Equal(t, ErrMsgLoadMore, failed.Error)
}

func TestSearch(t *testing.T) {
	s := connectedState()
	s, _ = Reduce(s, SelectPartner{Partner: models.User{ID: "B"}})
	s, _ = Reduce(s, TransportEvent{Event: realtime.ConversationLoaded{Messages: []models.Message{msg("1", "A", "B"), msg("2", "B", "A"), msg("3", "B", "A")}}})

	s, effects := Reduce(s, SearchMessages{Query: " m "})
	require.True(t, s.IsSearching)
	run, ok := findEffect[RunSearch](effects)
	require.True(t, ok)
	require.Equal(t, "m", run.Query)
	require.Equal(t, "B", run.UserB)

	// deleted while the request was in flight
	s, _ = Reduce(s, TransportEvent{Event: realtime.MessageDeleted{ID: "2"}})

	done, _ := Reduce(s, SearchCompleted{Gen: run.Gen, Results: []models.Message{msg("1", "A", "B"), msg("2", "B", "A"), msg("9", "B", "A")}})
	require.False(t, done.IsSearching)
	require.Equal(t, []string{"1"}, ids(done.SearchResults))
	for _, r := range done.SearchResults {
		require.True(t, done.HasMessage(r.ID))
	}

	t.Run("other partners are excluded", func(t *testing.T) {
		other, _ := Reduce(s, TransportEvent{Event: realtime.MessageReceived{Message: msg("7", "C", "A")}})
		require.True(t, other.HasMessage("7"))

		filtered, _ := Reduce(other, SearchCompleted{Gen: run.Gen, Results: []models.Message{msg("7", "C", "A"), msg("3", "B", "A")}})
		require.Equal(t, []string{"3"}, ids(filtered.SearchResults))
	})

	t.Run("superseded response is dropped", func(t *testing.T) {
		newer, effects := Reduce(s, SearchMessages{Query: "m3"})
		latest, _ := findEffect[RunSearch](effects)
		newer, _ = Reduce(newer, SearchCompleted{Gen: latest.Gen, Results: []models.Message{msg("3", "B", "A")}})
		stale, _ := Reduce(newer, SearchCompleted{Gen: run.Gen, Results: []models.Message{msg("1", "A", "B")}})
		require.Equal(t, []string{"3"}, ids(stale.SearchResults))
	})

	t.Run("empty query clears", func(t *testing.T) {
		cleared, effects := Reduce(done, SearchMessages{Query: "  "})
		require.Empty(t, effects)
		require.Empty(t, cleared.SearchResults)
		require.Empty(t, cleared.SearchQuery)
	})

	t.Run("failure", func(t *testing.T) {
		failed, _ := Reduce(s, SearchCompleted{Gen: run.Gen, Err: errors.New("boom")})
		require.Equal(t, ErrMsgSearch, failed.Error)
		require.False(t, failed.IsSearching)
	})
}

func TestUploadFlow(t *testing.T) {
	s := connectedState()
	_, effects := Reduce(s, UploadFile{To: "B", FileName: "a.png", Content: []byte("x")})
	upload, ok := findEffect[RunUpload](effects)
	require.True(t, ok)
	require.Equal(t, "A", upload.From)

	meta := models.FileMetadata{FileURL: "https://cdn/a.png", FileName: "a.png", FileSize: 1, FileType: "image/png"}
	_, effects = Reduce(s, UploadCompleted{To: "B", File: meta})
	require.Equal(t, []realtime.Command{realtime.SendMessage{
		To: "B", Text: meta.FileURL, Type: models.MessageTypeFile, FileName: "a.png", FileSize: 1, FileType: "image/png",
	}}, emitted(effects))

	failed, effects := Reduce(s, UploadCompleted{To: "B", Err: errors.New("413")})
	require.Equal(t, ErrMsgUpload, failed.Error)
	require.Empty(t, emitted(effects))
}

func TestLogout(t *testing.T) {
	s := connectedState()
	s, _ = Reduce(s, SelectPartner{Partner: models.User{ID: "B"}})
	s, _ = Reduce(s, TransportEvent{Event: realtime.MessageReceived{Message: msg("1", "B", "A")}})

	next, effects := Reduce(s, Logout{})
	require.Empty(t, next.Messages)
	require.Nil(t, next.ActivePartner)
	require.False(t, next.Connected)
	require.Greater(t, next.Version, s.Version)

	require.Equal(t, []Effect{
		EmitCommand{Command: realtime.PresenceOffline{UserID: "A"}},
		ClearCache{},
		DisconnectTransport{},
		NotifyLogout{},
	}, effects)

	_, effects = Reduce(newTestState(), Logout{})
	require.Empty(t, emitted(effects))
}

func TestContactsExcludeSelf(t *testing.T) {
	s := connectedState()
	s, _ = Reduce(s, TransportEvent{Event: realtime.RosterUpdated{Users: []models.User{
		{ID: "A", Username: "alice"}, {ID: "B", Username: "Bob"}, {ID: "C", Username: "carol"},
	}}})
	require.Len(t, s.Contacts(""), 2)
	contacts := s.Contacts("BO")
	require.Len(t, contacts, 1)
	require.Equal(t, "B", contacts[0].ID)
}
