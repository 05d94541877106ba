package session

import (
	"time"

	"github.com/noah-isme/gema-chat-client/internal/models"
	"github.com/noah-isme/gema-chat-client/internal/realtime"
)

// Action is the closed set of inputs to Reduce: transport events, view
// intents and asynchronous completions.
type Action interface {
	ActionName() string
}

// TransportEvent wraps an event raised by the realtime transport.
type TransportEvent struct {
	Event realtime.Event
}

// ConnectFailed reports that the initial connection attempt failed.
type ConnectFailed struct {
	Err error
}

// SelectPartner opens the conversation with a user.
type SelectPartner struct {
	Partner models.User
}

// SendMessage sends a message of any content kind.
type SendMessage struct {
	To       string
	Text     string
	Type     models.MessageType
	FileName string
	FileSize int64
	FileType string
	GroupID  string
}

// SendLocation shares a position.
type SendLocation struct {
	To        string
	Latitude  float64
	Longitude float64
	IsLive    bool
}

// SendWebView shares a link preview.
type SendWebView struct {
	To          string
	URL         string
	Title       string
	Description string
	ImageURL    string
}

// SendTyping toggles the local typing indicator for a peer.
type SendTyping struct {
	To     string
	Typing bool
}

// DeleteMessage deletes a message for everyone.
type DeleteMessage struct {
	ID string
}

// LoadMoreHistory requests the next older page of the active conversation.
type LoadMoreHistory struct{}

// SearchMessages searches the active conversation.
type SearchMessages struct {
	Query string
}

// UploadFile uploads an attachment and sends it as a file message.
type UploadFile struct {
	To       string
	FileName string
	Content  []byte
}

// Logout tears the session down.
type Logout struct{}

// DismissError clears the error slot.
type DismissError struct{}

// TypingExpired fires TypingTTL after the signal with Seq was shown.
type TypingExpired struct {
	Seq uint64
}

// HistoryLoaded completes the HTTP fallback fetch started by SelectPartner.
type HistoryLoaded struct {
	PartnerID string
	Messages  []models.Message
	Err       error
}

// MoreHistoryLoaded completes a LoadMoreHistory fetch.
type MoreHistoryLoaded struct {
	PartnerID string
	Messages  []models.Message
	Err       error
}

// SearchCompleted completes a search; Gen ties it to the request that started it.
type SearchCompleted struct {
	Gen     uint64
	Query   string
	Results []models.Message
	Err     error
}

// UploadCompleted completes an UploadFile.
type UploadCompleted struct {
	To   string
	File models.FileMetadata
	Err  error
}

func (a TransportEvent) ActionName() string  { return "event:" + a.Event.Name() }
func (ConnectFailed) ActionName() string     { return "connect_failed" }
func (SelectPartner) ActionName() string     { return "select_partner" }
func (SendMessage) ActionName() string       { return "send_message" }
func (SendLocation) ActionName() string      { return "send_location" }
func (SendWebView) ActionName() string       { return "send_webview" }
func (SendTyping) ActionName() string        { return "send_typing" }
func (DeleteMessage) ActionName() string     { return "delete_message" }
func (LoadMoreHistory) ActionName() string   { return "load_more_history" }
func (SearchMessages) ActionName() string    { return "search" }
func (UploadFile) ActionName() string        { return "upload_file" }
func (Logout) ActionName() string            { return "logout" }
func (DismissError) ActionName() string      { return "dismiss_error" }
func (TypingExpired) ActionName() string     { return "typing_expired" }
func (HistoryLoaded) ActionName() string     { return "history_loaded" }
func (MoreHistoryLoaded) ActionName() string { return "more_history_loaded" }
func (SearchCompleted) ActionName() string   { return "search_completed" }
func (UploadCompleted) ActionName() string   { return "upload_completed" }

// Effect is a side effect requested by Reduce and executed by the Session loop.
type Effect interface {
	effect()
}

// EmitCommand writes a command to the transport.
type EmitCommand struct {
	Command realtime.Command
}

// PersistMessages mirrors the message list to the cache.
type PersistMessages struct {
	Messages []models.Message
}

// PersistPartner mirrors the active partner to the cache.
type PersistPartner struct {
	Partner *models.User
}

// ClearCache empties both cache slots.
type ClearCache struct{}

// ScheduleTypingExpiry arms the expiry timer for one typing signal.
type ScheduleTypingExpiry struct {
	Seq   uint64
	After time.Duration
}

// FetchHistory loads a history page over HTTP.
type FetchHistory struct {
	UserA string
	UserB string
	Limit int
	Skip  int
	More  bool
}

// RunSearch searches a conversation over HTTP.
type RunSearch struct {
	UserA string
	UserB string
	Query string
	Gen   uint64
}

// RunUpload uploads an attachment over HTTP.
type RunUpload struct {
	From     string
	To       string
	FileName string
	Content  []byte
}

// DisconnectTransport closes the realtime transport.
type DisconnectTransport struct{}

// NotifyLogout tells the session owner the user logged out.
type NotifyLogout struct{}

// Rejected records an action that was ignored, for logging.
type Rejected struct {
	Action string
	Reason string
}

func (EmitCommand) effect()          {}
func (PersistMessages) effect()      {}
func (PersistPartner) effect()       {}
func (ClearCache) effect()           {}
func (ScheduleTypingExpiry) effect() {}
func (FetchHistory) effect()         {}
func (RunSearch) effect()            {}
func (RunUpload) effect()            {}
func (DisconnectTransport) effect()  {}
func (NotifyLogout) effect()         {}
func (Rejected) effect()             {}
