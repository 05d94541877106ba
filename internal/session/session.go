package session

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-client/internal/identity"
	"github.com/noah-isme/gema-chat-client/internal/models"
	"github.com/noah-isme/gema-chat-client/internal/observability"
	"github.com/noah-isme/gema-chat-client/internal/realtime"
	"github.com/noah-isme/gema-chat-client/internal/repository"
	"github.com/noah-isme/gema-chat-client/pkg/chatapi"
)

const actionBuffer = 256

var (
	// ErrNotAuthenticated indicates the session was created without a usable identity.
	ErrNotAuthenticated = errors.New("session requires an authenticated identity")
	// ErrClosed indicates the session loop is no longer running.
	ErrClosed = errors.New("session closed")
)

// Transport is the realtime connection the session drives.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Emit(cmd realtime.Command) error
	On(name string, handler realtime.Handler) realtime.ListenerID
	Off(name string, id realtime.ListenerID)
}

// ChatAPI is the HTTP client used for history, search and uploads.
type ChatAPI interface {
	History(ctx context.Context, userA, userB string, limit, skip int) ([]models.Message, error)
	Search(ctx context.Context, userA, userB, query string, limit int) ([]models.Message, error)
	Upload(ctx context.Context, req chatapi.UploadRequest) (models.FileMetadata, error)
}

// Options wires a Session.
type Options struct {
	Identity   identity.Identity
	Transport  Transport
	API        ChatAPI
	Repository repository.SnapshotRepository
	Clock      clock.Clock
	OnLogout   func()
}

type envelope struct {
	action Action
	reply  chan State
}

// Session owns one chat session. A single loop goroutine applies Reduce and
// runs the resulting effects; everything else talks to it through actions.
type Session struct {
	opts   Options
	clock  clock.Clock
	logger zerolog.Logger

	actions chan envelope
	done    chan struct{}
	started sync.Once

	stateMu sync.RWMutex
	state   State

	subsMu sync.Mutex
	subs   map[chan State]struct{}

	// owned by the loop goroutine
	timers    map[uint64]*clock.Timer
	listeners map[string]realtime.ListenerID
	runCtx    context.Context

	logoutOnce sync.Once
}

// New validates the options and builds an idle session.
func New(opts Options, logger zerolog.Logger) (*Session, error) {
	if !opts.Identity.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	if opts.Transport == nil {
		return nil, errors.New("session requires a transport")
	}
	if opts.Repository == nil {
		opts.Repository = repository.NewMemorySnapshotRepository(opts.Identity.UserID)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Session{
		opts:      opts,
		clock:     clk,
		logger:    logger.With().Str("component", "chat_session").Str("user_id", opts.Identity.UserID).Logger(),
		actions:   make(chan envelope, actionBuffer),
		done:      make(chan struct{}),
		state:     NewState(opts.Identity, repository.Snapshot{}),
		subs:      make(map[chan State]struct{}),
		timers:    make(map[uint64]*clock.Timer),
		listeners: make(map[string]realtime.ListenerID),
	}, nil
}

// Run rehydrates the cache, connects the transport and processes actions
// until ctx is cancelled. It may only be called once.
func (s *Session) Run(ctx context.Context) error {
	err := ErrClosed
	s.started.Do(func() {
		err = s.run(ctx)
	})
	return err
}

func (s *Session) run(ctx context.Context) error {
	defer close(s.done)
	s.runCtx = ctx

	cached := repository.Rehydrate(ctx, s.opts.Repository, s.logger)
	s.setState(NewState(s.opts.Identity, cached))
	s.logger.Info().Int("cached_messages", len(cached.Messages)).Bool("cached_partner", cached.Partner != nil).Msg("chat session started")

	for _, name := range append(append([]string(nil), realtime.LifecycleEvents...), realtime.ServerEvents...) {
		s.listeners[name] = s.opts.Transport.On(name, s.onTransportEvent)
	}

	go func() {
		if err := s.opts.Transport.Connect(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("initial connection failed")
			s.post(ConnectFailed{Err: err})
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case env := <-s.actions:
			state := s.apply(env.action)
			if env.reply != nil {
				env.reply <- state
			}
		}
	}
}

// Dispatch queues an action without waiting for it to be applied.
func (s *Session) Dispatch(ctx context.Context, action Action) error {
	select {
	case s.actions <- envelope{action: action}:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply queues an action and returns the state right after it was reduced.
func (s *Session) Apply(ctx context.Context, action Action) (State, error) {
	reply := make(chan State, 1)
	select {
	case s.actions <- envelope{action: action, reply: reply}:
	case <-s.done:
		return State{}, ErrClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}

	select {
	case state := <-reply:
		return state, nil
	case <-s.done:
		return State{}, ErrClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Snapshot returns the latest published state.
func (s *Session) Snapshot() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Subscribe returns a channel that always holds the most recent state. The
// current state is delivered immediately. Call the returned func to stop.
func (s *Session) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	// Holding subsMu across the snapshot keeps a concurrent publish from
	// landing between the snapshot and registration.
	s.subsMu.Lock()
	ch <- s.Snapshot()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	observability.StateSubscribers().Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				observability.StateSubscribers().Dec()
			}
		})
	}
}

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) onTransportEvent(event realtime.Event) {
	s.post(TransportEvent{Event: event})
}

// post is used by goroutines other than the loop; it gives up once the loop is gone.
func (s *Session) post(action Action) {
	select {
	case s.actions <- envelope{action: action}:
	case <-s.done:
	}
}

func (s *Session) apply(action Action) State {
	current := s.Snapshot()
	next, effects := Reduce(current, action)
	observability.SessionActions().WithLabelValues(action.ActionName()).Inc()

	s.setState(next)
	if next.Version != current.Version {
		s.publish(next)
	}

	for _, effect := range effects {
		s.execute(effect)
	}
	return next
}

func (s *Session) execute(effect Effect) {
	ctx := s.runCtx
	switch e := effect.(type) {
	case EmitCommand:
		_ = s.opts.Transport.Emit(e.Command)

	case PersistMessages:
		if err := s.opts.Repository.SaveMessages(ctx, e.Messages); err != nil {
			s.logger.Warn().Err(err).Msg("failed to persist messages")
		}

	case PersistPartner:
		if err := s.opts.Repository.SavePartner(ctx, e.Partner); err != nil {
			s.logger.Warn().Err(err).Msg("failed to persist active partner")
		}

	case ClearCache:
		if err := s.opts.Repository.Clear(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to clear chat cache")
		}

	case ScheduleTypingExpiry:
		seq := e.Seq
		s.timers[seq] = s.clock.AfterFunc(e.After, func() {
			s.post(TypingExpired{Seq: seq})
		})
		s.pruneTimers(seq)

	case FetchHistory:
		if s.opts.API == nil {
			s.post(historyResult(e, nil, errors.New("chat api not configured")))
			return
		}
		go func() {
			messages, err := s.opts.API.History(ctx, e.UserA, e.UserB, e.Limit, e.Skip)
			s.post(historyResult(e, messages, err))
		}()

	case RunSearch:
		if s.opts.API == nil {
			s.post(SearchCompleted{Gen: e.Gen, Query: e.Query, Err: errors.New("chat api not configured")})
			return
		}
		go func() {
			results, err := s.opts.API.Search(ctx, e.UserA, e.UserB, e.Query, chatapi.SearchLimit)
			s.post(SearchCompleted{Gen: e.Gen, Query: e.Query, Results: results, Err: err})
		}()

	case RunUpload:
		if s.opts.API == nil {
			s.post(UploadCompleted{To: e.To, Err: errors.New("chat api not configured")})
			return
		}
		go func() {
			meta, err := s.opts.API.Upload(ctx, chatapi.UploadRequest{
				From:     e.From,
				To:       e.To,
				FileName: e.FileName,
				Content:  bytes.NewReader(e.Content),
			})
			s.post(UploadCompleted{To: e.To, File: meta, Err: err})
		}()

	case DisconnectTransport:
		s.stopTimers()
		s.opts.Transport.Disconnect()

	case NotifyLogout:
		s.logoutOnce.Do(func() {
			s.logger.Info().Msg("chat session logged out")
			if s.opts.OnLogout != nil {
				go s.opts.OnLogout()
			}
		})

	case Rejected:
		s.logger.Debug().Str("action", e.Action).Str("reason", e.Reason).Msg("action ignored")
	}
}

func historyResult(e FetchHistory, messages []models.Message, err error) Action {
	if e.More {
		return MoreHistoryLoaded{PartnerID: e.UserB, Messages: messages, Err: err}
	}
	return HistoryLoaded{PartnerID: e.UserB, Messages: messages, Err: err}
}

// pruneTimers forgets timers older than the newest one; they only ever post
// an expiry that the reducer ignores.
func (s *Session) pruneTimers(newest uint64) {
	for seq := range s.timers {
		if seq+8 < newest {
			delete(s.timers, seq)
		}
	}
}

func (s *Session) stopTimers() {
	for seq, timer := range s.timers {
		timer.Stop()
		delete(s.timers, seq)
	}
}

func (s *Session) shutdown() {
	s.stopTimers()
	for name, id := range s.listeners {
		s.opts.Transport.Off(name, id)
	}
	s.opts.Transport.Disconnect()

	s.subsMu.Lock()
	for ch := range s.subs {
		delete(s.subs, ch)
		observability.StateSubscribers().Dec()
	}
	s.subsMu.Unlock()
	s.logger.Info().Msg("chat session stopped")
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

func (s *Session) publish(state State) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- state
	}
}
