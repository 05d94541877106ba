package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-client/internal/dto"
	"github.com/noah-isme/gema-chat-client/internal/session"
)

// StateSource publishes session state changes.
type StateSource interface {
	Subscribe() (<-chan session.State, func())
}

// StateNotifier fans a summary of every session state change out to Redis
// pub/sub and NATS so other local processes can follow the client.
type StateNotifier struct {
	redis   *redis.Client
	channel string
	nats    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewStateNotifier builds a notifier. Either transport may be nil; channelBase
// is used as `<base>:chat:state` for Redis and `<base>.chat.state` for NATS.
func NewStateNotifier(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *StateNotifier {
	channel, subject := "", ""
	if channelBase != "" {
		channel = channelBase + ":chat:state"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".chat.state"
	}
	return &StateNotifier{
		redis:   redisClient,
		channel: channel,
		nats:    natsConn,
		subject: subject,
		logger:  logger.With().Str("component", "state_notifier").Logger(),
	}
}

// Enabled reports whether at least one transport is configured.
func (n *StateNotifier) Enabled() bool {
	return (n.redis != nil && n.channel != "") || (n.nats != nil && n.subject != "")
}

// Run forwards notices until ctx is cancelled.
func (n *StateNotifier) Run(ctx context.Context, source StateSource) {
	if !n.Enabled() {
		return
	}
	updates, stop := source.Subscribe()
	defer stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			if state.Version == last && last != 0 {
				continue
			}
			last = state.Version
			if err := n.Publish(ctx, state); err != nil {
				n.logger.Warn().Err(err).Uint64("version", state.Version).Msg("failed to publish state notice")
			}
		}
	}
}

// Publish sends one notice for state.
func (n *StateNotifier) Publish(ctx context.Context, state session.State) error {
	notice := dto.StateNotice{
		UserID:       state.Self.UserID,
		Version:      state.Version,
		Connected:    state.Connected,
		MessageCount: len(state.Messages),
		Error:        state.Error,
	}
	if state.ActivePartner != nil {
		notice.Partner = state.ActivePartner.ID
	}

	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}

	if n.redis != nil && n.channel != "" {
		if err := n.redis.Publish(ctx, n.channel, payload).Err(); err != nil {
			return err
		}
	}
	if n.nats != nil && n.subject != "" {
		if err := n.nats.Publish(n.subject, payload); err != nil {
			return err
		}
	}
	return nil
}
