package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-client/internal/models"
)

// Slot keys for the two cached snapshots.
const (
	SlotActiveUser   = "activeUser"
	SlotChatMessages = "chatMessages"
)

// ErrCorruptSnapshot indicates a stored slot could not be decoded.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// SnapshotRepository mirrors the active partner and message list of one local user.
type SnapshotRepository interface {
	LoadPartner(ctx context.Context) (*models.User, error)
	SavePartner(ctx context.Context, partner *models.User) error
	LoadMessages(ctx context.Context) ([]models.Message, error)
	SaveMessages(ctx context.Context, messages []models.Message) error
	Clear(ctx context.Context) error
}

// Snapshot is the rehydrated cache content.
type Snapshot struct {
	Partner  *models.User
	Messages []models.Message
}

// slotStore is the raw key/value contract each backend satisfies.
type slotStore interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte) error
	del(ctx context.Context, keys ...string) error
}

type snapshotRepository struct {
	store     slotStore
	namespace string
}

func newSnapshotRepository(store slotStore, namespace string) SnapshotRepository {
	return &snapshotRepository{store: store, namespace: strings.TrimSpace(namespace)}
}

func (r *snapshotRepository) key(slot string) string {
	if r.namespace == "" {
		return slot
	}
	return r.namespace + ":" + slot
}

func (r *snapshotRepository) LoadPartner(ctx context.Context) (*models.User, error) {
	raw, ok, err := r.store.get(ctx, r.key(SlotActiveUser))
	if err != nil || !ok {
		return nil, err
	}
	if isNullJSON(raw) {
		return nil, nil
	}
	var partner models.User
	if err := json.Unmarshal(raw, &partner); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, SlotActiveUser, err)
	}
	return &partner, nil
}

func (r *snapshotRepository) SavePartner(ctx context.Context, partner *models.User) error {
	if partner == nil {
		return r.store.del(ctx, r.key(SlotActiveUser))
	}
	payload, err := json.Marshal(partner)
	if err != nil {
		return err
	}
	return r.store.set(ctx, r.key(SlotActiveUser), payload)
}

func (r *snapshotRepository) LoadMessages(ctx context.Context) ([]models.Message, error) {
	raw, ok, err := r.store.get(ctx, r.key(SlotChatMessages))
	if err != nil || !ok {
		return nil, err
	}
	if isNullJSON(raw) {
		return nil, nil
	}
	var messages []models.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, SlotChatMessages, err)
	}
	return messages, nil
}

func (r *snapshotRepository) SaveMessages(ctx context.Context, messages []models.Message) error {
	if messages == nil {
		messages = []models.Message{}
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	return r.store.set(ctx, r.key(SlotChatMessages), payload)
}

func (r *snapshotRepository) Clear(ctx context.Context) error {
	return r.store.del(ctx, r.key(SlotActiveUser), r.key(SlotChatMessages))
}

// Rehydrate reads both slots once. A corrupt slot clears both and yields an
// empty snapshot; read failures are logged and treated as absent.
func Rehydrate(ctx context.Context, repo SnapshotRepository, logger zerolog.Logger) Snapshot {
	if repo == nil {
		return Snapshot{}
	}

	partner, partnerErr := repo.LoadPartner(ctx)
	messages, messagesErr := repo.LoadMessages(ctx)

	if errors.Is(partnerErr, ErrCorruptSnapshot) || errors.Is(messagesErr, ErrCorruptSnapshot) {
		logger.Warn().
			AnErr("partner_error", partnerErr).
			AnErr("messages_error", messagesErr).
			Msg("discarding corrupt chat snapshot")
		if err := repo.Clear(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to clear corrupt chat snapshot")
		}
		return Snapshot{}
	}

	var snapshot Snapshot
	if partnerErr != nil {
		logger.Warn().Err(partnerErr).Msg("failed to load cached partner")
	} else {
		snapshot.Partner = partner
	}
	if messagesErr != nil {
		logger.Warn().Err(messagesErr).Msg("failed to load cached messages")
	} else {
		snapshot.Messages = messages
	}
	return snapshot
}

func isNullJSON(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
