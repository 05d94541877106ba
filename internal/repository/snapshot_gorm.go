package repository

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-chat-client/internal/models"
)

type gormStore struct {
	db        *gorm.DB
	namespace string
}

// NewGormSnapshotRepository stores snapshots as rows of models.ChatSnapshot.
// The table must be migrated by the caller.
func NewGormSnapshotRepository(db *gorm.DB, namespace string) SnapshotRepository {
	return newSnapshotRepository(&gormStore{db: db, namespace: namespace}, "")
}

func (s *gormStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	var row models.ChatSnapshot
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND slot = ?", s.namespace, key).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(row.Value), true, nil
}

func (s *gormStore) set(ctx context.Context, key string, value []byte) error {
	row := models.ChatSnapshot{
		Namespace: s.namespace,
		Slot:      key,
		Value:     datatypes.JSON(value),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "slot"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (s *gormStore) del(ctx context.Context, keys ...string) error {
	return s.db.WithContext(ctx).
		Where("namespace = ? AND slot IN ?", s.namespace, keys).
		Delete(&models.ChatSnapshot{}).Error
}
