package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChatSnapshot stores one cached session slot for a local user.
type ChatSnapshot struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Namespace string         `gorm:"size:128;uniqueIndex:idx_chat_snapshot_slot" json:"namespace"`
	Slot      string         `gorm:"size:64;uniqueIndex:idx_chat_snapshot_slot" json:"slot"`
	Value     datatypes.JSON `gorm:"type:json" json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
