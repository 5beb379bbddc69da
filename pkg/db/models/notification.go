package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/pkg/enums"
)

// Notification is an in-app message for one recipient (user or facility).
type Notification struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	RecipientID   uuid.UUID              `gorm:"column:recipient_id;type:uuid;not null"`
	RecipientRole enums.ActorRole        `gorm:"column:recipient_role;type:text;not null"`
	Type          enums.NotificationType `gorm:"column:type;type:text;not null"`
	Title         string                 `gorm:"column:title;type:text;not null"`
	Message       string                 `gorm:"column:message;type:text;not null"`
	Link          *string                `gorm:"column:link;type:text"`
	EventID       *uuid.UUID             `gorm:"column:event_id;type:uuid"`
	ReadAt        *time.Time             `gorm:"column:read_at"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	ensureID(&n.ID)
	return nil
}
