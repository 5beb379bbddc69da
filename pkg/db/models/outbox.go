package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/pkg/enums"
)

// OutboxEvent is a domain event written in the same transaction as the state
// change it announces. The publisher owns every column after insert.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"type:text;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"type:text;not null"`
	AggregateID   uuid.UUID                 `gorm:"type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"type:jsonb;not null"`
	AttemptCount  int                       `gorm:"not null;default:0"`
	LastError     *string
	NextAttemptAt *time.Time
	PublishedAt   *time.Time
	TerminalAt    *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// DeadLetter builds the DLQ row for e, counting the attempt that just failed.
func (e OutboxEvent) DeadLetter(reason enums.DeadLetterReason, cause error, at time.Time) OutboxDLQ {
	entry := OutboxDLQ{
		EventID:       e.ID,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Payload:       e.Payload,
		ErrorReason:   reason,
		AttemptCount:  e.AttemptCount + 1,
		FailedAt:      at,
	}
	if cause != nil {
		msg := cause.Error()
		entry.ErrorMessage = &msg
	}
	return entry
}

type OutboxDLQ struct {
	ID            uuid.UUID                 `gorm:"type:uuid;primaryKey"`
	EventID       uuid.UUID                 `gorm:"type:uuid;not null"`
	EventType     enums.OutboxEventType     `gorm:"type:text;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"type:text;not null"`
	AggregateID   uuid.UUID                 `gorm:"type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload_json;type:jsonb;not null"`
	ErrorReason   enums.DeadLetterReason    `gorm:"type:text;not null"`
	ErrorMessage  *string
	AttemptCount  int       `gorm:"not null;default:0"`
	FailedAt      time.Time `gorm:"autoCreateTime"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }

func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
