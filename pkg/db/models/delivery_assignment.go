package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/pkg/enums"
)

// DeliveryAssignment is an offer to carry one order, claimed by at most one agent.
// Failed rows are kept; a re-offer inserts a new row.
type DeliveryAssignment struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	FacilityID        uuid.UUID            `gorm:"column:facility_id;type:uuid;not null"`
	BuyerID           uuid.UUID            `gorm:"column:buyer_id;type:uuid;not null"`
	AgentID           *uuid.UUID           `gorm:"column:agent_id;type:uuid;index"`
	Status            enums.DeliveryStatus `gorm:"column:status;type:text;not null"`
	FailureReason     *string              `gorm:"column:failure_reason;type:text"`
	OfferedAt         time.Time            `gorm:"column:offered_at;not null"`
	AssignedAt        *time.Time           `gorm:"column:assigned_at"`
	PickedUpAt        *time.Time           `gorm:"column:picked_up_at"`
	InTransitAt       *time.Time           `gorm:"column:in_transit_at"`
	DeliveredAt       *time.Time           `gorm:"column:delivered_at"`
	FailedAt          *time.Time           `gorm:"column:failed_at"`
	LastLat           *float64             `gorm:"column:last_lat"`
	LastLng           *float64             `gorm:"column:last_lng"`
	LocationUpdatedAt *time.Time           `gorm:"column:location_updated_at"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (d *DeliveryAssignment) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
