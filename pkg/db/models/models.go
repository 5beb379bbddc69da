package models

import (
	"fmt"

	"gorm.io/gorm"
)

// All lists every persisted model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&StockItem{},
		&Order{},
		&OrderItem{},
		&StockReservation{},
		&Payment{},
		&DeliveryAssignment{},
		&Notification{},
		&Cart{},
		&CartItem{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}

// PartialIndexes back the single-active payment and assignment rules plus per-event dedup.
// They mirror the goose migrations so AutoMigrate schemas enforce the same constraints.
var PartialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS payments_active_order_uq ON payments(order_id) WHERE status <> 'failed'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS delivery_assignments_active_order_uq ON delivery_assignments(order_id) WHERE status <> 'failed'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS stock_reservations_order_item_uq ON stock_reservations(order_id, stock_item_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS notifications_event_recipient_uq ON notifications(event_id, recipient_id, recipient_role) WHERE event_id IS NOT NULL`,
}

// AutoMigrate builds the schema from the models. Used for SQLite dev databases and tests.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(All()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	for _, stmt := range PartialIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
