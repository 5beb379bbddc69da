package deliveries

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	"github.com/angelmondragon/medrun-backend/pkg/pagination"
)

// Repository defines persistence operations for delivery assignments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, assignment *models.DeliveryAssignment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.DeliveryAssignment, error)
	FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.DeliveryAssignment, error)
	Accept(ctx context.Context, id, agentID uuid.UUID, at time.Time) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.DeliveryStatus, updates map[string]any) (bool, error)
	UpdateLocation(ctx context.Context, id, agentID uuid.UUID, lat, lng float64, at time.Time) (bool, error)
	ListAvailable(ctx context.Context, params pagination.Params) ([]models.DeliveryAssignment, error)
	ListByAgent(ctx context.Context, agentID uuid.UUID, params pagination.Params) ([]models.DeliveryAssignment, error)
	FindExpiredOffers(ctx context.Context, cutoff time.Time, limit int) ([]models.DeliveryAssignment, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, assignment *models.DeliveryAssignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.DeliveryAssignment, error) {
	var assignment models.DeliveryAssignment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&assignment).Error; err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *repository) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.DeliveryAssignment, error) {
	var assignment models.DeliveryAssignment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status <> ?", orderID, enums.DeliveryStatusFailed).
		Order("created_at DESC").
		First(&assignment).Error
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// Accept claims an open offer for agentID. Only one caller can see RowsAffected == 1.
func (r *repository) Accept(ctx context.Context, id, agentID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryAssignment{}).
		Where("id = ? AND agent_id IS NULL AND status = ?", id, enums.DeliveryStatusPending).
		Updates(map[string]any{
			"agent_id":    agentID,
			"status":      enums.DeliveryStatusAssigned,
			"assigned_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.DeliveryStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryAssignment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateLocation records the agent's last position on a live assignment.
func (r *repository) UpdateLocation(ctx context.Context, id, agentID uuid.UUID, lat, lng float64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryAssignment{}).
		Where("id = ? AND agent_id = ? AND status IN ?", id, agentID, []enums.DeliveryStatus{
			enums.DeliveryStatusAssigned,
			enums.DeliveryStatusPickedUp,
			enums.DeliveryStatusInTransit,
		}).
		Updates(map[string]any{
			"last_lat":            lat,
			"last_lng":            lng,
			"location_updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListAvailable pages open offers oldest first.
func (r *repository) ListAvailable(ctx context.Context, params pagination.Params) ([]models.DeliveryAssignment, error) {
	query := r.db.WithContext(ctx).
		Model(&models.DeliveryAssignment{}).
		Where("status = ? AND agent_id IS NULL", enums.DeliveryStatusPending)

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	var rows []models.DeliveryAssignment
	err = query.
		Scopes(pagination.Keyset(cursor, params.Limit, pagination.OldestFirst)).
		Find(&rows).Error
	return rows, err
}

// ListByAgent pages an agent's assignments newest first.
func (r *repository) ListByAgent(ctx context.Context, agentID uuid.UUID, params pagination.Params) ([]models.DeliveryAssignment, error) {
	query := r.db.WithContext(ctx).
		Model(&models.DeliveryAssignment{}).
		Where("agent_id = ?", agentID)

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	var rows []models.DeliveryAssignment
	err = query.
		Scopes(pagination.Keyset(cursor, params.Limit, pagination.NewestFirst)).
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindExpiredOffers(ctx context.Context, cutoff time.Time, limit int) ([]models.DeliveryAssignment, error) {
	var rows []models.DeliveryAssignment
	err := r.db.WithContext(ctx).
		Where("status = ? AND agent_id IS NULL AND offered_at < ?", enums.DeliveryStatusPending, cutoff).
		Order("offered_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
