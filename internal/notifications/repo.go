package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/pagination"
)

type Repository interface {
	CreateMany(ctx context.Context, rows []models.Notification) (int64, error)
	List(ctx context.Context, query inboxQuery) ([]models.Notification, error)
	MarkRead(ctx context.Context, inbox Recipient, id uuid.UUID, at time.Time) (found bool, err error)
	MarkAllRead(ctx context.Context, inbox Recipient, at time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type inboxQuery struct {
	Inbox      Recipient
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// inbox scopes a query to one recipient's rows.
func (r *repository) inbox(ctx context.Context, inbox Recipient) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND recipient_role = ?", inbox.ID, inbox.Role)
}

// CreateMany skips rows whose (event_id, recipient_id, recipient_role) already exists.
func (r *repository) CreateMany(ctx context.Context, rows []models.Notification) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	return res.RowsAffected, res.Error
}

func (r *repository) List(ctx context.Context, q inboxQuery) ([]models.Notification, error) {
	tx := r.inbox(ctx, q.Inbox)
	if q.UnreadOnly {
		tx = tx.Where("read_at IS NULL")
	}
	var rows []models.Notification
	err := tx.Scopes(pagination.Keyset(q.Cursor, q.Limit, pagination.NewestFirst)).Find(&rows).Error
	return rows, err
}

// MarkRead stamps read_at once. found is true when the row exists in the
// inbox, read before or not.
func (r *repository) MarkRead(ctx context.Context, inbox Recipient, id uuid.UUID, at time.Time) (bool, error) {
	res := r.inbox(ctx, inbox).Where("id = ? AND read_at IS NULL", id).UpdateColumn("read_at", at)
	if res.Error != nil || res.RowsAffected > 0 {
		return res.RowsAffected > 0, res.Error
	}
	var count int64
	err := r.inbox(ctx, inbox).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *repository) MarkAllRead(ctx context.Context, inbox Recipient, at time.Time) (int64, error) {
	res := r.inbox(ctx, inbox).Where("read_at IS NULL").UpdateColumn("read_at", at)
	return res.RowsAffected, res.Error
}

// DeleteOlderThan purges rows created before cutoff, read or not.
func (r *repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
