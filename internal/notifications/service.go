package notifications

import (
	"context"
	"time"

	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/pagination"
	"github.com/google/uuid"
)

// Recipient identifies an inbox. Facilities share one inbox keyed by facility id.
type Recipient struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

// RecipientFor resolves the inbox an authenticated actor reads from.
func RecipientFor(actor auth.Actor) (Recipient, error) {
	switch actor.Role {
	case enums.ActorRoleFacility:
		if actor.FacilityID == nil || *actor.FacilityID == uuid.Nil {
			return Recipient{}, pkgerrors.New(pkgerrors.CodeForbidden, "facility context required")
		}
		return Recipient{ID: *actor.FacilityID, Role: enums.ActorRoleFacility}, nil
	case enums.ActorRoleBuyer, enums.ActorRoleAgent, enums.ActorRoleAdmin:
		if actor.UserID == uuid.Nil {
			return Recipient{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user id required")
		}
		return Recipient{ID: actor.UserID, Role: actor.Role}, nil
	default:
		return Recipient{}, pkgerrors.New(pkgerrors.CodeForbidden, "role has no inbox")
	}
}

type Service interface {
	List(ctx context.Context, actor auth.Actor, params ListParams) (pagination.Page[models.Notification], error)
	MarkRead(ctx context.Context, actor auth.Actor, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, actor auth.Actor) (int64, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

type ListParams struct {
	pagination.Params
	UnreadOnly bool
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) List(ctx context.Context, actor auth.Actor, params ListParams) (pagination.Page[models.Notification], error) {
	var page pagination.Page[models.Notification]
	inbox, err := RecipientFor(actor)
	if err != nil {
		return page, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, inboxQuery{
		Inbox:      inbox,
		Limit:      params.Limit,
		Cursor:     cursor,
		UnreadOnly: params.UnreadOnly,
	})
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	return pagination.BuildPage(rows, params.Limit, notificationCursor), nil
}

func notificationCursor(n models.Notification) pagination.Cursor {
	return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
}

// MarkRead is idempotent; a row outside the caller's inbox is not found.
func (s *service) MarkRead(ctx context.Context, actor auth.Actor, notificationID uuid.UUID) error {
	inbox, err := RecipientFor(actor)
	if err != nil {
		return err
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}
	found, err := s.repo.MarkRead(ctx, inbox, notificationID, s.now().UTC())
	switch {
	case err != nil:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	case !found:
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, actor auth.Actor) (int64, error) {
	inbox, err := RecipientFor(actor)
	if err != nil {
		return 0, err
	}
	count, err := s.repo.MarkAllRead(ctx, inbox, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}
