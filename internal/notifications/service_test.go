package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db/dbtest"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/pagination"
)

func seedNotification(t *testing.T, repo Repository, recipient Recipient, title string) models.Notification {
	t.Helper()
	row := models.Notification{
		RecipientID:   recipient.ID,
		RecipientRole: recipient.Role,
		Type:          enums.NotificationTypeOrderUpdate,
		Title:         title,
		Message:       title,
	}
	rows := []models.Notification{row}
	_, err := repo.CreateMany(context.Background(), rows)
	require.NoError(t, err)
	return rows[0]
}

func newInbox(t *testing.T) (*gorm.DB, Repository, Service) {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc, err := NewService(repo)
	require.NoError(t, err)
	return conn, repo, svc
}

func TestRecipientFor(t *testing.T) {
	facilityID := uuid.New()
	userID := uuid.New()

	got, err := RecipientFor(auth.Actor{UserID: userID, Role: enums.ActorRoleFacility, FacilityID: &facilityID})
	require.NoError(t, err)
	require.Equal(t, Recipient{ID: facilityID, Role: enums.ActorRoleFacility}, got)

	got, err = RecipientFor(auth.Actor{UserID: userID, Role: enums.ActorRoleAgent})
	require.NoError(t, err)
	require.Equal(t, Recipient{ID: userID, Role: enums.ActorRoleAgent}, got)

	_, err = RecipientFor(auth.Actor{UserID: userID, Role: enums.ActorRoleFacility})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	_, err = RecipientFor(auth.SystemActor())
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
}

func TestServiceListScopesToRecipientAndPages(t *testing.T) {
	_, repo, svc := newInbox(t)
	ctx := context.Background()

	facilityID := uuid.New()
	staff := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleFacility, FacilityID: &facilityID}
	inbox := Recipient{ID: facilityID, Role: enums.ActorRoleFacility}

	for i := 0; i < 3; i++ {
		seedNotification(t, repo, inbox, "facility note")
	}
	// Same id under another role is a different inbox.
	seedNotification(t, repo, Recipient{ID: facilityID, Role: enums.ActorRoleBuyer}, "buyer note")

	first, err := svc.List(ctx, staff, ListParams{Params: pagination.Params{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.List(ctx, staff, ListParams{Params: pagination.Params{Limit: 2, Cursor: first.NextCursor}})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	require.Empty(t, second.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, n := range append(first.Items, second.Items...) {
		require.Equal(t, enums.ActorRoleFacility, n.RecipientRole)
		require.False(t, seen[n.ID], "notification returned twice")
		seen[n.ID] = true
	}

	_, err = svc.List(ctx, staff, ListParams{Params: pagination.Params{Cursor: "not-a-cursor"}})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestServiceMarkRead(t *testing.T) {
	_, repo, svc := newInbox(t)
	ctx := context.Background()

	buyer := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer}
	other := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer}
	row := seedNotification(t, repo, Recipient{ID: buyer.UserID, Role: enums.ActorRoleBuyer}, "hello")

	err := svc.MarkRead(ctx, other, row.ID)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	require.NoError(t, svc.MarkRead(ctx, buyer, row.ID))
	require.NoError(t, svc.MarkRead(ctx, buyer, row.ID), "marking twice stays successful")

	unread, err := svc.List(ctx, buyer, ListParams{UnreadOnly: true})
	require.NoError(t, err)
	require.Empty(t, unread.Items)

	err = svc.MarkRead(ctx, buyer, uuid.Nil)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestServiceMarkAllRead(t *testing.T) {
	_, repo, svc := newInbox(t)
	ctx := context.Background()

	agent := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAgent}
	inbox := Recipient{ID: agent.UserID, Role: enums.ActorRoleAgent}
	seedNotification(t, repo, inbox, "one")
	seedNotification(t, repo, inbox, "two")
	seedNotification(t, repo, Recipient{ID: uuid.New(), Role: enums.ActorRoleAgent}, "someone else")

	count, err := svc.MarkAllRead(ctx, agent)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	count, err = svc.MarkAllRead(ctx, agent)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRepositoryCreateManySkipsDuplicateEventRecipients(t *testing.T) {
	conn, repo, _ := newInbox(t)
	ctx := context.Background()

	eventID := uuid.New()
	recipient := uuid.New()
	build := func() []models.Notification {
		id := eventID
		return []models.Notification{{
			RecipientID:   recipient,
			RecipientRole: enums.ActorRoleBuyer,
			Type:          enums.NotificationTypePaymentUpdate,
			Title:         "Payment received",
			Message:       "paid",
			EventID:       &id,
		}}
	}

	created, err := repo.CreateMany(ctx, build())
	require.NoError(t, err)
	require.Equal(t, int64(1), created)

	created, err = repo.CreateMany(ctx, build())
	require.NoError(t, err)
	require.Zero(t, created)

	var count int64
	require.NoError(t, conn.Model(&models.Notification{}).Where("event_id = ?", eventID).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRepositoryDeleteOlderThan(t *testing.T) {
	conn, repo, _ := newInbox(t)
	ctx := context.Background()

	recipient := Recipient{ID: uuid.New(), Role: enums.ActorRoleBuyer}
	old := seedNotification(t, repo, recipient, "old")
	seedNotification(t, repo, recipient, "fresh")
	require.NoError(t, conn.Model(&models.Notification{}).
		Where("id = ?", old.ID).
		UpdateColumn("created_at", time.Now().UTC().Add(-60*24*time.Hour)).Error)

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, conn.Model(&models.Notification{}).Count(&remaining).Error)
	require.Equal(t, int64(1), remaining)
}
