package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/pkg/db/dbtest"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
)

type stockPayload struct {
	StockItemID uuid.UUID `json:"stock_item_id"`
	Available   int       `json:"available"`
}

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	itemID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventStockLow,
			AggregateType: enums.AggregateStockItem,
			AggregateID:   itemID,
			Actor:         &ActorRef{UserID: uuid.New(), Role: enums.ActorRoleBuyer},
			Data:          stockPayload{StockItemID: itemID, Available: 2},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, itemID, rows[0].AggregateID)

	env, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	require.Equal(t, 1, env.Version)
	require.Equal(t, rows[0].ID.String(), env.EventID)
	require.Contains(t, string(env.Data), `"available":2`)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]string{"k": "v"},
		}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestEmitRejectsUnknownTypeAndMissingTx(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderCreated}))

	conn := dbtest.Open(t)
	err := svc.Emit(context.Background(), conn, DomainEvent{EventType: "made_up"})
	require.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	now := time.Now().UTC()

	published := models.OutboxEvent{EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`)}
	pending := models.OutboxEvent{EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`)}
	deferred := models.OutboxEvent{EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`)}
	require.NoError(t, repo.Insert(conn, published))
	require.NoError(t, repo.Insert(conn, pending))
	require.NoError(t, repo.Insert(conn, deferred))

	all := make([]models.OutboxEvent, 3)
	for i, aggregateID := range []uuid.UUID{published.AggregateID, pending.AggregateID, deferred.AggregateID} {
		require.NoError(t, conn.Where("aggregate_id = ?", aggregateID).First(&all[i]).Error)
	}

	require.NoError(t, repo.MarkPublishedTx(conn, all[0].ID))
	require.NoError(t, repo.MarkFailedTx(conn, all[2].ID, errors.New("unavailable"), now.Add(time.Hour)))

	due, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, all[1].ID, due[0].ID)

	require.NoError(t, repo.MarkTerminalTx(conn, all[1].ID, errors.New("bad payload")))
	due, err = repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Empty(t, due)

	deleted, err := repo.DeletePublishedBefore(context.Background(), now.Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestDLQRepositoryTruncatesMessage(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewDLQRepository(conn)
	eventID := uuid.New()
	msg := strings.Repeat("x", maxDLQErrorLen+10)

	require.NoError(t, repo.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventDeliveryFailed,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
		ErrorReason:   enums.DeadLetterRejected,
		ErrorMessage:  &msg,
	}))

	row, err := repo.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Len(t, *row.ErrorMessage, maxDLQErrorLen)

	missing, err := repo.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestDLQRepositoryRequeueRestoresEvent(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	dlq := NewDLQRepository(conn)
	ctx := context.Background()

	event := models.OutboxEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"version":1,"data":{}}`),
	}
	require.NoError(t, repo.Insert(conn, event))
	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored).Error)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       stored.ID,
			EventType:     stored.EventType,
			AggregateType: stored.AggregateType,
			AggregateID:   stored.AggregateID,
			Payload:       stored.Payload,
			ErrorReason:   enums.DeadLetterExhausted,
		}); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, stored.ID, errors.New("topic gone"))
	}))

	require.NoError(t, dlq.Requeue(ctx, stored.ID))

	var after models.OutboxEvent
	require.NoError(t, conn.First(&after, "id = ?", stored.ID).Error)
	require.Nil(t, after.TerminalAt)
	require.Zero(t, after.AttemptCount)

	row, err := dlq.FindByEventID(ctx, stored.ID)
	require.NoError(t, err)
	require.Nil(t, row)

	require.ErrorIs(t, dlq.Requeue(ctx, stored.ID), ErrNotDeadLettered)
}

func TestTruncateUTF8KeepsRunesWhole(t *testing.T) {
	require.Equal(t, "ab", truncateUTF8("abé", 3))
	require.Equal(t, "abc", truncateUTF8("abc", 3))
}
