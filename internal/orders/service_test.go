package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/internal/inventory"
	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db"
	"github.com/angelmondragon/medrun-backend/pkg/db/dbtest"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/pagination"
	"github.com/angelmondragon/medrun-backend/pkg/types"
)

type fixture struct {
	svc      Service
	conn     *gorm.DB
	client   *db.Client
	facility uuid.UUID
	buyer    auth.Actor
	staff    auth.Actor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Client(t)
	conn := client.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	inv, err := inventory.NewService(inventory.NewRepository(conn), emitter, nil)
	require.NoError(t, err)
	svc, err := NewService(NewRepository(conn), client, inv, emitter, Config{Currency: "usd"})
	require.NoError(t, err)

	facility := uuid.New()
	return fixture{
		svc:      svc,
		conn:     conn,
		client:   client,
		facility: facility,
		buyer:    auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer},
		staff:    auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleFacility, FacilityID: &facility},
	}
}

func testAddress() types.DeliveryAddress {
	return types.DeliveryAddress{Line1: "12 Harbor Rd", City: "Accra", Country: "gh"}
}

func (f fixture) placeOrder(t *testing.T, item models.StockItem, qty int) *models.Order {
	t.Helper()
	order, err := f.svc.Create(context.Background(), CreateInput{
		Actor:      f.buyer,
		BuyerID:    f.buyer.UserID,
		FacilityID: f.facility,
		Items:      []ItemInput{{StockItemID: item.ID, Qty: qty}},
		Address:    testAddress(),
	})
	require.NoError(t, err)
	return order
}

func (f fixture) settle(t *testing.T, orderID uuid.UUID) *models.Order {
	t.Helper()
	var order *models.Order
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		order, err = f.svc.OnPaymentSettled(context.Background(), tx, orderID, "test")
		return err
	}))
	return order
}

func (f fixture) stock(t *testing.T, id uuid.UUID) models.StockItem {
	t.Helper()
	var item models.StockItem
	require.NoError(t, f.conn.First(&item, "id = ?", id).Error)
	return item
}

func TestCreateReservesStockAndCapturesPrices(t *testing.T) {
	f := newFixture(t)
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "3.25")

	order := f.placeOrder(t, item, 3)

	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.Equal(t, "USD", order.Currency)
	require.Len(t, order.Items, 1)
	require.Equal(t, "9.75", order.Items[0].Subtotal.StringFixed(2))
	require.True(t, order.Total.Equal(order.ItemsTotal()))
	require.Equal(t, 2, f.stock(t, item.ID).AvailableQty)

	var events []models.OutboxEvent
	require.NoError(t, f.conn.Find(&events, "aggregate_id = ?", order.ID).Error)
	require.Len(t, events, 1)
	require.Equal(t, enums.EventOrderCreated, events[0].EventType)

	reloaded, err := f.svc.Get(context.Background(), f.buyer, order.ID)
	require.NoError(t, err)
	require.True(t, reloaded.Total.Equal(reloaded.ItemsTotal()))
	require.Equal(t, "GH", reloaded.DeliveryAddress.Country)
}

func TestCreateRejectsCrossFacilityCart(t *testing.T) {
	f := newFixture(t)
	own := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")
	foreign := dbtest.SeedStockItem(t, f.conn, uuid.New(), 5, "1.00")

	_, err := f.svc.Create(context.Background(), CreateInput{
		Actor:      f.buyer,
		BuyerID:    f.buyer.UserID,
		FacilityID: f.facility,
		Items:      []ItemInput{{StockItemID: own.ID, Qty: 1}, {StockItemID: foreign.ID, Qty: 1}},
		Address:    testAddress(),
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeCrossFacilityCart))
	require.Equal(t, 5, f.stock(t, own.ID).AvailableQty)
}

func TestCreateInsufficientStockPersistsNothing(t *testing.T) {
	f := newFixture(t)
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 2, "1.00")

	_, err := f.svc.Create(context.Background(), CreateInput{
		Actor:      f.buyer,
		BuyerID:    f.buyer.UserID,
		FacilityID: f.facility,
		Items:      []ItemInput{{StockItemID: item.ID, Qty: 3}},
		Address:    testAddress(),
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientStock))

	var count int64
	require.NoError(t, f.conn.Model(&models.Order{}).Count(&count).Error)
	require.Zero(t, count)
	require.Equal(t, 2, f.stock(t, item.ID).AvailableQty)
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 2, "1.00")
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{Actor: f.buyer, BuyerID: f.buyer.UserID, FacilityID: f.facility, Address: testAddress()})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.svc.Create(ctx, CreateInput{
		Actor: f.buyer, BuyerID: f.buyer.UserID, FacilityID: f.facility,
		Items:   []ItemInput{{StockItemID: item.ID, Qty: 1}},
		Address: types.DeliveryAddress{City: "Accra", Country: "GH"},
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.svc.Create(ctx, CreateInput{
		Actor: f.staff, BuyerID: f.buyer.UserID, FacilityID: f.facility,
		Items:   []ItemInput{{StockItemID: item.ID, Qty: 1}},
		Address: testAddress(),
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
}

func TestCreateRequiresPrescriptionForControlledItems(t *testing.T) {
	f := newFixture(t)
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 2, "1.00")
	require.NoError(t, f.conn.Model(&item).Update("requires_prescription", true).Error)

	input := CreateInput{
		Actor: f.buyer, BuyerID: f.buyer.UserID, FacilityID: f.facility,
		Items:   []ItemInput{{StockItemID: item.ID, Qty: 1}},
		Address: testAddress(),
	}
	_, err := f.svc.Create(context.Background(), input)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	rx := uuid.New()
	input.PrescriptionID = &rx
	order, err := f.svc.Create(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, rx, *order.PrescriptionID)
}

func TestPaymentSettledConfirmsIdempotently(t *testing.T) {
	f := newFixture(t)
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")
	order := f.placeOrder(t, item, 2)

	confirmed := f.settle(t, order.ID)
	require.Equal(t, enums.OrderStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)

	again := f.settle(t, order.ID)
	require.Equal(t, enums.OrderStatusConfirmed, again.Status)

	stock := f.stock(t, item.ID)
	require.Equal(t, 3, stock.AvailableQty)
	require.Equal(t, 0, stock.ReservedQty)
}

func TestPaymentFailedReleasesStock(t *testing.T) {
	f := newFixture(t)
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")
	order := f.placeOrder(t, item, 3)

	var failed *models.Order
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		failed, err = f.svc.OnPaymentFailed(context.Background(), tx, order.ID, "declined")
		return err
	}))
	require.Equal(t, enums.OrderStatusFailed, failed.Status)
	require.Equal(t, 5, f.stock(t, item.ID).AvailableQty)

	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.svc.OnPaymentSettled(context.Background(), tx, order.ID, "late")
		return err
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))
}

func TestAdvanceFollowsLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")
	order := f.placeOrder(t, item, 1)
	f.settle(t, order.ID)

	for _, target := range []enums.OrderStatus{enums.OrderStatusReady, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered} {
		updated, err := f.svc.Advance(ctx, f.staff, order.ID, target)
		require.NoError(t, err)
		require.Equal(t, target, updated.Status)
	}
	final, err := f.svc.Get(ctx, f.buyer, order.ID)
	require.NoError(t, err)
	require.NotNil(t, final.ReadyAt)
	require.NotNil(t, final.DispatchedAt)
	require.NotNil(t, final.DeliveredAt)
}

type recordingSettler struct {
	orderIDs []uuid.UUID
}

func (r *recordingSettler) CompleteCashPayment(_ context.Context, _ *gorm.DB, orderID uuid.UUID) (*models.Payment, error) {
	r.orderIDs = append(r.orderIDs, orderID)
	return nil, nil
}

func TestDeliveredRunsCashSettler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settler := &recordingSettler{}
	f.svc.UseCashSettler(settler)
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")
	order := f.placeOrder(t, item, 1)
	f.settle(t, order.ID)

	for _, target := range []enums.OrderStatus{enums.OrderStatusReady, enums.OrderStatusOutForDelivery} {
		_, err := f.svc.Advance(ctx, f.staff, order.ID, target)
		require.NoError(t, err)
	}
	require.Empty(t, settler.orderIDs)

	_, err := f.svc.Advance(ctx, f.staff, order.ID, enums.OrderStatusDelivered)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{order.ID}, settler.orderIDs)
}

func TestStaffAdvanceBlockedByLiveDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")
	order := f.placeOrder(t, item, 1)
	f.settle(t, order.ID)
	_, err := f.svc.Advance(ctx, f.staff, order.ID, enums.OrderStatusReady)
	require.NoError(t, err)

	assignment := models.DeliveryAssignment{
		OrderID:    order.ID,
		FacilityID: f.facility,
		BuyerID:    f.buyer.UserID,
		Status:     enums.DeliveryStatusPending,
		OfferedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.conn.Create(&assignment).Error)

	for _, target := range []enums.OrderStatus{enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered} {
		_, err = f.svc.Advance(ctx, f.staff, order.ID, target)
		require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition), "target %s: %v", target, err)
	}
	current, err := f.svc.Get(ctx, f.buyer, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusReady, current.Status)

	dispatched, err := f.svc.Advance(ctx, auth.SystemActor(), order.ID, enums.OrderStatusOutForDelivery)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusOutForDelivery, dispatched.Status)

	require.NoError(t, f.conn.Model(&models.DeliveryAssignment{}).
		Where("id = ?", assignment.ID).
		UpdateColumn("status", string(enums.DeliveryStatusFailed)).Error)
	delivered, err := f.svc.Advance(ctx, f.staff, order.ID, enums.OrderStatusDelivered)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, delivered.Status)
}

func TestRejectedTransitionsLeaveOrderUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")
	order := f.placeOrder(t, item, 1)

	before, err := f.svc.Get(ctx, f.buyer, order.ID)
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, f.staff, order.ID, enums.OrderStatusReady)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))

	_, err = f.svc.Advance(ctx, f.staff, order.ID, enums.OrderStatusConfirmed)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))

	_, err = f.svc.Advance(ctx, f.buyer, order.ID, enums.OrderStatusReady)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	otherFacility := uuid.New()
	_, err = f.svc.Advance(ctx, auth.Actor{Role: enums.ActorRoleFacility, FacilityID: &otherFacility}, order.ID, enums.OrderStatusReady)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	after, err := f.svc.Get(ctx, f.buyer, order.ID)
	require.NoError(t, err)
	require.Equal(t, before.Status, after.Status)
	require.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestCancelOutForDeliveryIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")
	order := f.placeOrder(t, item, 1)
	f.settle(t, order.ID)
	_, err := f.svc.Advance(ctx, f.staff, order.ID, enums.OrderStatusReady)
	require.NoError(t, err)
	dispatched, err := f.svc.Advance(ctx, f.staff, order.ID, enums.OrderStatusOutForDelivery)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, f.buyer, order.ID, "changed my mind")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))

	after, err := f.svc.Get(ctx, f.buyer, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusOutForDelivery, after.Status)
	require.True(t, dispatched.UpdatedAt.Equal(after.UpdatedAt))
}

func TestCancelRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")

	pending := f.placeOrder(t, item, 2)
	cancelled, err := f.svc.Cancel(ctx, f.buyer, pending.ID, " no longer needed ")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.Equal(t, enums.ActorRoleBuyer, *cancelled.CancelledBy)
	require.Equal(t, "no longer needed", *cancelled.CancelReason)
	require.Equal(t, 5, f.stock(t, item.ID).AvailableQty)

	confirmed := f.placeOrder(t, item, 3)
	f.settle(t, confirmed.ID)
	require.Equal(t, 2, f.stock(t, item.ID).AvailableQty)
	_, err = f.svc.Cancel(ctx, f.staff, confirmed.ID, "")
	require.NoError(t, err)
	stock := f.stock(t, item.ID)
	require.Equal(t, 5, stock.AvailableQty)
	require.Equal(t, 0, stock.ReservedQty)

	_, err = f.svc.Cancel(ctx, f.buyer, confirmed.ID, "")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))
}

func TestCancelRequiresPartyToOrder(t *testing.T) {
	f := newFixture(t)
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")
	order := f.placeOrder(t, item, 1)

	stranger := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer}
	_, err := f.svc.Cancel(context.Background(), stranger, order.ID, "")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	agent := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAgent}
	_, err = f.svc.Cancel(context.Background(), agent, order.ID, "")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Cancel(context.Background(), auth.Actor{Role: enums.ActorRoleAdmin}, order.ID, "")
	require.NoError(t, err)
}

func TestListScopesAndPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 50, "1.00")
	for i := 0; i < 3; i++ {
		f.placeOrder(t, item, 1)
	}
	otherBuyer := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer}
	_, err := f.svc.Create(ctx, CreateInput{
		Actor: otherBuyer, BuyerID: otherBuyer.UserID, FacilityID: f.facility,
		Items: []ItemInput{{StockItemID: item.ID, Qty: 1}}, Address: testAddress(),
	})
	require.NoError(t, err)

	page, err := f.svc.List(ctx, f.buyer, nil, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	next, err := f.svc.List(ctx, f.buyer, nil, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	require.Empty(t, next.NextCursor)

	facilityPage, err := f.svc.List(ctx, f.staff, nil, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, facilityPage.Items, 4)

	confirmed := enums.OrderStatusConfirmed
	filtered, err := f.svc.List(ctx, f.staff, &confirmed, pagination.Params{})
	require.NoError(t, err)
	require.Empty(t, filtered.Items)

	_, err = f.svc.List(ctx, auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAgent}, nil, pagination.Params{})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
}

func TestListPendingBefore(t *testing.T) {
	f := newFixture(t)
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")
	order := f.placeOrder(t, item, 1)

	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.conn.Model(&models.Order{}).Where("id = ?", order.ID).UpdateColumn("created_at", stale).Error)

	rows, err := f.svc.ListPendingBefore(context.Background(), time.Now().UTC().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, order.ID, rows[0].ID)
}

func TestCanTransitionTable(t *testing.T) {
	require.True(t, CanTransition(enums.OrderStatusPending, enums.OrderStatusFailed))
	require.True(t, CanTransition(enums.OrderStatusConfirmed, enums.OrderStatusCancelled))
	require.False(t, CanTransition(enums.OrderStatusReady, enums.OrderStatusCancelled))
	require.False(t, CanTransition(enums.OrderStatusOutForDelivery, enums.OrderStatusCancelled))
	require.False(t, CanTransition(enums.OrderStatusDelivered, enums.OrderStatusPending))
	require.False(t, CanTransition(enums.OrderStatusConfirmed, enums.OrderStatusFailed))
}
