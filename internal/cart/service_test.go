package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/internal/inventory"
	"github.com/angelmondragon/medrun-backend/internal/orders"
	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db/dbtest"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/types"
)

type fixture struct {
	conn     *gorm.DB
	svc      Service
	facility uuid.UUID
	buyer    auth.Actor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Client(t)
	conn := client.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	inv, err := inventory.NewService(inventory.NewRepository(conn), emitter, nil)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.NewRepository(conn), client, inv, emitter, orders.Config{})
	require.NoError(t, err)
	svc, err := NewService(NewRepository(conn), client, inv, orderSvc, nil)
	require.NoError(t, err)
	return fixture{
		conn:     conn,
		svc:      svc,
		facility: uuid.New(),
		buyer:    auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer},
	}
}

func address() types.DeliveryAddress {
	return types.DeliveryAddress{Line1: "4 Market St", City: "Kumasi", Country: "GH"}
}

func TestGetWithoutCartIsEmpty(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Get(context.Background(), f.buyer)
	require.NoError(t, err)
	require.Nil(t, view.CartID)
	require.Empty(t, view.Lines)
	require.True(t, view.Subtotal.IsZero())
}

func TestPutItemAnnotatesLinesAndUpdatesQty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 10, "2.50")

	view, err := f.svc.PutItem(ctx, f.buyer, item.ID, 2)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	require.Equal(t, f.facility, *view.FacilityID)
	require.Equal(t, "5.00", view.Subtotal.StringFixed(2))
	require.Equal(t, 10, view.Lines[0].AvailableQty)
	require.True(t, view.Lines[0].Available)

	view, err = f.svc.PutItem(ctx, f.buyer, item.ID, 4)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1, "same item updates the existing line")
	require.Equal(t, 4, view.Lines[0].Qty)
	require.Equal(t, "10.00", view.Subtotal.StringFixed(2))

	var stock models.StockItem
	require.NoError(t, f.conn.First(&stock, "id = ?", item.ID).Error)
	require.Equal(t, 10, stock.AvailableQty, "cart does not reserve stock")
}

func TestPutItemValidations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 3, "1.00")

	_, err := f.svc.PutItem(ctx, f.buyer, item.ID, 0)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.svc.PutItem(ctx, f.buyer, item.ID, 4)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientStock))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	require.Equal(t, 3, details["available_qty"])

	_, err = f.svc.PutItem(ctx, f.buyer, uuid.New(), 1)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	facilityID := f.facility
	staff := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleFacility, FacilityID: &facilityID}
	_, err = f.svc.PutItem(ctx, staff, item.ID, 1)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
}

func TestPutItemRejectsSecondFacility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	own := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")
	other := dbtest.SeedStockItem(t, f.conn, uuid.New(), 5, "1.00")

	_, err := f.svc.PutItem(ctx, f.buyer, own.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.PutItem(ctx, f.buyer, other.ID, 1)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeCrossFacilityCart))

	// Emptying the cart releases the facility pin.
	view, err := f.svc.RemoveItem(ctx, f.buyer, own.ID)
	require.NoError(t, err)
	require.Empty(t, view.Lines)
	require.Nil(t, view.FacilityID)

	view, err = f.svc.PutItem(ctx, f.buyer, other.ID, 1)
	require.NoError(t, err)
	require.Equal(t, other.FacilityID, *view.FacilityID)
}

func TestRemoveMissingItem(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RemoveItem(context.Background(), f.buyer, uuid.New())
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.00")
	b := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "2.00")
	_, err := f.svc.PutItem(ctx, f.buyer, a.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.PutItem(ctx, f.buyer, b.ID, 1)
	require.NoError(t, err)

	require.NoError(t, f.svc.Clear(ctx, f.buyer))

	view, err := f.svc.Get(ctx, f.buyer)
	require.NoError(t, err)
	require.Empty(t, view.Lines)
	require.Nil(t, view.FacilityID)
}

func TestCheckoutCreatesOrderAndEmptiesCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "1.50")
	b := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "4.00")
	_, err := f.svc.PutItem(ctx, f.buyer, a.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.PutItem(ctx, f.buyer, b.ID, 1)
	require.NoError(t, err)

	order, err := f.svc.Checkout(ctx, f.buyer, CheckoutInput{Address: address()})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.Equal(t, f.facility, order.FacilityID)
	require.Equal(t, "7.00", order.Total.StringFixed(2))

	view, err := f.svc.Get(ctx, f.buyer)
	require.NoError(t, err)
	require.Empty(t, view.Lines)

	var stock models.StockItem
	require.NoError(t, f.conn.First(&stock, "id = ?", a.ID).Error)
	require.Equal(t, 3, stock.AvailableQty)
}

func TestCheckoutKeepsCartWhenStockRanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 3, "1.00")
	_, err := f.svc.PutItem(ctx, f.buyer, item.ID, 3)
	require.NoError(t, err)

	require.NoError(t, f.conn.Model(&models.StockItem{}).Where("id = ?", item.ID).Update("available_qty", 1).Error)

	view, err := f.svc.Get(ctx, f.buyer)
	require.NoError(t, err)
	require.False(t, view.Lines[0].Available)

	_, err = f.svc.Checkout(ctx, f.buyer, CheckoutInput{Address: address()})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientStock))

	view, err = f.svc.Get(ctx, f.buyer)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Checkout(context.Background(), f.buyer, CheckoutInput{Address: address()})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}
