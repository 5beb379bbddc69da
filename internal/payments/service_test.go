package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/internal/inventory"
	"github.com/angelmondragon/medrun-backend/internal/orders"
	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db"
	"github.com/angelmondragon/medrun-backend/pkg/db/dbtest"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/types"
)

type stubGateway struct {
	chargeFn func(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	verifyFn func(ctx context.Context, ref string) (ChargeResult, error)
	refunds  []RefundRequest
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	return g.chargeFn(ctx, req)
}

func (g *stubGateway) Verify(ctx context.Context, ref string) (ChargeResult, error) {
	return g.verifyFn(ctx, ref)
}

func (g *stubGateway) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	g.refunds = append(g.refunds, req)
	return RefundResult{RefundRef: "rf_1", Status: "COMPLETED"}, nil
}

type fixture struct {
	client   *db.Client
	conn     *gorm.DB
	orders   orders.Service
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
	orderSvc, err := orders.NewService(orders.NewRepository(conn), client, inv, emitter, orders.Config{})
	require.NoError(t, err)
	facility := uuid.New()
	return fixture{
		client:   client,
		conn:     conn,
		orders:   orderSvc,
		facility: facility,
		buyer:    auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer},
		staff:    auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleFacility, FacilityID: &facility},
	}
}

func (f fixture) service(t *testing.T, gateway Gateway, timeout time.Duration) Service {
	t.Helper()
	emitter := outbox.NewService(outbox.NewRepository(f.conn), nil)
	svc, err := NewService(NewRepository(f.conn), f.client, f.orders, gateway, emitter, Config{GatewayTimeout: timeout})
	require.NoError(t, err)
	return svc
}

// pendingOrder reserves qty of a fresh item stocked at 5 and returns the order and item.
func (f fixture) pendingOrder(t *testing.T, qty int) (*models.Order, models.StockItem) {
	t.Helper()
	item := dbtest.SeedStockItem(t, f.conn, f.facility, 5, "4.00")
	order, err := f.orders.Create(context.Background(), orders.CreateInput{
		Actor:      f.buyer,
		BuyerID:    f.buyer.UserID,
		FacilityID: f.facility,
		Items:      []orders.ItemInput{{StockItemID: item.ID, Qty: qty}},
		Address:    types.DeliveryAddress{Line1: "4 Market St", City: "Kumasi", Country: "GH"},
	})
	require.NoError(t, err)
	return order, item
}

func (f fixture) orderStatus(t *testing.T, id uuid.UUID) enums.OrderStatus {
	t.Helper()
	var order models.Order
	require.NoError(t, f.conn.First(&order, "id = ?", id).Error)
	return order.Status
}

func (f fixture) available(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var item models.StockItem
	require.NoError(t, f.conn.First(&item, "id = ?", id).Error)
	return item.AvailableQty
}

func (f fixture) paymentsFor(t *testing.T, orderID uuid.UUID) []models.Payment {
	t.Helper()
	var rows []models.Payment
	require.NoError(t, f.conn.Order("created_at ASC").Find(&rows, "order_id = ?", orderID).Error)
	return rows
}

func TestCardApprovalConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, NewSandboxGateway(), time.Second)
	order, item := f.pendingOrder(t, 3)

	payment, err := svc.Process(context.Background(), ProcessInput{
		Actor:    f.buyer,
		OrderID:  order.ID,
		Method:   enums.PaymentMethodCard,
		SourceID: "cnon:card-nonce-ok",
	})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusCompleted, payment.Status)
	require.NotNil(t, payment.ProviderRef)
	require.Equal(t, "sandbox", payment.Provider)
	require.True(t, payment.Amount.Equal(order.Total))

	require.Equal(t, enums.OrderStatusConfirmed, f.orderStatus(t, order.ID))
	require.Equal(t, 2, f.available(t, item.ID))
}

func TestGatewayDeclineFailsOrderAndReleasesStock(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, NewSandboxGateway(), time.Second)
	order, item := f.pendingOrder(t, 3)
	require.Equal(t, 2, f.available(t, item.ID))

	_, err := svc.Process(context.Background(), ProcessInput{
		Actor:    f.buyer,
		OrderID:  order.ID,
		Method:   enums.PaymentMethodCard,
		SourceID: SandboxSourceDecline,
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodePaymentDeclined))

	require.Equal(t, enums.OrderStatusFailed, f.orderStatus(t, order.ID))
	require.Equal(t, 5, f.available(t, item.ID))
	rows := f.paymentsFor(t, order.ID)
	require.Len(t, rows, 1)
	require.Equal(t, enums.PaymentStatusFailed, rows[0].Status)
	require.Equal(t, "card_declined", *rows[0].FailureReason)
}

func TestMobileMoneyDeclineByPhone(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, NewSandboxGateway(), time.Second)
	order, item := f.pendingOrder(t, 1)

	_, err := svc.Process(context.Background(), ProcessInput{
		Actor:      f.buyer,
		OrderID:    order.ID,
		Method:     enums.PaymentMethodMobileMoney,
		PayerPhone: "+233200000000",
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodePaymentDeclined))
	require.Equal(t, 5, f.available(t, item.ID))

	_, err = svc.Process(context.Background(), ProcessInput{Actor: f.buyer, OrderID: order.ID, Method: enums.PaymentMethodMobileMoney})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestGatewayTimeoutFailsClosed(t *testing.T) {
	f := newFixture(t)
	gateway := &stubGateway{chargeFn: func(ctx context.Context, _ ChargeRequest) (ChargeResult, error) {
		<-ctx.Done()
		return ChargeResult{}, ctx.Err()
	}}
	svc := f.service(t, gateway, 20*time.Millisecond)
	order, item := f.pendingOrder(t, 2)

	_, err := svc.Process(context.Background(), ProcessInput{
		Actor:    f.buyer,
		OrderID:  order.ID,
		Method:   enums.PaymentMethodCard,
		SourceID: "cnon:slow",
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeGatewayTimeout))
	require.Equal(t, enums.OrderStatusFailed, f.orderStatus(t, order.ID))
	require.Equal(t, 5, f.available(t, item.ID))
	require.Equal(t, "gateway_timeout", *f.paymentsFor(t, order.ID)[0].FailureReason)
}

func TestDuplicateAndAmountChecks(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, NewSandboxGateway(), time.Second)
	order, _ := f.pendingOrder(t, 2)
	ctx := context.Background()

	wrong := decimal.RequireFromString("7.99")
	_, err := svc.Process(ctx, ProcessInput{Actor: f.buyer, OrderID: order.ID, Method: enums.PaymentMethodCash, Amount: &wrong})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeAmountMismatch))
	require.Empty(t, f.paymentsFor(t, order.ID))

	subCent := decimal.RequireFromString("8.004")
	_, err = svc.Process(ctx, ProcessInput{Actor: f.buyer, OrderID: order.ID, Method: enums.PaymentMethodCash, Amount: &subCent})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeAmountMismatch), "amounts must match exactly, got %v", err)
	require.Equal(t, map[string]any{"expected": "8.00", "received": "8.004"}, pkgerrors.As(err).Details())
	require.Empty(t, f.paymentsFor(t, order.ID))

	exact := decimal.RequireFromString("8.00")
	_, err = svc.Process(ctx, ProcessInput{Actor: f.buyer, OrderID: order.ID, Method: enums.PaymentMethodCash, Amount: &exact})
	require.NoError(t, err)

	_, err = svc.Process(ctx, ProcessInput{Actor: f.buyer, OrderID: order.ID, Method: enums.PaymentMethodCard, SourceID: "cnon:again"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeDuplicatePayment))
	require.Len(t, f.paymentsFor(t, order.ID), 1)
}

func TestProcessRequiresBuyer(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, NewSandboxGateway(), time.Second)
	order, _ := f.pendingOrder(t, 1)

	_, err := svc.Process(context.Background(), ProcessInput{Actor: f.staff, OrderID: order.ID, Method: enums.PaymentMethodCash})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	_, err = svc.Process(context.Background(), ProcessInput{Actor: f.buyer, OrderID: uuid.New(), Method: enums.PaymentMethodCash})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestCashCompletesOnlyOnDelivery(t *testing.T) {
	f := newFixture(t)
	sandbox := NewSandboxGateway()
	svc := f.service(t, sandbox, time.Second)
	order, _ := f.pendingOrder(t, 1)
	ctx := context.Background()

	payment, err := svc.Process(ctx, ProcessInput{Actor: f.buyer, OrderID: order.ID, Method: enums.PaymentMethodCash})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPending, payment.Status)
	require.Equal(t, "cash", payment.Provider)
	require.Equal(t, enums.OrderStatusConfirmed, f.orderStatus(t, order.ID))
	require.Zero(t, sandbox.Charges())

	var completed *models.Payment
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		completed, err = svc.CompleteCashPayment(ctx, tx, order.ID)
		return err
	}))
	require.Equal(t, enums.PaymentStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		again, err := svc.CompleteCashPayment(ctx, tx, order.ID)
		require.Equal(t, completed.ID, again.ID)
		return err
	}))

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", payment.ID, enums.EventPaymentCompleted).
		Count(&events).Error)
	require.Equal(t, int64(1), events)
}

func TestFacilityDeliveredCompletesCash(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, NewSandboxGateway(), time.Second)
	order, _ := f.pendingOrder(t, 1)
	ctx := context.Background()

	payment, err := svc.Process(ctx, ProcessInput{Actor: f.buyer, OrderID: order.ID, Method: enums.PaymentMethodCash})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPending, payment.Status)

	for _, target := range []enums.OrderStatus{enums.OrderStatusReady, enums.OrderStatusOutForDelivery} {
		_, err = f.orders.Advance(ctx, f.staff, order.ID, target)
		require.NoError(t, err)
		require.Equal(t, enums.PaymentStatusPending, f.paymentsFor(t, order.ID)[0].Status)
	}
	_, err = f.orders.Advance(ctx, f.staff, order.ID, enums.OrderStatusDelivered)
	require.NoError(t, err)

	require.Equal(t, enums.OrderStatusDelivered, f.orderStatus(t, order.ID))
	rows := f.paymentsFor(t, order.ID)
	require.Len(t, rows, 1)
	require.Equal(t, enums.PaymentStatusCompleted, rows[0].Status)
	require.NotNil(t, rows[0].CompletedAt)

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", payment.ID, enums.EventPaymentCompleted).
		Count(&events).Error)
	require.Equal(t, int64(1), events)
}

func TestOrderCancelledVoidsPendingPayment(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, NewSandboxGateway(), time.Second)
	order, item := f.pendingOrder(t, 2)
	ctx := context.Background()

	payment, err := svc.Process(ctx, ProcessInput{Actor: f.buyer, OrderID: order.ID, Method: enums.PaymentMethodCash})
	require.NoError(t, err)
	_, err = f.orders.Cancel(ctx, f.buyer, order.ID, "")
	require.NoError(t, err)
	require.Equal(t, 5, f.available(t, item.ID))

	voided, err := svc.OnOrderCancelled(ctx, order.ID, "")
	require.NoError(t, err)
	require.Equal(t, payment.ID, voided.ID)
	require.Equal(t, enums.PaymentStatusFailed, voided.Status)
	require.Equal(t, "order_cancelled", *voided.FailureReason)

	again, err := svc.OnOrderCancelled(ctx, order.ID, "")
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestRefundCompletedPayment(t *testing.T) {
	f := newFixture(t)
	gateway := &stubGateway{chargeFn: func(context.Context, ChargeRequest) (ChargeResult, error) {
		return ChargeResult{ProviderRef: "sq_123", Status: GatewayApproved}, nil
	}}
	svc := f.service(t, gateway, time.Second)
	order, item := f.pendingOrder(t, 2)
	ctx := context.Background()

	payment, err := svc.Process(ctx, ProcessInput{Actor: f.buyer, OrderID: order.ID, Method: enums.PaymentMethodCard, SourceID: "cnon:ok"})
	require.NoError(t, err)

	_, err = svc.Refund(ctx, f.buyer, payment.ID, "damaged")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
	_, err = svc.Refund(ctx, f.staff, payment.ID, " ")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	refunded, err := svc.Refund(ctx, f.staff, payment.ID, "damaged")
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusRefunded, refunded.Status)
	require.Equal(t, "rf_1", *refunded.RefundRef)
	require.Len(t, gateway.refunds, 1)
	require.Equal(t, "sq_123", gateway.refunds[0].ProviderRef)
	require.Equal(t, 3, f.available(t, item.ID))

	_, err = svc.Refund(ctx, f.staff, payment.ID, "again")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))
}

func TestChargeReversedWhenOrderClosesMidFlight(t *testing.T) {
	f := newFixture(t)
	order, _ := f.pendingOrder(t, 1)
	gateway := &stubGateway{}
	gateway.chargeFn = func(ctx context.Context, _ ChargeRequest) (ChargeResult, error) {
		_, err := f.orders.Cancel(ctx, f.buyer, order.ID, "changed mind")
		require.NoError(t, err)
		return ChargeResult{ProviderRef: "sq_late", Status: GatewayApproved}, nil
	}
	svc := f.service(t, gateway, time.Second)

	_, err := svc.Process(context.Background(), ProcessInput{Actor: f.buyer, OrderID: order.ID, Method: enums.PaymentMethodCard, SourceID: "cnon:ok"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))
	require.Len(t, gateway.refunds, 1)
	require.Equal(t, enums.OrderStatusCancelled, f.orderStatus(t, order.ID))
	require.Equal(t, enums.PaymentStatusRefunded, f.paymentsFor(t, order.ID)[0].Status)
}

func TestReconcileStaleSettlesOrFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gateway := &stubGateway{
		chargeFn: func(_ context.Context, req ChargeRequest) (ChargeResult, error) {
			return ChargeResult{ProviderRef: "ref_" + req.PaymentID.String(), Status: GatewayPending}, nil
		},
	}
	svc := f.service(t, gateway, time.Second)

	approvedOrder, _ := f.pendingOrder(t, 1)
	unresolvedOrder, unresolvedItem := f.pendingOrder(t, 2)
	approved, err := svc.Process(ctx, ProcessInput{Actor: f.buyer, OrderID: approvedOrder.ID, Method: enums.PaymentMethodCard, SourceID: "cnon:a"})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPending, approved.Status)
	_, err = svc.Process(ctx, ProcessInput{Actor: f.buyer, OrderID: unresolvedOrder.ID, Method: enums.PaymentMethodCard, SourceID: "cnon:b"})
	require.NoError(t, err)

	gateway.verifyFn = func(_ context.Context, ref string) (ChargeResult, error) {
		if ref == "ref_"+approved.ID.String() {
			return ChargeResult{ProviderRef: ref, Status: GatewayApproved}, nil
		}
		return ChargeResult{ProviderRef: ref, Status: GatewayPending}, nil
	}

	result, err := svc.ReconcileStale(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Equal(t, ReconcileResult{Checked: 2, Completed: 1, Failed: 1}, result)
	require.Equal(t, enums.OrderStatusConfirmed, f.orderStatus(t, approvedOrder.ID))
	require.Equal(t, enums.OrderStatusFailed, f.orderStatus(t, unresolvedOrder.ID))
	require.Equal(t, 5, f.available(t, unresolvedItem.ID))

	result, err = svc.ReconcileStale(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Zero(t, result.Checked)
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, NewSandboxGateway(), time.Second)
	order, _ := f.pendingOrder(t, 1)
	ctx := context.Background()
	payment, err := svc.Process(ctx, ProcessInput{Actor: f.buyer, OrderID: order.ID, Method: enums.PaymentMethodCash})
	require.NoError(t, err)

	got, err := svc.Get(ctx, f.staff, payment.ID)
	require.NoError(t, err)
	require.Equal(t, payment.ID, got.ID)

	byOrder, err := svc.GetForOrder(ctx, f.buyer, order.ID)
	require.NoError(t, err)
	require.Equal(t, payment.ID, byOrder.ID)

	_, err = svc.Get(ctx, auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer}, payment.ID)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
}
