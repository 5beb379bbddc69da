package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/square"
)

// GatewayStatus is the provider's view of a charge.
type GatewayStatus string

const (
	GatewayApproved GatewayStatus = "approved"
	GatewayDeclined GatewayStatus = "declined"
	GatewayPending  GatewayStatus = "pending"
)

// ChargeRequest asks the provider to move money for one payment row.
type ChargeRequest struct {
	PaymentID      uuid.UUID
	OrderID        uuid.UUID
	Method         enums.PaymentMethod
	Amount         decimal.Decimal
	Currency       string
	SourceID       string
	PayerPhone     string
	IdempotencyKey string
}

// ChargeResult is what the provider reported for a charge or a verification.
type ChargeResult struct {
	ProviderRef string
	Status      GatewayStatus
	Reason      string
}

// RefundRequest reverses a completed charge.
type RefundRequest struct {
	ProviderRef    string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
}

type RefundResult struct {
	RefundRef string
	Status    string
}

// Gateway is the external payment provider. Calls are bounded by the caller's context.
type Gateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Verify(ctx context.Context, providerRef string) (ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

type squareAPI interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*square.PaymentResult, error)
	GetPayment(ctx context.Context, paymentID string) (*square.PaymentResult, error)
	RefundPayment(ctx context.Context, params square.RefundParams) (*square.RefundResult, error)
	LocationID() string
}

// SquareGateway charges cards and wallets through the Square Payments API.
type SquareGateway struct {
	client squareAPI
}

func NewSquareGateway(client squareAPI) (*SquareGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("square client required")
	}
	return &SquareGateway{client: client}, nil
}

func (g *SquareGateway) Name() string { return "square" }

func (g *SquareGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if strings.TrimSpace(req.SourceID) == "" {
		return ChargeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "payment source is required for square charges")
	}
	note := fmt.Sprintf("medrun order %s", req.OrderID)
	result, err := g.client.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    toCents(req.Amount),
		Currency:       req.Currency,
		LocationID:     g.client.LocationID(),
		SourceID:       req.SourceID,
		IdempotencyKey: req.IdempotencyKey,
		Note:           note,
		ReferenceID:    req.PaymentID.String(),
	})
	if err != nil {
		return ChargeResult{}, err
	}
	return chargeResultFromSquare(result), nil
}

func (g *SquareGateway) Verify(ctx context.Context, providerRef string) (ChargeResult, error) {
	if strings.TrimSpace(providerRef) == "" {
		return ChargeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "provider reference required")
	}
	result, err := g.client.GetPayment(ctx, providerRef)
	if err != nil {
		return ChargeResult{}, err
	}
	return chargeResultFromSquare(result), nil
}

func (g *SquareGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	result, err := g.client.RefundPayment(ctx, square.RefundParams{
		PaymentID:      req.ProviderRef,
		AmountCents:    toCents(req.Amount),
		Currency:       req.Currency,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{RefundRef: result.ID, Status: result.Status}, nil
}

func chargeResultFromSquare(result *square.PaymentResult) ChargeResult {
	if result == nil {
		return ChargeResult{Status: GatewayPending}
	}
	out := ChargeResult{ProviderRef: result.ID, Status: GatewayPending}
	switch {
	case result.Approved():
		out.Status = GatewayApproved
	case result.Failed():
		out.Status = GatewayDeclined
		out.Reason = strings.ToLower(result.Status)
	}
	return out
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Sandbox source ids that force a non-approval outcome.
const (
	SandboxSourceDecline = "sandbox-decline"
	SandboxSourceTimeout = "sandbox-timeout"
	SandboxSourcePending = "sandbox-pending"
)

// SandboxGateway approves every charge except the reserved sandbox source ids.
// It is used for local development and tests.
type SandboxGateway struct {
	seq     atomic.Int64
	charges atomic.Int64
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{}
}

func (g *SandboxGateway) Name() string { return "sandbox" }

// Charges reports how many charge calls reached the sandbox.
func (g *SandboxGateway) Charges() int64 { return g.charges.Load() }

func (g *SandboxGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	g.charges.Add(1)
	ref := fmt.Sprintf("sbx_%d_%s", g.seq.Add(1), req.PaymentID.String()[:8])
	switch strings.TrimSpace(req.SourceID) {
	case SandboxSourceDecline:
		return ChargeResult{ProviderRef: ref, Status: GatewayDeclined, Reason: "card_declined"}, nil
	case SandboxSourcePending:
		return ChargeResult{ProviderRef: "sbx_pending_" + req.PaymentID.String(), Status: GatewayPending}, nil
	case SandboxSourceTimeout:
		<-ctx.Done()
		return ChargeResult{}, ctx.Err()
	}
	if strings.HasSuffix(strings.TrimSpace(req.PayerPhone), "0000") {
		return ChargeResult{ProviderRef: ref, Status: GatewayDeclined, Reason: "insufficient_funds"}, nil
	}
	return ChargeResult{ProviderRef: ref, Status: GatewayApproved}, nil
}

func (g *SandboxGateway) Verify(ctx context.Context, providerRef string) (ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return ChargeResult{}, err
	}
	switch {
	case strings.HasPrefix(providerRef, "sbx_pending_"):
		return ChargeResult{ProviderRef: providerRef, Status: GatewayPending}, nil
	case strings.HasPrefix(providerRef, "sbx_"):
		return ChargeResult{ProviderRef: providerRef, Status: GatewayApproved}, nil
	}
	return ChargeResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "unknown sandbox payment")
}

func (g *SandboxGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return RefundResult{}, err
	}
	if !strings.HasPrefix(req.ProviderRef, "sbx_") {
		return RefundResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "unknown sandbox payment")
	}
	return RefundResult{RefundRef: fmt.Sprintf("sbx_refund_%d", g.seq.Add(1)), Status: "COMPLETED"}, nil
}

// classifyGatewayError maps a failed gateway call to the error surfaced to the caller.
func classifyGatewayError(err error) (pkgerrors.Code, bool) {
	if errors.Is(err, context.DeadlineExceeded) || pkgerrors.Is(err, pkgerrors.CodeGatewayTimeout) {
		return pkgerrors.CodeGatewayTimeout, true
	}
	if pkgerrors.Is(err, pkgerrors.CodePaymentDeclined) {
		return pkgerrors.CodePaymentDeclined, false
	}
	if pkgerrors.Is(err, pkgerrors.CodeValidation) {
		return pkgerrors.CodeValidation, false
	}
	return pkgerrors.CodeDependency, false
}
