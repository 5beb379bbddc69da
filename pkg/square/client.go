// Package square wraps the Square Payments and Refunds APIs with our
// logging, idempotency keys and error codes.
package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/medrun-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	categoryPaymentMethod = sq.ErrorCategory("PAYMENT_METHOD_ERROR")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Keys whose values never reach the logs.
var sensitiveKeys = []string{"card", "nonce", "token", "source", "cvv", "secret", "email", "phone"}

type Client struct {
	sdk        *sqclient.Client
	env        string
	baseURL    string
	locationID string
	logg       *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square logger is required")
	}
	env := strings.ToLower(strings.TrimSpace(cfg.Environment()))
	if env == "" {
		env = sandboxEnv
	}
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, fmt.Errorf("square environment must be %q or %q, got %q", sandboxEnv, productionEnv, env)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("square access token is required")
	}
	location := strings.TrimSpace(cfg.LocationID)
	if location == "" {
		return nil, errors.New("square location id is required")
	}

	c := &Client{
		sdk:        sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token)),
		env:        env,
		baseURL:    baseURL,
		locationID: location,
		logg:       logg,
	}
	logg.Info(logg.WithField(ctx, "square_env", env), "square client initialized")
	return c, nil
}

func (c *Client) Environment() string { return c.env }

// LocationID is the Square location charges are booked against.
func (c *Client) LocationID() string { return c.locationID }

// NewIdempotencyKey returns "<prefix>-<uuid>", defaulting the prefix to medrun.
func NewIdempotencyKey(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "medrun"
	}
	return prefix + "-" + uuid.NewString()
}

func keyOr(provided, prefix string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return NewIdempotencyKey(prefix)
}

func (c *Client) CreatePayment(ctx context.Context, params PaymentCreateParams) (*PaymentResult, error) {
	if params.LocationID == "" {
		params.LocationID = c.locationID
	}
	ctx = c.trace(ctx, "create_payment", map[string]any{
		"location_id":  params.LocationID,
		"reference_id": params.ReferenceID,
		"amount":       params.AmountCents,
		"source_id":    params.SourceID,
	})
	resp, err := c.sdk.Payments.Create(ctx, params.toSquareRequest(keyOr(params.IdempotencyKey, "payment.create")))
	if err != nil {
		return nil, c.fail(ctx, "create payment", err)
	}
	return c.settled(ctx, paymentResult(resp.GetPayment())), nil
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*PaymentResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square payment id is required")
	}
	ctx = c.trace(ctx, "get_payment", map[string]any{"payment_id": paymentID})
	resp, err := c.sdk.Payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: paymentID})
	if err != nil {
		return nil, c.fail(ctx, "get payment", err)
	}
	return c.settled(ctx, paymentResult(resp.GetPayment())), nil
}

// RefundPayment refunds AmountCents of a completed payment.
func (c *Client) RefundPayment(ctx context.Context, params RefundParams) (*RefundResult, error) {
	ctx = c.trace(ctx, "refund_payment", map[string]any{
		"payment_id": params.PaymentID,
		"amount":     params.AmountCents,
	})
	resp, err := c.sdk.Refunds.RefundPayment(ctx, params.toSquareRequest(keyOr(params.IdempotencyKey, "payment.refund")))
	if err != nil {
		return nil, c.fail(ctx, "refund payment", err)
	}
	result, err := refundResult(resp)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode square refund")
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{"refund_id": result.ID, "status": result.Status}), "square response")
	return result, nil
}

// trace tags ctx with the operation and redacted request fields and logs the call.
func (c *Client) trace(ctx context.Context, op string, fields map[string]any) context.Context {
	tagged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if isSensitive(k) {
			v = "[REDACTED]"
		}
		tagged[k] = v
	}
	tagged["operation"] = op
	ctx = c.logg.WithFields(ctx, tagged)
	c.logg.Info(ctx, "square request")
	return ctx
}

func (c *Client) settled(ctx context.Context, result *PaymentResult) *PaymentResult {
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{"payment_id": result.ID, "status": result.Status}), "square response")
	return result
}

func (c *Client) fail(ctx context.Context, op string, err error) error {
	mapped := mapError(err, op)
	c.logg.Error(ctx, "square call failed", mapped)
	return mapped
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

var codeByStatus = map[int]pkgerrors.Code{
	http.StatusBadRequest:          pkgerrors.CodeValidation,
	http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
	http.StatusPaymentRequired:     pkgerrors.CodePaymentDeclined,
	http.StatusForbidden:           pkgerrors.CodeForbidden,
	http.StatusNotFound:            pkgerrors.CodeNotFound,
	http.StatusRequestTimeout:      pkgerrors.CodeGatewayTimeout,
	http.StatusConflict:            pkgerrors.CodeConflict,
	http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
	http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
	http.StatusGatewayTimeout:      pkgerrors.CodeGatewayTimeout,
}

func codeForStatus(status int) pkgerrors.Code {
	if code, ok := codeByStatus[status]; ok {
		return code
	}
	if status >= 400 && status < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeDependency
}

// mapError converts SDK and transport errors to coded errors. A Square error
// body refines the status-based code.
func mapError(err error, op string) error {
	var apiErr *sqcore.APIError
	switch {
	case errors.As(err, &apiErr):
		code := codeForStatus(apiErr.StatusCode)
		if refined, ok := codeForBody(squareErrors(apiErr)); ok {
			code = refined
		}
		return pkgerrors.Wrap(code, err, "square "+op+" failed")
	case errors.Is(err, context.DeadlineExceeded):
		return pkgerrors.Wrap(pkgerrors.CodeGatewayTimeout, err, "square "+op+" timed out")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "square "+op+" failed")
	}
}

func codeForBody(errs []*sq.Error) (pkgerrors.Code, bool) {
	for _, e := range errs {
		switch {
		case e == nil:
		case e.Code == sq.ErrorCodeIdempotencyKeyReused:
			return pkgerrors.CodeIdempotency, true
		case e.Category == sq.ErrorCategoryAuthenticationError:
			return pkgerrors.CodeUnauthorized, true
		case e.Category == categoryPaymentMethod:
			return pkgerrors.CodePaymentDeclined, true
		}
	}
	return "", false
}

// squareErrors decodes the {"errors": [...]} body the SDK keeps as the
// APIError's wrapped error text.
func squareErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if json.Unmarshal([]byte(strings.TrimSpace(inner.Error())), &body) != nil {
		return nil
	}
	return body.Errors
}
