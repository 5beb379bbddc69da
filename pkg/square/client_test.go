package square

import (
	"context"
	"errors"
	"net/http"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/medrun-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
)

func TestNewClientRejectsIncompleteConfig(t *testing.T) {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "square-test"})

	cases := map[string]struct {
		cfg  config.SquareConfig
		logg *logger.Logger
	}{
		"no logger":   {config.SquareConfig{AccessToken: "tok", LocationID: "L1"}, nil},
		"no token":    {config.SquareConfig{LocationID: "L1"}, logg},
		"no location": {config.SquareConfig{AccessToken: "tok"}, logg},
		"bad env":     {config.SquareConfig{AccessToken: "tok", LocationID: "L1", Env: "staging"}, logg},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewClient(ctx, tc.cfg, tc.logg)
			assert.Error(t, err)
		})
	}
}

func TestNewClientNormalizesEnvironment(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "square-test"})
	c, err := NewClient(context.Background(), config.SquareConfig{AccessToken: "tok", LocationID: " L1 ", Env: "Production"}, logg)
	require.NoError(t, err)

	assert.Equal(t, productionEnv, c.Environment())
	assert.Equal(t, baseURLs[productionEnv], c.baseURL)
	assert.Equal(t, "L1", c.LocationID())
}

func TestIdempotencyKeys(t *testing.T) {
	assert.Equal(t, "custom-key", keyOr("custom-key", "payment.create"))
	assert.Regexp(t, `^payment\.create-[0-9a-f-]{36}$`, keyOr("  ", "payment.create"))
	assert.Regexp(t, `^medrun-`, NewIdempotencyKey(" "))
	assert.NotEqual(t, NewIdempotencyKey("x"), NewIdempotencyKey("x"))
}

func TestIsSensitive(t *testing.T) {
	for _, key := range []string{"source_id", "payer_phone", "Buyer_Email", "card_nonce"} {
		assert.True(t, isSensitive(key), key)
	}
	for _, key := range []string{"status", "amount", "reference_id"} {
		assert.False(t, isSensitive(key), key)
	}
}

func TestCodeForStatus(t *testing.T) {
	want := map[int]pkgerrors.Code{
		http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
		http.StatusForbidden:           pkgerrors.CodeForbidden,
		http.StatusNotFound:            pkgerrors.CodeNotFound,
		http.StatusConflict:            pkgerrors.CodeConflict,
		http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
		http.StatusPaymentRequired:     pkgerrors.CodePaymentDeclined,
		http.StatusBadRequest:          pkgerrors.CodeValidation,
		http.StatusTeapot:              pkgerrors.CodeValidation,
		http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
		http.StatusGatewayTimeout:      pkgerrors.CodeGatewayTimeout,
		http.StatusInternalServerError: pkgerrors.CodeDependency,
		http.StatusBadGateway:          pkgerrors.CodeDependency,
	}
	for status, code := range want {
		assert.Equal(t, code, codeForStatus(status), "status %d", status)
	}
}

func TestMapErrorUsesSquareBody(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		payload string
		want    pkgerrors.Code
	}{
		{"authentication", http.StatusUnauthorized, `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`, pkgerrors.CodeUnauthorized},
		{"key reused", http.StatusBadRequest, `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`, pkgerrors.CodeIdempotency},
		{"card declined", http.StatusBadRequest, `{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"CARD_DECLINED"}]}`, pkgerrors.CodePaymentDeclined},
		{"plain body", http.StatusNotFound, `not json`, pkgerrors.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := mapError(sqcore.NewAPIError(tc.status, errors.New(tc.payload)), "create payment")
			typed := pkgerrors.As(mapped)
			require.NotNil(t, typed)
			assert.Equal(t, tc.want, typed.Code())
		})
	}
}

func TestMapErrorTransportFailures(t *testing.T) {
	assert.True(t, pkgerrors.Is(mapError(context.DeadlineExceeded, "get payment"), pkgerrors.CodeGatewayTimeout))
	assert.True(t, pkgerrors.Is(mapError(errors.New("connection reset"), "get payment"), pkgerrors.CodeDependency))
}

func TestSquareErrorsDecodesBody(t *testing.T) {
	payload := `{"errors":[{"category":"API_ERROR","code":"BAD_REQUEST","detail":"oops"}]}`
	got := squareErrors(sqcore.NewAPIError(http.StatusBadRequest, errors.New(payload)))
	require.Len(t, got, 1)
	assert.Equal(t, sq.ErrorCodeBadRequest, got[0].GetCode())

	assert.Empty(t, squareErrors(sqcore.NewAPIError(http.StatusBadGateway, nil)))
}

func TestPaymentParamsToSquareRequest(t *testing.T) {
	req := PaymentCreateParams{
		AmountCents: 1250,
		Currency:    "usd",
		LocationID:  "L1",
		SourceID:    "cnon:card-nonce-ok",
		ReferenceID: " order-1 ",
	}.toSquareRequest("key-1")

	assert.Equal(t, "key-1", req.IdempotencyKey)
	assert.Equal(t, "cnon:card-nonce-ok", req.SourceID)
	require.NotNil(t, req.AmountMoney)
	assert.EqualValues(t, 1250, *req.AmountMoney.Amount)
	assert.Equal(t, sq.Currency("USD"), *req.AmountMoney.Currency)
	assert.Equal(t, "order-1", stringValue(req.ReferenceID))
	assert.Equal(t, "L1", stringValue(req.LocationID))
	assert.Nil(t, req.Note)
}

func TestRefundParamsToSquareRequest(t *testing.T) {
	req := RefundParams{PaymentID: "pay-1", AmountCents: 500, Reason: "damaged"}.toSquareRequest("key-2")
	assert.Equal(t, "pay-1", stringValue(req.PaymentID))
	assert.Equal(t, "damaged", stringValue(req.Reason))
	assert.Equal(t, sq.Currency("USD"), *req.AmountMoney.Currency)
}

func TestPaymentResultStatus(t *testing.T) {
	assert.True(t, (&PaymentResult{Status: "COMPLETED"}).Approved())
	assert.True(t, (&PaymentResult{Status: "FAILED"}).Failed())

	pending := &PaymentResult{Status: "PENDING"}
	assert.False(t, pending.Approved())
	assert.False(t, pending.Failed())

	var missing *PaymentResult
	assert.False(t, missing.Approved())
	assert.False(t, missing.Failed())
}

func TestRefundResultDecodes(t *testing.T) {
	type refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	got, err := refundResult(map[string]any{"refund": refund{ID: "r-1", Status: "PENDING"}})
	require.NoError(t, err)
	assert.Equal(t, &RefundResult{ID: "r-1", Status: "PENDING"}, got)
}
