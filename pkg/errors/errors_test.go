package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataTable(t *testing.T) {
	cases := map[Code]Metadata{
		CodeValidation:        {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
		CodeUnauthorized:      {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
		CodeConflict:          {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected"},
		CodeIdempotency:       {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true},
		CodeInternal:          {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", Retryable: true},
		CodeDependency:        {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "dependency unavailable", Retryable: true, DetailsAllowed: true},
		CodeInsufficientStock: {HTTPStatus: http.StatusConflict, PublicMessage: "insufficient stock", DetailsAllowed: true},
		CodeCrossFacilityCart: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "all items must come from one facility", DetailsAllowed: true},
		CodeAlreadyAssigned:   {HTTPStatus: http.StatusConflict, PublicMessage: "delivery already assigned"},
		CodeGatewayTimeout:    {HTTPStatus: http.StatusGatewayTimeout, PublicMessage: "payment gateway did not respond", DetailsAllowed: true},
		CodePaymentDeclined:   {HTTPStatus: http.StatusPaymentRequired, PublicMessage: "payment declined", DetailsAllowed: true},
	}
	for code, want := range cases {
		assert.Equal(t, want, MetadataFor(code), "code %s", code)
	}
	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
}

func TestEveryCodeHasMetadata(t *testing.T) {
	for code, meta := range metadataByCode {
		assert.NotZero(t, meta.HTTPStatus, "code %s", code)
		assert.NotEmpty(t, meta.PublicMessage, "code %s", code)
		assert.Equal(t, meta.HTTPStatus >= 500 && meta.HTTPStatus != http.StatusGatewayTimeout, meta.Retryable, "code %s", code)
	}
}

func TestErrorAccessors(t *testing.T) {
	err := New(CodeValidation, "missing quantity").WithDetails(map[string]any{"field": "quantity"})
	assert.Equal(t, CodeValidation, err.Code())
	assert.Equal(t, "missing quantity", err.Message())
	assert.Equal(t, map[string]any{"field": "quantity"}, err.Details())
	assert.Equal(t, "VALIDATION_ERROR: missing quantity", err.Error())

	var nilErr *Error
	assert.Equal(t, CodeInternal, nilErr.Code())
	assert.Nil(t, nilErr.WithDetails("ignored"))
	assert.Empty(t, nilErr.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("connection reset")
	wrapped := Wrap(CodeDependency, cause, "save order")
	require.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "DEPENDENCY_ERROR: save order: connection reset", wrapped.Error())

	assert.Nil(t, Wrap(CodeConflict, nil, "no cause").Unwrap())
}

func TestAsAndIsFindOutermostCode(t *testing.T) {
	inner := New(CodeAlreadyAssigned, "taken")
	outer := fmt.Errorf("accept offer: %w", inner)

	require.Same(t, inner, As(outer))
	assert.True(t, Is(outer, CodeAlreadyAssigned))
	assert.False(t, Is(outer, CodeNotFound))
	assert.False(t, Is(stdErrors.New("plain"), CodeInternal))
	assert.Nil(t, As(nil))

	relabelled := Wrap(CodeConflict, inner, "retry later")
	assert.True(t, Is(relabelled, CodeConflict))
	assert.False(t, Is(relabelled, CodeAlreadyAssigned))
}

func TestDumpWalksChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(CodeDependency, stdErrors.New("conn reset"), "save order"))
	d := Dump(err)
	assert.Equal(t, CodeDependency, d.Code)
	assert.Len(t, d.Chain, 3)
	assert.Empty(t, Dump(nil).TopMessage)
}

func TestPostgresDetailFromEitherDriver(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "payments_active_order_uq", TableName: "payments"}
	d := Dump(fmt.Errorf("insert payment: %w", pgErr))
	require.NotNil(t, d.Postgres)
	assert.Equal(t, "23505", d.Postgres.SQLState)
	assert.Equal(t, "payments_active_order_uq", d.Postgres.Fields()["pg_constraint"])

	got := PostgresDetail(fmt.Errorf("wrap: %w", &pq.Error{Code: "23503", Table: "order_items"}))
	require.NotNil(t, got)
	assert.Equal(t, "order_items", got.Table)

	assert.Nil(t, PostgresDetail(stdErrors.New("plain")))
}
