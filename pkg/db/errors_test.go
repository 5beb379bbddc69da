package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	pgxErr := &pgconn.PgError{Code: "23505", ConstraintName: "payments_active_order_uq"}
	pqErr := &pq.Error{Code: "23505", Constraint: "delivery_assignments_active_order_uq"}

	cases := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "pgx any", err: fmt.Errorf("insert: %w", pgxErr), want: true},
		{name: "pgx matching", err: pgxErr, constraint: "payments_active_order_uq", want: true},
		{name: "pgx other constraint", err: pgxErr, constraint: "orders_pkey", want: false},
		{name: "pq matching", err: pqErr, constraint: "delivery_assignments_active_order_uq", want: true},
		{name: "pq fk", err: &pq.Error{Code: "23503"}, want: false},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: payments.order_id"), want: true},
		{name: "plain", err: errors.New("boom"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsUniqueViolation(tc.err, tc.constraint); got != tc.want {
				t.Fatalf("expected %v got %v", tc.want, got)
			}
		})
	}
}
