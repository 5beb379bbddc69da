package bootstrap

import (
	"context"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/medrun-backend/internal/payments"
	"github.com/angelmondragon/medrun-backend/pkg/config"
	"github.com/angelmondragon/medrun-backend/pkg/db"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "bootstrap-test", Output: io.Discard})
}

func TestNewGatewayDefaultsToSandbox(t *testing.T) {
	cfg := &config.Config{Payments: config.PaymentsConfig{Provider: "sandbox"}}

	gateway, err := NewGateway(context.Background(), cfg, testLogger())

	require.NoError(t, err)
	_, ok := gateway.(*payments.SandboxGateway)
	assert.True(t, ok)
}

func TestNewGatewayRejectsUnknownProvider(t *testing.T) {
	cfg := &config.Config{Payments: config.PaymentsConfig{Provider: "paypal"}}

	_, err := NewGateway(context.Background(), cfg, testLogger())

	require.Error(t, err)
}

func TestNewServicesWiresGraph(t *testing.T) {
	logg := testLogger()
	cfg := &config.Config{
		DB:       config.DBConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"},
		Payments: config.PaymentsConfig{Provider: "sandbox", Currency: "usd"},
	}
	client, err := db.New(context.Background(), cfg.DB, logg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	svcs, err := NewServices(context.Background(), cfg, logg, client, prometheus.NewRegistry())

	require.NoError(t, err)
	assert.NotNil(t, svcs.Orders)
	assert.NotNil(t, svcs.Payments)
	assert.NotNil(t, svcs.Deliveries)
	assert.NotNil(t, svcs.Inventory)
	assert.NotNil(t, svcs.Cart)
	assert.NotNil(t, svcs.Notifications)
	assert.NotNil(t, svcs.Outbox)
}
