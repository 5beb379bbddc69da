// Package dbtest opens isolated in-memory SQLite databases with the full schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/medrun-backend/pkg/db"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
)

// Open returns a migrated database private to the calling test.
// The pool is pinned to one connection so the in-memory database survives.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_busy_timeout=5000", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
		Logger:                 gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.AutoMigrate(conn); err != nil {
		t.Fatalf("%v", err)
	}
	return conn
}

// Client wraps Open in a *db.Client for services that need WithTx.
func Client(t testing.TB) *db.Client {
	t.Helper()
	return db.FromConn(Open(t))
}

// SeedStockItem inserts a stock item for facilityID with the given on-hand quantity and price.
func SeedStockItem(t testing.TB, conn *gorm.DB, facilityID uuid.UUID, available int, price string) models.StockItem {
	t.Helper()
	item := models.StockItem{
		FacilityID:   facilityID,
		SKU:          "SKU-" + uuid.NewString()[:8],
		Name:         "Paracetamol 500mg",
		UnitPrice:    decimal.RequireFromString(price),
		AvailableQty: available,
	}
	if err := conn.Create(&item).Error; err != nil {
		t.Fatalf("seed stock item: %v", err)
	}
	return item
}
