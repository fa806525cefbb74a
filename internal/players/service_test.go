package players

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testDatabaseSequence int64

func newTestService(t *testing.T) *Service {
	t.Helper()
	sequence := atomic.AddInt64(&testDatabaseSequence, 1)
	dsn := fmt.Sprintf("file:players_%d?mode=memory&cache=shared", sequence)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Profile{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, Clock: func() time.Time {
		return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	}})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestUpsertCreatesProfile(t *testing.T) {
	service := newTestService(t)

	profile, err := service.Upsert(context.Background(), " odv-a ", "Rodney", "push-token-1")
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if profile.ODV != "odv-a" || profile.DisplayName != "Rodney" || profile.PushToken != "push-token-1" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestUpsertKeepsTokenWhenNewOneIsEmpty(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.Upsert(ctx, "odv-a", "Rodney", "push-token-1"); err != nil {
		t.Fatalf("initial upsert failed: %v", err)
	}
	profile, err := service.Upsert(ctx, "odv-a", "Rodney M", "")
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if profile.DisplayName != "Rodney M" {
		t.Fatalf("display name must refresh, got %q", profile.DisplayName)
	}
	if profile.PushToken != "push-token-1" {
		t.Fatalf("empty token must not clobber the stored one, got %q", profile.PushToken)
	}
}

func TestUpsertRejectsEmptyODV(t *testing.T) {
	service := newTestService(t)
	if _, err := service.Upsert(context.Background(), "   ", "Nobody", ""); err != ErrInvalidODV {
		t.Fatalf("expected ErrInvalidODV, got %v", err)
	}
}

func TestResolveReadsThroughCache(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.Upsert(ctx, "odv-a", "Rodney", "push-token-1"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	profile, found, err := service.Resolve(ctx, "odv-a")
	if err != nil || !found {
		t.Fatalf("expected cached profile, found=%v err=%v", found, err)
	}
	if profile.PushToken != "push-token-1" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	// Bypass the service to prove the second read comes from the cache.
	if err := service.db.Model(&Profile{}).Where("odv = ?", "odv-a").Update("push_token", "changed-behind-cache").Error; err != nil {
		t.Fatalf("failed to mutate row: %v", err)
	}
	profile, found, err = service.Resolve(ctx, "odv-a")
	if err != nil || !found {
		t.Fatalf("expected cached profile, found=%v err=%v", found, err)
	}
	if profile.PushToken != "push-token-1" {
		t.Fatalf("expected cached token, got %q", profile.PushToken)
	}
}

func TestResolveMissesFallBackToDatabase(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	row := Profile{ODV: "odv-b", DisplayName: "Elissa", PushToken: "push-token-2"}
	if err := service.db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}

	profile, found, err := service.Resolve(ctx, "odv-b")
	if err != nil || !found {
		t.Fatalf("expected database hit, found=%v err=%v", found, err)
	}
	if profile.DisplayName != "Elissa" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestResolveAbsentProfile(t *testing.T) {
	service := newTestService(t)

	if _, found, err := service.Resolve(context.Background(), "odv-ghost"); err != nil || found {
		t.Fatalf("absent profile must report found=false, found=%v err=%v", found, err)
	}
	if _, found, err := service.Resolve(context.Background(), "  "); err != nil || found {
		t.Fatalf("blank odv must report found=false, found=%v err=%v", found, err)
	}
}
