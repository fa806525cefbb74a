package game

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	githubsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDatabaseSequence int64

func mustGameID(t *testing.T, value string) GameID {
	t.Helper()
	id, err := NewGameID(value)
	if err != nil {
		t.Fatalf("unexpected game id error: %v", err)
	}
	return id
}

func mustPlayerODV(t *testing.T, value string) PlayerODV {
	t.Helper()
	odv, err := NewPlayerODV(value)
	if err != nil {
		t.Fatalf("unexpected player odv error: %v", err)
	}
	return odv
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	sequence := atomic.AddInt64(&testDatabaseSequence, 1)
	dsn := fmt.Sprintf("file:game_%d?mode=memory&cache=shared", sequence)
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Session{}, &Round{}, &Dispute{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

// testClock is an adjustable clock shared by service tests.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fixedIDProvider struct {
	prefix string
	next   int64
}

func (p *fixedIDProvider) NewID() (string, error) {
	id := atomic.AddInt64(&p.next, 1)
	return fmt.Sprintf("%s-%d", p.prefix, id), nil
}

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database:        newTestDatabase(t),
		Clock:           clock.Now,
		IDProvider:      &fixedIDProvider{prefix: "id"},
		TurnTimeout:     2 * time.Minute,
		DisconnectGrace: 2 * time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, clock
}

func createTestGame(t *testing.T, service *Service, odvs ...string) GameID {
	t.Helper()
	if len(odvs) == 0 {
		odvs = []string{"odv-a", "odv-b"}
	}
	players := make([]PlayerODV, 0, len(odvs))
	for _, odv := range odvs {
		players = append(players, mustPlayerODV(t, odv))
	}
	result, err := service.CreateSession(context.Background(), "spot-1", len(odvs), players)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if !result.Success || result.Game == nil {
		t.Fatalf("unexpected create envelope: %+v", result)
	}
	return mustGameID(t, result.Game.ID)
}

func loadSession(t *testing.T, service *Service, gameID GameID) Session {
	t.Helper()
	var session Session
	if err := service.db.Where("id = ?", gameID.String()).Take(&session).Error; err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	return session
}
