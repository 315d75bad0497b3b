package activity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "activity.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return service
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected constructor to reject missing database")
	}
}

func TestRecordAndRecentOrdersNewestFirst(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	current := base
	service.clock = func() time.Time { return current }

	service.Record(ctx, KindTokenIssued, "txn_1", "confirm")
	current = base.Add(time.Minute)
	service.Record(ctx, KindReportDelivered, "txn_1", "report r1")
	current = base.Add(2 * time.Minute)
	service.Record(ctx, KindWebhookIgnored, "", "subscription.created")

	events, err := service.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != KindWebhookIgnored || events[1].Kind != KindReportDelivered {
		t.Fatalf("unexpected ordering: %#v", events)
	}
}

func TestRecordPublishesToSubscribers(t *testing.T) {
	service := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, unsubscribe := service.Dispatcher().Subscribe(ctx)
	defer unsubscribe()

	service.Record(context.Background(), KindTokenIssued, "txn_9", "")

	select {
	case event := <-stream:
		if event.Kind != KindTokenIssued || event.TransactionID != "txn_9" {
			t.Fatalf("unexpected event %#v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event on live stream")
	}
}

func TestPublishDoesNotBlockOnSlowSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, unsubscribe := dispatcher.Subscribe(ctx)
	defer unsubscribe()

	// Overrun the subscriber buffer; Publish must return regardless.
	for index := 0; index < subscriberBufferSize*2; index++ {
		dispatcher.Publish(Event{ID: "evt", Kind: KindTokenIssued})
	}
}
