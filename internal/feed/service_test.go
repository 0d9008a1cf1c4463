package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDatabaseCounter int64

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:feed_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDatabaseCounter, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Activity{}, &Reaction{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

type sequentialIDProvider struct {
	counter int64
}

func (p *sequentialIDProvider) NewID() (string, error) {
	return fmt.Sprintf("id-%d", atomic.AddInt64(&p.counter, 1)), nil
}

type staticFriendLister map[string][]string

func (l staticFriendLister) ListFriendIDs(_ context.Context, userID string) ([]string, error) {
	return l[userID], nil
}

func newTestService(t *testing.T, db *gorm.DB, friends staticFriendLister, now time.Time) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:     db,
		FriendLister: friends,
		Clock:        func() time.Time { return now },
		IDProvider:   &sequentialIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func seedActivity(t *testing.T, db *gorm.DB, id, actor string, createdAt, expiresAt int64) {
	t.Helper()
	activity := Activity{
		ID:               id,
		ActorUserID:      actor,
		Kind:             KindDataUpdated,
		PayloadJSON:      `{"changed_keys":["visited"]}`,
		CreatedAtSeconds: createdAt,
		ExpiresAtSeconds: expiresAt,
	}
	if err := db.Create(&activity).Error; err != nil {
		t.Fatalf("failed to seed activity %s: %v", id, err)
	}
}

func TestGetFeedReturnsFriendActivitiesNewestFirst(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Unix(1750000000, 0)
	service := newTestService(t, db, staticFriendLister{"viewer": {"friend-1", "friend-2"}}, now)

	seedActivity(t, db, "act-old", "friend-1", now.Unix()-300, now.Unix()+100)
	seedActivity(t, db, "act-new", "friend-2", now.Unix()-10, now.Unix()+100)
	seedActivity(t, db, "act-own", "viewer", now.Unix()-5, now.Unix()+100)
	seedActivity(t, db, "act-stranger", "stranger", now.Unix()-5, now.Unix()+100)

	items, err := service.GetFeed(context.Background(), "viewer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected two friend activities, got %d", len(items))
	}
	if items[0].ID != "act-new" || items[1].ID != "act-old" {
		t.Fatalf("expected newest first ordering, got %s then %s", items[0].ID, items[1].ID)
	}
	if items[0].Reactions == nil || len(items[0].Reactions) != 0 {
		t.Fatalf("expected empty reaction map, got %v", items[0].Reactions)
	}
}

func TestGetFeedSweepsExpiredActivities(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Unix(1750000000, 0)
	service := newTestService(t, db, staticFriendLister{"viewer": {"friend-1"}}, now)

	seedActivity(t, db, "act-live", "friend-1", now.Unix()-100, now.Unix()+100)
	seedActivity(t, db, "act-dead", "friend-1", now.Unix()-900, now.Unix()-1)
	reaction := Reaction{ID: "r-1", ActivityID: "act-dead", UserID: "viewer", Label: "wow", CreatedAtSeconds: now.Unix() - 500}
	if err := db.Create(&reaction).Error; err != nil {
		t.Fatalf("failed to seed reaction: %v", err)
	}

	items, err := service.GetFeed(context.Background(), "viewer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != "act-live" {
		t.Fatalf("expected only the live activity, got %+v", items)
	}

	var activityCount, reactionCount int64
	if err := db.Model(&Activity{}).Count(&activityCount).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if err := db.Model(&Reaction{}).Count(&reactionCount).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if activityCount != 1 {
		t.Fatalf("expected expired activity purged, %d rows remain", activityCount)
	}
	if reactionCount != 0 {
		t.Fatalf("expected orphan reactions purged, %d rows remain", reactionCount)
	}
}

func TestGetFeedWithoutFriendsIsEmpty(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Unix(1750000000, 0)
	service := newTestService(t, db, staticFriendLister{}, now)

	seedActivity(t, db, "act-1", "somebody", now.Unix()-10, now.Unix()+100)

	items, err := service.GetFeed(context.Background(), "loner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty feed, got %d items", len(items))
	}
}

func TestGetFeedAttachesReactionCounts(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Unix(1750000000, 0)
	service := newTestService(t, db, staticFriendLister{"viewer": {"friend-1"}}, now)

	seedActivity(t, db, "act-1", "friend-1", now.Unix()-10, now.Unix()+100)
	reactions := []Reaction{
		{ID: "r-1", ActivityID: "act-1", UserID: "u1", Label: "wow", CreatedAtSeconds: now.Unix()},
		{ID: "r-2", ActivityID: "act-1", UserID: "u2", Label: "wow", CreatedAtSeconds: now.Unix()},
		{ID: "r-3", ActivityID: "act-1", UserID: "u3", Label: "nice", CreatedAtSeconds: now.Unix()},
	}
	for _, reaction := range reactions {
		if err := db.Create(&reaction).Error; err != nil {
			t.Fatalf("failed to seed reaction: %v", err)
		}
	}

	items, err := service.GetFeed(context.Background(), "viewer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}
	if items[0].Reactions["wow"] != 2 || items[0].Reactions["nice"] != 1 {
		t.Fatalf("unexpected reaction counts: %v", items[0].Reactions)
	}
}

func TestReactOverwritesPreviousLabel(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Unix(1750000000, 0)
	service := newTestService(t, db, staticFriendLister{}, now)

	seedActivity(t, db, "act-1", "friend-1", now.Unix()-10, now.Unix()+100)

	if err := service.React(context.Background(), "act-1", "viewer", "wow"); err != nil {
		t.Fatalf("first reaction failed: %v", err)
	}
	if err := service.React(context.Background(), "act-1", "viewer", "nice"); err != nil {
		t.Fatalf("second reaction failed: %v", err)
	}

	var rows []Reaction
	if err := db.Where("activity_id = ?", "act-1").Find(&rows).Error; err != nil {
		t.Fatalf("reaction query failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one reaction row per user, got %d", len(rows))
	}
	if rows[0].Label != "nice" {
		t.Fatalf("expected label overwritten to nice, got %s", rows[0].Label)
	}
}

func TestReactValidatesInput(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Unix(1750000000, 0)
	service := newTestService(t, db, staticFriendLister{}, now)

	seedActivity(t, db, "act-1", "friend-1", now.Unix()-10, now.Unix()+100)

	if err := service.React(context.Background(), "act-1", "viewer", "   "); !errors.Is(err, ErrInvalidReaction) {
		t.Fatalf("expected ErrInvalidReaction for blank label, got %v", err)
	}
	if err := service.React(context.Background(), "act-1", "viewer", "thisisfartoolongforalabel"); !errors.Is(err, ErrInvalidReaction) {
		t.Fatalf("expected ErrInvalidReaction for long label, got %v", err)
	}
	if err := service.React(context.Background(), "act-missing", "viewer", "wow"); !errors.Is(err, ErrActivityNotFound) {
		t.Fatalf("expected ErrActivityNotFound, got %v", err)
	}
}

func TestPurgeExpiredIsIdempotent(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Unix(1750000000, 0)
	service := newTestService(t, db, staticFriendLister{}, now)

	seedActivity(t, db, "act-dead", "friend-1", now.Unix()-900, now.Unix()-1)

	if err := service.PurgeExpired(context.Background(), now); err != nil {
		t.Fatalf("first purge failed: %v", err)
	}
	if err := service.PurgeExpired(context.Background(), now); err != nil {
		t.Fatalf("second purge failed: %v", err)
	}

	var count int64
	if err := db.Model(&Activity{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no activities after purge, got %d", count)
	}
}
