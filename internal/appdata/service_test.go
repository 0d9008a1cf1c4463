package appdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/beenaround/backend/internal/feed"
	"github.com/beenaround/backend/internal/users"
)

var testDatabaseCounter int64

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:appdata_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDatabaseCounter, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&users.User{}, &Blob{}, &feed.Activity{}); err != nil {
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

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1750000000, 0) },
		IDProvider: &sequentialIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestGetOrCreateReturnsEmptyRevisionZeroBlob(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	blob, err := service.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blob.Revision != 0 {
		t.Fatalf("expected revision 0 for new blob, got %d", blob.Revision)
	}
	if blob.DocumentJSON != "{}" {
		t.Fatalf("expected empty document, got %s", blob.DocumentJSON)
	}

	again, err := service.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error on second read: %v", err)
	}
	if again.Revision != 0 || again.DocumentJSON != "{}" {
		t.Fatalf("expected repeat read to return the same blob, got %+v", again)
	}

	var count int64
	if err := db.Model(&Blob{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single blob row, got %d", count)
	}
}

func TestApplyPatchAdvancesRevisionByOne(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	patches := []string{
		`{"visited":{"FR":true}}`,
		`{"visited":{"JP":true}}`,
		`{"settings":{"units":"km"}}`,
	}
	for i, payload := range patches {
		patch := mustParseObject(t, payload)
		blob, err := service.ApplyPatch(context.Background(), "user-1", patch, Provenance{})
		if err != nil {
			t.Fatalf("patch %d failed: %v", i, err)
		}
		if blob.Revision != int64(i+1) {
			t.Fatalf("expected revision %d after patch %d, got %d", i+1, i, blob.Revision)
		}
	}

	final, err := service.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	doc, err := final.Document()
	if err != nil {
		t.Fatalf("stored document invalid: %v", err)
	}
	if _, ok := doc.FieldAt("visited", "FR"); !ok {
		t.Fatalf("expected earlier patch keys to survive later patches")
	}
	if _, ok := doc.FieldAt("visited", "JP"); !ok {
		t.Fatalf("expected merged sibling key to survive")
	}
	if _, ok := doc.FieldAt("settings", "units"); !ok {
		t.Fatalf("expected final patch key to be present")
	}
}

func TestApplyPatchMirrorsVisibilityFlag(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	account := users.User{
		ID:                     "user-1",
		FirstName:              "Ada",
		LastName:               "Lovelace",
		Username:               "ada",
		Email:                  "ada@example.com",
		PasswordHash:           "x",
		TravelVisibleToFriends: true,
	}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	patch := mustParseObject(t, `{"settings":{"travelVisibleToFriends":false}}`)
	if _, err := service.ApplyPatch(context.Background(), "user-1", patch, Provenance{}); err != nil {
		t.Fatalf("patch failed: %v", err)
	}

	var stored users.User
	if err := db.Where("id = ?", "user-1").Take(&stored).Error; err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if stored.TravelVisibleToFriends {
		t.Fatalf("expected visibility flag mirrored to false")
	}

	// A patch not touching the flag must leave the mirror alone.
	other := mustParseObject(t, `{"visited":{"BR":true}}`)
	if _, err := service.ApplyPatch(context.Background(), "user-1", other, Provenance{}); err != nil {
		t.Fatalf("second patch failed: %v", err)
	}
	if err := db.Where("id = ?", "user-1").Take(&stored).Error; err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if stored.TravelVisibleToFriends {
		t.Fatalf("expected mirror to remain false after unrelated patch")
	}
}

func TestApplyPatchEmitsDataUpdatedActivity(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	patch := mustParseObject(t, `{"visited":{"IT":true},"settings":{"units":"km"}}`)
	if _, err := service.ApplyPatch(context.Background(), "user-1", patch, Provenance{}); err != nil {
		t.Fatalf("patch failed: %v", err)
	}

	var activities []feed.Activity
	if err := db.Find(&activities).Error; err != nil {
		t.Fatalf("activity query failed: %v", err)
	}
	if len(activities) != 1 {
		t.Fatalf("expected one activity, got %d", len(activities))
	}
	activity := activities[0]
	if activity.ActorUserID != "user-1" {
		t.Fatalf("unexpected actor: %s", activity.ActorUserID)
	}
	if activity.Kind != feed.KindDataUpdated {
		t.Fatalf("unexpected kind: %s", activity.Kind)
	}
	if activity.ExpiresAtSeconds != activity.CreatedAtSeconds+int64(feed.DefaultActivityTTL.Seconds()) {
		t.Fatalf("expected expiry %v after creation, got created=%d expires=%d",
			feed.DefaultActivityTTL, activity.CreatedAtSeconds, activity.ExpiresAtSeconds)
	}

	var payload struct {
		ChangedKeys []string `json:"changed_keys"`
	}
	if err := json.Unmarshal([]byte(activity.PayloadJSON), &payload); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if len(payload.ChangedKeys) != 2 || payload.ChangedKeys[0] != "settings" || payload.ChangedKeys[1] != "visited" {
		t.Fatalf("expected sorted top level patch keys, got %v", payload.ChangedKeys)
	}
}

func TestCompareAndSwapAcceptsMatchingBaseRevision(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	doc := mustParseObject(t, `{"visited":{"DE":true}}`)
	blob, err := service.CompareAndSwap(context.Background(), "user-1", 0, doc, 2, Provenance{DeviceID: "phone", ClientTimeMs: 1234})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blob.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", blob.Revision)
	}
	if blob.SchemaVersion != 2 {
		t.Fatalf("expected schema version 2, got %d", blob.SchemaVersion)
	}
	if blob.LastWriterDevice != "phone" || blob.LastWriteClientTimeMs != 1234 {
		t.Fatalf("expected provenance stored, got %+v", blob)
	}
}

func TestCompareAndSwapRejectsStaleBaseRevision(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	first := mustParseObject(t, `{"winner":true}`)
	if _, err := service.CompareAndSwap(context.Background(), "user-1", 0, first, 1, Provenance{}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	stale := mustParseObject(t, `{"loser":true}`)
	_, err := service.CompareAndSwap(context.Background(), "user-1", 0, stale, 1, Provenance{})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Current.Revision != 1 {
		t.Fatalf("expected conflict to carry the winning revision 1, got %d", conflict.Current.Revision)
	}
	if _, ok := mustBlobDocument(t, conflict.Current).Field("winner"); !ok {
		t.Fatalf("expected conflict to carry the winner's document")
	}

	stored, err := service.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if stored.Revision != 1 {
		t.Fatalf("stale write must not mutate state, revision is %d", stored.Revision)
	}
	if _, ok := mustBlobDocument(t, stored).Field("loser"); ok {
		t.Fatalf("stale document leaked into storage")
	}
}

func TestReplaceDocumentResetsWithoutRevisionReset(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	patch := mustParseObject(t, `{"visited":{"FR":true}}`)
	if _, err := service.ApplyPatch(context.Background(), "user-1", patch, Provenance{}); err != nil {
		t.Fatalf("patch failed: %v", err)
	}

	blob, err := service.ReplaceDocument(context.Background(), "user-1", EmptyObject(), Provenance{})
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if blob.Revision != 2 {
		t.Fatalf("expected reset to advance revision to 2, got %d", blob.Revision)
	}
	if blob.DocumentJSON != "{}" {
		t.Fatalf("expected empty document after reset, got %s", blob.DocumentJSON)
	}
}

func TestApplyPatchRejectsNonObjectPatch(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	_, err := service.ApplyPatch(context.Background(), "user-1", String("nope"), Provenance{})
	if !errors.Is(err, ErrNotObject) {
		t.Fatalf("expected ErrNotObject, got %v", err)
	}
}

func mustBlobDocument(t *testing.T, blob Blob) Document {
	t.Helper()
	doc, err := blob.Document()
	if err != nil {
		t.Fatalf("stored document invalid: %v", err)
	}
	return doc
}
