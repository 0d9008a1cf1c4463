package appdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beenaround/backend/internal/feed"
	"github.com/beenaround/backend/internal/users"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingOwnerID    = errors.New("owner identifier is required")
	noOpLogger           = zap.NewNop()
)

// ConflictError reports a compare-and-swap write against a stale base
// revision. Current carries the stored blob so the caller can reconcile and
// resubmit against the winning revision.
type ConflictError struct {
	Current Blob
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("stale base revision: current revision is %d", e.Current.Revision)
}

// ServiceError wraps failures with an operation-scoped code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation-scoped failure code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "appdata.service.new"
	opGetOrCreate     = "appdata.get_or_create"
	opCompareAndSwap  = "appdata.compare_and_swap"
	opApplyPatch      = "appdata.apply_patch"
	opReplaceDocument = "appdata.replace_document"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

const (
	settingsKey   = "settings"
	visibilityKey = "travelVisibleToFriends"
)

// IDProvider issues identifiers for emitted activity rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the blob store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the versioned blob store plus the merge-based patch flow.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the blob store service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// GetOrCreate returns the owner's blob, creating a revision-0 blob with an
// empty document when none exists yet.
func (s *Service) GetOrCreate(ctx context.Context, ownerID string) (Blob, error) {
	if ownerID == "" {
		return Blob{}, newServiceError(opGetOrCreate, "missing_owner_id", errMissingOwnerID)
	}

	var blob Blob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fetched, err := s.lockOrCreate(tx, ownerID)
		if err != nil {
			return err
		}
		blob = fetched
		return nil
	})
	if err != nil {
		s.logError(opGetOrCreate, "transaction_failed", err, zap.String("owner_id", ownerID))
		return Blob{}, err
	}
	return blob, nil
}

// CompareAndSwap replaces the owner's document iff the stored revision equals
// baseRevision. On mismatch it returns a *ConflictError carrying the stored
// blob; no mutation occurs. The read-compare-write sequence runs under a row
// lock so concurrent writers for the same owner serialize.
func (s *Service) CompareAndSwap(ctx context.Context, ownerID string, baseRevision int64, doc Document, schemaVersion int64, prov Provenance) (Blob, error) {
	if ownerID == "" {
		return Blob{}, newServiceError(opCompareAndSwap, "missing_owner_id", errMissingOwnerID)
	}
	if !doc.IsObject() {
		return Blob{}, newServiceError(opCompareAndSwap, "document_not_object", ErrNotObject)
	}

	var result Blob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := s.lockOrCreate(tx, ownerID)
		if err != nil {
			return err
		}
		if stored.Revision != baseRevision {
			return &ConflictError{Current: stored}
		}

		updated, err := s.writeDocument(tx, stored, doc, schemaVersion, prov)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			s.logError(opCompareAndSwap, "transaction_failed", err, zap.String("owner_id", ownerID))
		}
		return Blob{}, err
	}
	return result, nil
}

// ApplyPatch deep-merges patch into the owner's document and commits the
// result as the next revision. The same transaction mirrors the
// settings.travelVisibleToFriends flag onto the user row when the patch
// touches it and emits one data_updated activity naming the patch's top-level
// keys.
func (s *Service) ApplyPatch(ctx context.Context, ownerID string, patch Document, prov Provenance) (Blob, error) {
	if ownerID == "" {
		return Blob{}, newServiceError(opApplyPatch, "missing_owner_id", errMissingOwnerID)
	}
	if !patch.IsObject() {
		return Blob{}, newServiceError(opApplyPatch, "patch_not_object", ErrNotObject)
	}

	var result Blob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := s.lockOrCreate(tx, ownerID)
		if err != nil {
			return err
		}

		base, err := stored.Document()
		if err != nil {
			return newServiceError(opApplyPatch, "stored_document_invalid", err)
		}

		merged := Merge(base, patch)
		updated, err := s.writeDocument(tx, stored, merged, stored.SchemaVersion, prov)
		if err != nil {
			return err
		}

		if visible, ok := patchVisibility(patch); ok {
			if err := tx.Model(&users.User{}).
				Where("id = ?", ownerID).
				Update("travel_visible_to_friends", visible).Error; err != nil {
				return newServiceError(opApplyPatch, "visibility_mirror_failed", err)
			}
		}

		if err := s.recordActivity(tx, ownerID, patch); err != nil {
			return err
		}

		result = updated
		return nil
	})
	if err != nil {
		s.logError(opApplyPatch, "transaction_failed", err, zap.String("owner_id", ownerID))
		return Blob{}, err
	}
	return result, nil
}

// ReplaceDocument overwrites the owner's document unconditionally, advancing
// the revision by 1. Used by the app-data reset endpoint.
func (s *Service) ReplaceDocument(ctx context.Context, ownerID string, doc Document, prov Provenance) (Blob, error) {
	if ownerID == "" {
		return Blob{}, newServiceError(opReplaceDocument, "missing_owner_id", errMissingOwnerID)
	}
	if !doc.IsObject() {
		return Blob{}, newServiceError(opReplaceDocument, "document_not_object", ErrNotObject)
	}

	var result Blob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := s.lockOrCreate(tx, ownerID)
		if err != nil {
			return err
		}
		updated, err := s.writeDocument(tx, stored, doc, stored.SchemaVersion, prov)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		s.logError(opReplaceDocument, "transaction_failed", err, zap.String("owner_id", ownerID))
		return Blob{}, err
	}
	return result, nil
}

// lockOrCreate fetches the owner's blob row under an exclusive lock, creating
// the revision-0 row first when absent.
func (s *Service) lockOrCreate(tx *gorm.DB, ownerID string) (Blob, error) {
	var blob Blob
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ?", ownerID).
		Take(&blob).Error
	if err == nil {
		return blob, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Blob{}, newServiceError(opGetOrCreate, "blob_select_failed", err)
	}

	now := s.clock().UTC().Unix()
	blob = Blob{
		OwnerID:          ownerID,
		SchemaVersion:    0,
		Revision:         0,
		DocumentJSON:     "{}",
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&blob).Error; err != nil {
		return Blob{}, newServiceError(opGetOrCreate, "blob_create_failed", err)
	}
	// A concurrent creator may have won the insert; re-read under the lock.
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ?", ownerID).
		Take(&blob).Error; err != nil {
		return Blob{}, newServiceError(opGetOrCreate, "blob_reselect_failed", err)
	}
	return blob, nil
}

func (s *Service) writeDocument(tx *gorm.DB, stored Blob, doc Document, schemaVersion int64, prov Provenance) (Blob, error) {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return Blob{}, newServiceError(opCompareAndSwap, "document_encode_failed", err)
	}

	updated := stored
	updated.Revision = stored.Revision + 1
	updated.SchemaVersion = schemaVersion
	updated.DocumentJSON = string(encoded)
	updated.LastWriterDevice = prov.DeviceID
	updated.LastWriteClientTimeMs = prov.ClientTimeMs
	updated.UpdatedAtSeconds = s.clock().UTC().Unix()

	if err := tx.Save(&updated).Error; err != nil {
		return Blob{}, newServiceError(opCompareAndSwap, "blob_save_failed", err)
	}
	return updated, nil
}

func (s *Service) recordActivity(tx *gorm.DB, ownerID string, patch Document) error {
	activityID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(opApplyPatch, "id_generation_failed", err)
	}

	payload := struct {
		ChangedKeys []string `json:"changed_keys"`
	}{ChangedKeys: patch.Keys()}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return newServiceError(opApplyPatch, "activity_payload_encode_failed", err)
	}

	activity := feed.NewActivity(activityID, ownerID, feed.KindDataUpdated, string(encoded), s.clock())
	if err := tx.Create(&activity).Error; err != nil {
		return newServiceError(opApplyPatch, "activity_insert_failed", err)
	}
	return nil
}

// patchVisibility reports the mirrored visibility value when the patch
// carries a boolean at settings.travelVisibleToFriends.
func patchVisibility(patch Document) (bool, bool) {
	value, ok := patch.FieldAt(settingsKey, visibilityKey)
	if !ok {
		return false, false
	}
	return value.BoolValue()
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("app data service error", attrs...)
}
