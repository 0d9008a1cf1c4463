package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingIDProvider   = errors.New("id provider is required")
	errMissingFriendLister = errors.New("friend lister is required")
	errMissingViewerID     = errors.New("viewer identifier is required")
	noOpLogger             = zap.NewNop()

	// ErrActivityNotFound indicates the referenced activity does not exist,
	// including activities already swept as expired.
	ErrActivityNotFound = errors.New("feed: activity not found")
	// ErrInvalidReaction indicates a reaction label that is empty or too long.
	ErrInvalidReaction = errors.New("feed: invalid reaction label")
)

const maxReactionLength = 16

// DefaultFeedLimit caps how many activities a single feed read returns. There
// is no pagination cursor beyond this limit.
const DefaultFeedLimit = 200

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
	opServiceNew   = "feed.service.new"
	opPurgeExpired = "feed.purge_expired"
	opGetFeed      = "feed.get_feed"
	opReact        = "feed.react"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// FriendLister resolves the viewer's friend set for feed filtering.
type FriendLister interface {
	ListFriendIDs(ctx context.Context, userID string) ([]string, error)
}

// IDProvider issues identifiers for reaction rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the feed engine.
type ServiceConfig struct {
	Database     *gorm.DB
	FriendLister FriendLister
	Clock        func() time.Time
	IDProvider   IDProvider
	Logger       *zap.Logger
}

// Service records, serves and expires friend-visible activities.
type Service struct {
	db         *gorm.DB
	friends    FriendLister
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the feed engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.FriendLister == nil {
		return nil, newServiceError(opServiceNew, "missing_friend_lister", errMissingFriendLister)
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
		friends:    cfg.FriendLister,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// PurgeExpired deletes reactions belonging to expired activities and then the
// activities themselves. Idempotent; concurrent redundant runs are benign.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) error {
	cutoff := now.UTC().Unix()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("activity_id IN (?)", tx.Model(&Activity{}).Select("id").Where("expires_at_s < ?", cutoff)).
			Delete(&Reaction{}).Error; err != nil {
			return err
		}
		return tx.Where("expires_at_s < ?", cutoff).Delete(&Activity{}).Error
	})
	if err != nil {
		s.logError(opPurgeExpired, "delete_failed", err)
		return newServiceError(opPurgeExpired, "delete_failed", err)
	}
	return nil
}

// GetFeed returns unexpired activities authored by the viewer's friends,
// newest first, capped at DefaultFeedLimit, with per-label reaction counts
// attached. Expired rows are swept before the read. A viewer with no friends
// gets an empty feed.
func (s *Service) GetFeed(ctx context.Context, viewerID string) ([]Item, error) {
	if viewerID == "" {
		return nil, newServiceError(opGetFeed, "missing_viewer_id", errMissingViewerID)
	}

	now := s.clock().UTC()
	if err := s.PurgeExpired(ctx, now); err != nil {
		return nil, err
	}

	friendIDs, err := s.friends.ListFriendIDs(ctx, viewerID)
	if err != nil {
		s.logError(opGetFeed, "friend_lookup_failed", err, zap.String("viewer_id", viewerID))
		return nil, newServiceError(opGetFeed, "friend_lookup_failed", err)
	}
	if len(friendIDs) == 0 {
		return []Item{}, nil
	}

	var activities []Activity
	if err := s.db.WithContext(ctx).
		Where("actor_user_id IN ? AND expires_at_s >= ?", friendIDs, now.Unix()).
		Order("created_at_s DESC").
		Limit(DefaultFeedLimit).
		Find(&activities).Error; err != nil {
		s.logError(opGetFeed, "activity_query_failed", err, zap.String("viewer_id", viewerID))
		return nil, newServiceError(opGetFeed, "activity_query_failed", err)
	}
	if len(activities) == 0 {
		return []Item{}, nil
	}

	counts, err := s.reactionCounts(ctx, activities)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(activities))
	for _, activity := range activities {
		reactions := counts[activity.ID]
		if reactions == nil {
			reactions = map[string]int64{}
		}
		items = append(items, Item{
			ID:               activity.ID,
			ActorUserID:      activity.ActorUserID,
			Kind:             activity.Kind,
			PayloadJSON:      activity.PayloadJSON,
			CreatedAtSeconds: activity.CreatedAtSeconds,
			ExpiresAtSeconds: activity.ExpiresAtSeconds,
			Reactions:        reactions,
		})
	}
	return items, nil
}

// React upserts the single reaction row the user may hold on the activity.
// A repeat reaction overwrites the label in place.
func (s *Service) React(ctx context.Context, activityID, userID, label string) error {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return newServiceError(opReact, "empty_label", ErrInvalidReaction)
	}
	if len(trimmed) > maxReactionLength {
		return newServiceError(opReact, "label_too_long", ErrInvalidReaction)
	}
	if activityID == "" || userID == "" {
		return newServiceError(opReact, "missing_identifier", ErrActivityNotFound)
	}

	var activity Activity
	err := s.db.WithContext(ctx).Where("id = ?", activityID).Take(&activity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrActivityNotFound
	}
	if err != nil {
		s.logError(opReact, "activity_select_failed", err, zap.String("activity_id", activityID))
		return newServiceError(opReact, "activity_select_failed", err)
	}

	reactionID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(opReact, "id_generation_failed", err)
	}

	reaction := Reaction{
		ID:               reactionID,
		ActivityID:       activityID,
		UserID:           userID,
		Label:            trimmed,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "activity_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"label": trimmed, "created_at_s": reaction.CreatedAtSeconds}),
	}).Create(&reaction).Error; err != nil {
		s.logError(opReact, "reaction_upsert_failed", err,
			zap.String("activity_id", activityID),
			zap.String("user_id", userID))
		return newServiceError(opReact, "reaction_upsert_failed", err)
	}
	return nil
}

func (s *Service) reactionCounts(ctx context.Context, activities []Activity) (map[string]map[string]int64, error) {
	ids := make([]string, 0, len(activities))
	for _, activity := range activities {
		ids = append(ids, activity.ID)
	}

	type countRow struct {
		ActivityID string
		Label      string
		Total      int64
	}
	var rows []countRow
	if err := s.db.WithContext(ctx).Model(&Reaction{}).
		Select("activity_id, label, COUNT(*) AS total").
		Where("activity_id IN ?", ids).
		Group("activity_id").
		Group("label").
		Scan(&rows).Error; err != nil {
		s.logError(opGetFeed, "reaction_query_failed", err)
		return nil, newServiceError(opGetFeed, "reaction_query_failed", err)
	}

	counts := make(map[string]map[string]int64, len(rows))
	for _, row := range rows {
		if counts[row.ActivityID] == nil {
			counts[row.ActivityID] = map[string]int64{}
		}
		counts[row.ActivityID][row.Label] = row.Total
	}
	return counts, nil
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
	s.logger.Error("feed service error", attrs...)
}
