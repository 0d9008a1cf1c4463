package friends

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beenaround/backend/internal/users"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()

	// ErrSelfFriend indicates an attempt to befriend oneself.
	ErrSelfFriend = errors.New("friends: cannot friend yourself")
)

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
	opServiceNew    = "friends.service.new"
	opAddEdge       = "friends.add_edge"
	opRemoveEdge    = "friends.remove_edge"
	opListFriendIDs = "friends.list_friend_ids"
	opListFriends   = "friends.list_friends"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for edge rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the friend graph.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service maintains the symmetric friend graph. Every friendship is stored as
// two directed rows so either side can look up its own friend list directly.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the friend graph service.
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

// AddEdge records the friendship between two users in both directions.
// Idempotent; re-adding an existing friendship is a no-op.
func (s *Service) AddEdge(ctx context.Context, userA, userB string) error {
	if userA == "" || userB == "" {
		return newServiceError(opAddEdge, "missing_user_id", errMissingUserID)
	}
	if userA == userB {
		return ErrSelfFriend
	}

	now := s.clock().UTC().Unix()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, pair := range [][2]string{{userA, userB}, {userB, userA}} {
			edgeID, err := s.idProvider.NewID()
			if err != nil {
				return newServiceError(opAddEdge, "id_generation_failed", err)
			}
			edge := Edge{
				ID:               edgeID,
				UserID:           pair[0],
				FriendID:         pair[1],
				CreatedAtSeconds: now,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge).Error; err != nil {
				return newServiceError(opAddEdge, "edge_insert_failed", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logError(opAddEdge, "transaction_failed", err,
			zap.String("user_a", userA),
			zap.String("user_b", userB))
		return err
	}
	return nil
}

// RemoveEdge deletes both directed rows of the friendship. Removing an absent
// friendship is a no-op.
func (s *Service) RemoveEdge(ctx context.Context, userA, userB string) error {
	if userA == "" || userB == "" {
		return newServiceError(opRemoveEdge, "missing_user_id", errMissingUserID)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.
			Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)",
				userA, userB, userB, userA).
			Delete(&Edge{}).Error
	})
	if err != nil {
		s.logError(opRemoveEdge, "delete_failed", err,
			zap.String("user_a", userA),
			zap.String("user_b", userB))
		return newServiceError(opRemoveEdge, "delete_failed", err)
	}
	return nil
}

// ListFriendIDs returns the identifiers of the user's friends.
func (s *Service) ListFriendIDs(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, newServiceError(opListFriendIDs, "missing_user_id", errMissingUserID)
	}

	var friendIDs []string
	if err := s.db.WithContext(ctx).Model(&Edge{}).
		Where("user_id = ?", userID).
		Pluck("friend_id", &friendIDs).Error; err != nil {
		s.logError(opListFriendIDs, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListFriendIDs, "query_failed", err)
	}
	return friendIDs, nil
}

// ListFriends returns the public profiles of the user's friends, skipping
// deleted accounts.
func (s *Service) ListFriends(ctx context.Context, userID string) ([]users.PublicProfile, error) {
	friendIDs, err := s.ListFriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(friendIDs) == 0 {
		return []users.PublicProfile{}, nil
	}

	var records []users.User
	if err := s.db.WithContext(ctx).
		Where("id IN ? AND is_deleted = ?", friendIDs, false).
		Order("username ASC").
		Find(&records).Error; err != nil {
		s.logError(opListFriends, "user_query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListFriends, "user_query_failed", err)
	}

	profiles := make([]users.PublicProfile, 0, len(records))
	for _, record := range records {
		profiles = append(profiles, record.Public())
	}
	return profiles, nil
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
	s.logger.Error("friends service error", attrs...)
}
