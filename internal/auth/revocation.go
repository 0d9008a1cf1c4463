package auth

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevokedToken records a logged-out token id until its natural expiry.
type RevokedToken struct {
	TokenID          string `gorm:"column:jti;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;index"`
	ExpiresAtSeconds int64  `gorm:"column:expires_at_s;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (RevokedToken) TableName() string {
	return "revoked_tokens"
}

// RevocationStore persists revoked token ids so logout outlives the process.
type RevocationStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewRevocationStore constructs the store.
func NewRevocationStore(db *gorm.DB, clock func() time.Time) (*RevocationStore, error) {
	if db == nil {
		return nil, errors.New("auth: database handle is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &RevocationStore{db: db, clock: clock}, nil
}

// Revoke marks the token id as revoked and drops rows that have outlived
// their token's expiry. Revoking an already revoked token is a no-op.
func (s *RevocationStore) Revoke(ctx context.Context, tokenID, userID string, expiresAt time.Time) error {
	if tokenID == "" {
		return errors.New("auth: token id is required")
	}
	record := RevokedToken{
		TokenID:          tokenID,
		UserID:           userID,
		ExpiresAtSeconds: expiresAt.UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("expires_at_s < ?", s.clock().UTC().Unix()).
		Delete(&RevokedToken{}).Error
}

// IsRevoked reports whether the token id has been revoked.
func (s *RevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&RevokedToken{}).
		Where("jti = ?", tokenID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
