package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingHasher     = errors.New("password hasher is required")
	noOpLogger           = zap.NewNop()

	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrUsernameTaken indicates the username is already taken.
	ErrUsernameTaken = errors.New("users: username already taken")
	// ErrUserNotFound indicates no matching live account exists.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrInvalidCredentials indicates a failed login attempt.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInvalidRegistration indicates malformed registration input.
	ErrInvalidRegistration = errors.New("users: invalid registration")
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
	opServiceNew    = "users.service.new"
	opRegister      = "users.register"
	opAuthenticate  = "users.authenticate"
	opGetByID       = "users.get_by_id"
	opGetByUsername = "users.get_by_username"
	opSetProfilePic = "users.set_profile_pic"
	opSeedAdmin     = "users.seed_admin"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// PasswordHasher hashes and verifies account passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// IDProvider issues identifiers for account rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Hasher     PasswordHasher
	Logger     *zap.Logger
}

// Service manages account registration, login lookups and profile state.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	hasher     PasswordHasher
	logger     *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Hasher == nil {
		return nil, newServiceError(opServiceNew, "missing_hasher", errMissingHasher)
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
		hasher:     cfg.Hasher,
		logger:     logger,
	}, nil
}

// Registration is the input for creating a new account.
type Registration struct {
	FirstName string
	LastName  string
	Username  string
	Email     string
	Password  string
}

func (r Registration) validate() error {
	if nameLen := len(strings.TrimSpace(r.FirstName)); nameLen < 1 || nameLen > 64 {
		return fmt.Errorf("%w: first name must be 1-64 characters", ErrInvalidRegistration)
	}
	if nameLen := len(strings.TrimSpace(r.LastName)); nameLen < 1 || nameLen > 64 {
		return fmt.Errorf("%w: last name must be 1-64 characters", ErrInvalidRegistration)
	}
	if userLen := len(strings.TrimSpace(r.Username)); userLen < 3 || userLen > 32 {
		return fmt.Errorf("%w: username must be 3-32 characters", ErrInvalidRegistration)
	}
	email := strings.TrimSpace(r.Email)
	if email == "" || !strings.Contains(email, "@") || len(email) > 320 {
		return fmt.Errorf("%w: invalid email", ErrInvalidRegistration)
	}
	if passLen := len(r.Password); passLen < 6 || passLen > 128 {
		return fmt.Errorf("%w: password must be 6-128 characters", ErrInvalidRegistration)
	}
	return nil
}

// Register creates a new account with an empty app-data blob to follow.
// Email and username must be unique among live accounts.
func (s *Service) Register(ctx context.Context, input Registration) (User, error) {
	if err := input.validate(); err != nil {
		return User{}, err
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	username := strings.TrimSpace(input.Username)

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		s.logError(opRegister, "password_hash_failed", err)
		return User{}, newServiceError(opRegister, "password_hash_failed", err)
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		return User{}, newServiceError(opRegister, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	record := User{
		ID:                     userID,
		FirstName:              strings.TrimSpace(input.FirstName),
		LastName:               strings.TrimSpace(input.LastName),
		Username:               username,
		Email:                  email,
		PasswordHash:           hash,
		TravelVisibleToFriends: true,
		CreatedAtSeconds:       now,
		UpdatedAtSeconds:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).
			Where("email = ? AND is_deleted = ?", email, false).
			Count(&count).Error; err != nil {
			return newServiceError(opRegister, "email_check_failed", err)
		}
		if count > 0 {
			return ErrEmailTaken
		}
		if err := tx.Model(&User{}).
			Where("username = ? AND is_deleted = ?", username, false).
			Count(&count).Error; err != nil {
			return newServiceError(opRegister, "username_check_failed", err)
		}
		if count > 0 {
			return ErrUsernameTaken
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		if !errors.Is(err, ErrEmailTaken) && !errors.Is(err, ErrUsernameTaken) {
			s.logError(opRegister, "transaction_failed", err, zap.String("username", username))
		}
		return User{}, err
	}
	return record, nil
}

// Authenticate resolves a login identifier (email or username) and verifies
// the password. Returns ErrInvalidCredentials on any mismatch.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (User, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	var record User
	err := s.db.WithContext(ctx).
		Where("(email = ? OR username = ?) AND is_deleted = ?", strings.ToLower(trimmed), trimmed, false).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logError(opAuthenticate, "query_failed", err)
		return User{}, newServiceError(opAuthenticate, "query_failed", err)
	}

	if !s.hasher.Verify(record.PasswordHash, password) {
		return User{}, ErrInvalidCredentials
	}
	return record, nil
}

// GetByID fetches a live account by identifier.
func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	var record User
	err := s.db.WithContext(ctx).
		Where("id = ? AND is_deleted = ?", userID, false).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		s.logError(opGetByID, "query_failed", err, zap.String("user_id", userID))
		return User{}, newServiceError(opGetByID, "query_failed", err)
	}
	return record, nil
}

// GetByUsername fetches a live account by username.
func (s *Service) GetByUsername(ctx context.Context, username string) (User, error) {
	var record User
	err := s.db.WithContext(ctx).
		Where("username = ? AND is_deleted = ?", strings.TrimSpace(username), false).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		s.logError(opGetByUsername, "query_failed", err, zap.String("username", username))
		return User{}, newServiceError(opGetByUsername, "query_failed", err)
	}
	return record, nil
}

// SetProfilePicPath points the account at its stored profile picture; an
// empty path clears it.
func (s *Service) SetProfilePicPath(ctx context.Context, userID, path string) error {
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND is_deleted = ?", userID, false).
		Updates(map[string]interface{}{
			"profile_pic_path": path,
			"updated_at_s":     s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		s.logError(opSetProfilePic, "update_failed", result.Error, zap.String("user_id", userID))
		return newServiceError(opSetProfilePic, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SeedAdmin ensures a configured admin account exists and holds the admin
// flag. A concurrent worker winning the insert is tolerated.
func (s *Service) SeedAdmin(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil
	}

	normalized := strings.ToLower(strings.TrimSpace(email))
	var existing User
	err := s.db.WithContext(ctx).
		Where("email = ? AND is_deleted = ?", normalized, false).
		Take(&existing).Error
	if err == nil {
		if existing.IsAdmin {
			return nil
		}
		return s.db.WithContext(ctx).Model(&User{}).
			Where("id = ?", existing.ID).
			Update("is_admin", true).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opSeedAdmin, "query_failed", err)
		return newServiceError(opSeedAdmin, "query_failed", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return newServiceError(opSeedAdmin, "password_hash_failed", err)
	}
	userID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(opSeedAdmin, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	admin := User{
		ID:                     userID,
		FirstName:              "Admin",
		LastName:               "User",
		Username:               "admin",
		Email:                  normalized,
		PasswordHash:           hash,
		TravelVisibleToFriends: false,
		IsAdmin:                true,
		CreatedAtSeconds:       now,
		UpdatedAtSeconds:       now,
	}
	if err := s.db.WithContext(ctx).Create(&admin).Error; err != nil {
		// Another worker may have seeded first; re-check before failing.
		var recheck User
		if lookupErr := s.db.WithContext(ctx).
			Where("email = ?", normalized).
			Take(&recheck).Error; lookupErr == nil {
			return nil
		}
		s.logError(opSeedAdmin, "insert_failed", err)
		return newServiceError(opSeedAdmin, "insert_failed", err)
	}
	return nil
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
	s.logger.Error("users service error", attrs...)
}
