package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ProfilePicName is the fixed on-disk name for a user's profile picture; a
// new upload overwrites the previous one in place.
const ProfilePicName = "profile_pic"

var (
	// ErrInvalidFilename indicates a rejected upload filename.
	ErrInvalidFilename = errors.New("storage: invalid filename")
	errMissingRoot     = errors.New("storage: root directory is required")
)

// Store keeps uploaded files on local disk under a per-user subdirectory.
// Swapping in an object store later only requires replacing this type.
type Store struct {
	root string
}

// NewStore constructs a Store rooted at dir, creating the directory tree.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errMissingRoot
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &Store{root: dir}, nil
}

// SaveUpload writes the upload under the user's directory and returns the
// stored path and size.
func (s *Store) SaveUpload(userID, filename string, content io.Reader) (string, int64, error) {
	sanitized, err := sanitizeFilename(filename)
	if err != nil {
		return "", 0, err
	}
	return s.write(userID, sanitized, content)
}

// SaveProfilePic writes the user's profile picture under its fixed name.
func (s *Store) SaveProfilePic(userID string, content io.Reader) (string, int64, error) {
	return s.write(userID, ProfilePicName, content)
}

func (s *Store) write(userID, name string, content io.Reader) (string, int64, error) {
	if strings.TrimSpace(userID) == "" {
		return "", 0, fmt.Errorf("%w: empty user id", ErrInvalidFilename)
	}

	dir := filepath.Join(s.root, userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("storage: create user dir: %w", err)
	}

	target := filepath.Join(dir, name)
	file, err := os.Create(target)
	if err != nil {
		return "", 0, fmt.Errorf("storage: create file: %w", err)
	}
	written, err := io.Copy(file, content)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", 0, fmt.Errorf("storage: write file: %w", err)
	}
	return target, written, nil
}

// sanitizeFilename rejects path traversal and strips any directory prefix.
func sanitizeFilename(filename string) (string, error) {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == ".." || strings.ContainsAny(base, "/\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return base, nil
}
