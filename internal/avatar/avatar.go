// Package avatar persists avatar images as content-addressed files.
package avatar

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// ErrEmpty is returned when there is no image data to save.
var ErrEmpty = errors.New("avatar: empty image")

// Store writes avatars under a directory, one file per distinct image.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns where an image with the given content would be stored.
func (s *Store) Path(data []byte) string {
	sum := blake3.Sum256(data)
	return filepath.Join(s.dir, hex.EncodeToString(sum[:]))
}

// Save writes data and returns its path. Saving the same content twice
// returns the existing file.
func (s *Store) Save(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	path := s.Path(data)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("create avatar dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".avatar-*")
	if err != nil {
		return "", fmt.Errorf("create temp avatar: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write avatar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close avatar: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename avatar: %w", err)
	}
	return path, nil
}
