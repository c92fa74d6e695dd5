// Package images persists screenshot artifacts extracted from admission
// contexts to a flat object directory keyed by filename.
package images

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattes337/logsink/internal/observability"
)

// Store is a flat directory of image blobs.
type Store struct {
	dir    string
	logger observability.Logger
}

// NewStore creates the directory if needed.
func NewStore(dir string, logger observability.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.NewLogger("images.store")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// validName rejects names that could escape the directory.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, "/\\") && filepath.Base(name) == name
}

// Save writes an image blob.
func (s *Store) Save(name string, data []byte) error {
	if !validName(name) {
		return fmt.Errorf("invalid image filename %q", name)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write image %s: %w", name, err)
	}
	return nil
}

// Path returns the on-disk path for a stored image.
func (s *Store) Path(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("invalid image filename %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Exists reports whether an image is present.
func (s *Store) Exists(name string) bool {
	if !validName(name) {
		return false
	}
	_, err := os.Stat(filepath.Join(s.dir, name))
	return err == nil
}

// Remove deletes an image; missing files are not an error.
func (s *Store) Remove(name string) error {
	if !validName(name) {
		return fmt.Errorf("invalid image filename %q", name)
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove image %s: %w", name, err)
	}
	return nil
}

// RemoveAll deletes a set of images, logging per-item failures and
// continuing. Returns the number removed.
func (s *Store) RemoveAll(names []string) int {
	removed := 0
	for _, name := range names {
		if err := s.Remove(name); err != nil {
			s.logger.Warn("Failed to remove screenshot", map[string]any{
				"file":  name,
				"error": err.Error(),
			})
			continue
		}
		removed++
	}
	return removed
}

// List enumerates the stored image filenames.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read images directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
