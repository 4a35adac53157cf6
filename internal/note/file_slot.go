package note

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileSlot implements the Slot interface with one file per key in a directory
type FileSlot struct {
	basePath string
}

// NewFileSlot creates a new FileSlot instance
func NewFileSlot(basePath string) (*FileSlot, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &FileSlot{
		basePath: basePath,
	}, nil
}

// path maps a key to its file
func (f *FileSlot) path(key string) string {
	return filepath.Join(f.basePath, filepath.Base(key)+".json")
}

// Get reads the file for key
func (f *FileSlot) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading file: %w", err)
	}
	return data, true, nil
}

// Set replaces the file for key atomically
func (f *FileSlot) Set(key string, data []byte) error {
	tmp, err := os.CreateTemp(f.basePath, filepath.Base(key)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing file: %w", err)
	}

	if err := os.Rename(tmpName, f.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing file: %w", err)
	}
	return nil
}
