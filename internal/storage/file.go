package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteJSONAtomic marshals v and replaces the file at path through a temp file and rename,
// so readers see either the old document or the new one.
func WriteJSONAtomic(path string, v any, filePerm, dirPerm os.FileMode) error {
	// Create data directory if needed
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	jsonData, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, jsonData, filePerm); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	// Rename temp file to actual file
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath) // Clean up temp file on rename failure
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// ReadJSON decodes the file at path into v. A missing file returns false and no error.
func ReadJSON(path string, v any) (bool, error) {
	jsonData, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read file: %w", err)
	}

	if err := json.Unmarshal(jsonData, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return true, nil
}
