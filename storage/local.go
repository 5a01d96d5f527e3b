package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tariffdesk-backend/models"
)

// LocalArchive implements Archive on the local filesystem
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates a new local archive instance
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalArchive{basePath: basePath}, nil
}

// Store archives a source document locally
func (a *LocalArchive) Store(ctx context.Context, kind models.DocumentKind, version, filename string, data io.Reader) (string, error) {
	key := archivePath(kind, version, filename)
	fullPath := filepath.Join(a.basePath, key)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		os.Remove(fullPath) // Clean up on error
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return key, nil
}

// Open retrieves an archived document from local storage
func (a *LocalArchive) Open(ctx context.Context, archivePath string) (io.ReadCloser, error) {
	fullPath := filepath.Join(a.basePath, archivePath)

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archived document not found: %s", archivePath)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Remove deletes an archived document from local storage
func (a *LocalArchive) Remove(ctx context.Context, archivePath string) error {
	fullPath := filepath.Join(a.basePath, archivePath)

	err := os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
