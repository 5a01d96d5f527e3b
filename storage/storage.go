package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"tariffdesk-backend/models"
)

// Archive stores raw source documents (the downloaded tariff PDFs) so a
// failed parse can be diagnosed and re-run offline without re-downloading
type Archive interface {
	// Store archives a source document and returns the archive path
	Store(ctx context.Context, kind models.DocumentKind, version, filename string, data io.Reader) (string, error)

	// Open retrieves an archived document by archive path
	Open(ctx context.Context, archivePath string) (io.ReadCloser, error)

	// Remove deletes an archived document by archive path
	Remove(ctx context.Context, archivePath string) error
}

// ArchiveType represents the archive backend type
type ArchiveType string

const (
	ArchiveTypeLocal ArchiveType = "local"
	ArchiveTypeS3    ArchiveType = "s3"
)

// ArchiveConfig holds configuration for the source archive
type ArchiveConfig struct {
	Type         ArchiveType
	LocalPath    string // for local archive
	S3Bucket     string // for S3 archive
	S3Region     string // for S3 archive
	AWSAccessKey string
	AWSSecretKey string
}

// NewArchive creates an archive instance based on configuration
func NewArchive(cfg ArchiveConfig) (Archive, error) {
	switch cfg.Type {
	case ArchiveTypeLocal:
		return NewLocalArchive(cfg.LocalPath)
	case ArchiveTypeS3:
		return NewS3Archive(cfg)
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}

// NewArchiveFromEnv creates an archive instance from environment variables
func NewArchiveFromEnv() (Archive, error) {
	archiveType := os.Getenv("ARCHIVE_TYPE")
	if archiveType == "" {
		archiveType = "local" // Default to local for development
	}

	switch ArchiveType(archiveType) {
	case ArchiveTypeLocal:
		localPath := os.Getenv("ARCHIVE_LOCAL_PATH")
		if localPath == "" {
			localPath = "./storage/sources"
		}
		return NewLocalArchive(localPath)

	case ArchiveTypeS3:
		cfg := ArchiveConfig{
			Type:         ArchiveTypeS3,
			S3Bucket:     os.Getenv("AWS_S3_BUCKET"),
			S3Region:     os.Getenv("AWS_REGION"),
			AWSAccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			AWSSecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		}
		if cfg.S3Region == "" {
			cfg.S3Region = "us-east-1"
		}
		if cfg.S3Bucket == "" {
			return nil, errors.New("AWS_S3_BUCKET environment variable is required for S3 archive")
		}
		return NewS3Archive(cfg)

	default:
		return nil, fmt.Errorf("unknown archive type: %s", archiveType)
	}
}

// archivePath builds the archive key for a source document. Documents are
// keyed by kind and version so a re-ingested version overwrites its
// previous download rather than accumulating copies.
func archivePath(kind models.DocumentKind, version, filename string) string {
	base := path.Base(filename)
	base = strings.ReplaceAll(base, " ", "_")
	if base == "" || base == "." || base == "/" {
		base = "document.pdf"
	}
	if version == "" {
		version = "unversioned"
	}
	return fmt.Sprintf("%s/%s/%s", string(kind), version, base)
}
