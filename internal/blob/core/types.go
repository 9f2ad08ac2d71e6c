// Package core defines the asset locator abstraction shared by the blob
// backends. Locators never write; avatar uploads happen elsewhere.
package core

import (
	"context"
	"errors"
	"time"
)

// Driver identifies a concrete asset backend implementation.
type Driver string

const (
	// DriverFilesystem represents the local filesystem implementation.
	DriverFilesystem Driver = "fs" // local filesystem (default, dev)
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3" // S3 / MinIO compatible
	// DriverMemory represents an in-memory implementation typically used in tests.
	DriverMemory Driver = "memory" // in-memory (tests)
)

// Info describes a stored asset.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Locator resolves storage-relative asset keys.
type Locator interface {
	// Head returns metadata for key or an error wrapping ErrNotFound.
	Head(ctx context.Context, key string) (Info, error)
	// PublicURL returns an absolute URL clients can fetch key from.
	PublicURL(ctx context.Context, key string) (string, error)
	Driver() Driver
}

var (
	// ErrNotFound is returned when an asset key does not exist.
	ErrNotFound = errors.New("asset not found")
	// ErrUnsupported is returned when an optional capability is not available.
	ErrUnsupported = errors.New("asset locator: unsupported operation")
	// ErrInvalidKey rejects empty, absolute or traversing keys.
	ErrInvalidKey = errors.New("asset locator: invalid key")
)
