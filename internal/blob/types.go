// Package blob re-exports the asset locator abstractions and constructs the
// configured backend. It is the only package allowed to import the infra
// blob implementations.
package blob

import (
	"cardcore/internal/blob/core"
)

type (
	// Driver identifies an asset backend driver.
	Driver = core.Driver
	// Info describes stored asset metadata.
	Info = core.Info
	// Locator is the interface for asset backends.
	Locator = core.Locator
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrNotFound indicates a missing asset.
	ErrNotFound = core.ErrNotFound
	// ErrUnsupported indicates an operation isn't supported by a driver.
	ErrUnsupported = core.ErrUnsupported
)
