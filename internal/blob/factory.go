package blob

import (
	"context"
	"fmt"
)

// Options selects and configures a Locator.
type Options struct {
	Driver        Driver
	FSRoot        string
	PublicBaseURL string
	S3            S3Config
}

// Open builds the Locator named by opts.Driver (default fs).
func Open(ctx context.Context, opts Options) (Locator, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(opts.FSRoot, opts.PublicBaseURL)
	case DriverS3:
		return NewS3(ctx, opts.S3)
	case DriverMemory:
		return NewMemory(opts.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown asset driver %s", driver)
	}
}
