package blob

import (
	memorystore "cardcore/internal/infra/blob/memory"
)

// NewMemory returns an in-memory Locator suitable for tests.
func NewMemory(baseURL string) Locator { return memorystore.New(baseURL) }
