package blob

import (
	"cardcore/internal/infra/blob/fs"
)

// NewFilesystem constructs a filesystem-backed Locator rooted at root. Keys
// are published under baseURL.
func NewFilesystem(root, baseURL string) (Locator, error) {
	return fs.New(root, baseURL)
}
