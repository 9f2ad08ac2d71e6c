// Package fs implements an asset Locator over a local directory, typically
// one served by a static file server or CDN origin.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cardcore/internal/blob/core"
)

const defaultBaseURL = "http://local.blob/"

// Store maps keys to relative file paths under root.
type Store struct {
	root    string
	baseURL string
}

// New returns a filesystem-backed locator rooted at root, creating it if
// needed. Keys are published under baseURL (default http://local.blob/).
func New(root, baseURL string) (*Store, error) {
	if root == "" {
		root = "./blobdata"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse public base url: %w", err)
	}
	return &Store{root: root, baseURL: strings.TrimSuffix(baseURL, "/") + "/"}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// sanitizeKey ensures key doesn't escape root and forbids path traversal and absolute paths.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty key", core.ErrInvalidKey)
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: contains '..'", core.ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: absolute key", core.ErrInvalidKey)
	}
	// normalize separators
	return filepath.ToSlash(filepath.Clean(key)), nil
}

// Head stats the file behind key.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return core.Info{}, err
	}
	st, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(k)))
	if errors.Is(err, fs.ErrNotExist) {
		return core.Info{}, fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	if err != nil {
		return core.Info{}, err
	}
	if st.IsDir() {
		return core.Info{}, fmt.Errorf("%w: %s is a directory", core.ErrNotFound, key)
	}
	return core.Info{
		Key:          k,
		Size:         st.Size(),
		ContentType:  mime.TypeByExtension(filepath.Ext(k)),
		LastModified: st.ModTime().UTC(),
	}, nil
}

// PublicURL returns baseURL joined with key once the file is known to exist.
func (s *Store) PublicURL(ctx context.Context, key string) (string, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return "", err
	}
	return s.baseURL + (&url.URL{Path: info.Key}).EscapedPath(), nil
}
