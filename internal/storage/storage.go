// Package storage defines the object store used for clip downloads and final
// video uploads, with a disk-backed implementation for single-host setups.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// MediaPrefix is the URL path under which LocalStore objects are served.
const MediaPrefix = "/media/"

var ErrInvalidPath = errors.New("invalid object path")

// Store moves artifact bytes in and out of object storage.
type Store interface {
	Download(ctx context.Context, url string) ([]byte, error)
	// Upload stores data under objectPath and returns its retrievable URL.
	Upload(ctx context.Context, data []byte, objectPath, contentType string) (string, error)
}

// ObjectPath returns the storage key for a project artifact.
func ObjectPath(workspaceID, projectID, name string) string {
	return path.Join("workspaces", workspaceID, "projects", projectID, name)
}

// CleanPath validates a relative object path and returns it normalized.
func CleanPath(p string) (string, error) {
	p = strings.TrimPrefix(p, "/")
	cleaned := path.Clean(p)
	if p == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// LocalStore keeps objects on disk under root. Its URLs are
// <publicBase>/media/<path>; URLs from anywhere else are fetched over HTTP.
type LocalStore struct {
	root       string
	publicBase string
	client     *http.Client
}

func NewLocalStore(root, publicBase string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalStore{
		root:       root,
		publicBase: strings.TrimRight(publicBase, "/"),
		client:     &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (s *LocalStore) Root() string {
	return s.root
}

// Resolve maps an object path to its file on disk.
func (s *LocalStore) Resolve(objectPath string) (string, error) {
	rel, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

func (s *LocalStore) Download(ctx context.Context, url string) ([]byte, error) {
	if rel, ok := strings.CutPrefix(url, s.publicBase+MediaPrefix); ok {
		p, err := s.Resolve(rel)
		if err != nil {
			return nil, err
		}
		return os.ReadFile(p)
	}
	return Fetch(ctx, s.client, url)
}

func (s *LocalStore) Upload(_ context.Context, data []byte, objectPath, _ string) (string, error) {
	p, err := s.Resolve(objectPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("commit object: %w", err)
	}

	rel, _ := CleanPath(objectPath)
	return s.publicBase + MediaPrefix + rel, nil
}

// Fetch GETs url and returns the body. Non-2xx responses are errors.
func Fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
